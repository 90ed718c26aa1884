package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Veraticus/tollkeeper/internal/common"
	"github.com/Veraticus/tollkeeper/internal/normalize"
	"github.com/Veraticus/tollkeeper/internal/portal"
	"github.com/Veraticus/tollkeeper/internal/service"
	"github.com/Veraticus/tollkeeper/internal/syncer"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
	maxPage         = 1_000_000
)

type syncRequest struct {
	DateFrom string `json:"date_from" binding:"required"`
	DateTo   string `json:"date_to" binding:"required"`
}

type scanRequest struct {
	DateFrom string `json:"date_from"`
	DateTo   string `json:"date_to"`
}

type page[T any] struct {
	Items    []T `json:"items"`
	Total    int `json:"total"`
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}

func errorJSON(c *gin.Context, status int, err error) {
	c.JSON(status, gin.H{"error": err.Error(), "detail": common.Describe(err)})
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": h.Version})
}

func (h *handlers) startSync(c *gin.Context) {
	var req syncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, err)
		return
	}
	from, err := normalize.ParseInputDate(req.DateFrom, h.Location)
	if err != nil {
		errorJSON(c, http.StatusBadRequest, err)
		return
	}
	to, err := normalize.ParseInputDate(req.DateTo, h.Location)
	if err != nil {
		errorJSON(c, http.StatusBadRequest, err)
		return
	}

	switch err := h.Sync.StartSync(from, to); {
	case errors.Is(err, common.ErrSyncInProgress):
		errorJSON(c, http.StatusConflict, err)
	case errors.Is(err, syncer.ErrInvalidRange):
		errorJSON(c, http.StatusBadRequest, err)
	case err != nil:
		errorJSON(c, http.StatusInternalServerError, err)
	default:
		c.JSON(http.StatusAccepted, gin.H{
			"status":    "started",
			"date_from": from.Format(time.DateOnly),
			"date_to":   to.Format(time.DateOnly),
		})
	}
}

func (h *handlers) syncProgress(c *gin.Context) {
	resp := gin.H{"progress": h.Sync.Progress(), "syncing": h.Sync.Syncing()}
	if result, err := h.Sync.Last(); err != nil {
		resp["last_error"] = common.Describe(err)
	} else if !result.From.IsZero() {
		resp["last_result"] = result
	}
	c.JSON(http.StatusOK, resp)
}

func (h *handlers) sessionStatus(c *gin.Context) {
	user, pass := h.HasCredentials()
	status := h.Sync.SessionStatus()
	resp := gin.H{
		"session":             status,
		"syncing":             h.Sync.Syncing(),
		"username_configured": user,
		"password_configured": pass,
	}
	if status.State == portal.StateLoggedIn {
		balance, err := h.Sync.Balance(c.Request.Context())
		if err == nil {
			resp["balance"] = balance
		} else {
			slog.Warn("Failed to read account balance", "error", err)
		}
	}
	if run, err := h.Store.GetLatestSyncRun(c.Request.Context()); err == nil {
		resp["last_sync"] = run
	} else if !errors.Is(err, common.ErrNotFound) {
		errorJSON(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *handlers) resetSession(c *gin.Context) {
	if err := h.Sync.ResetSession(); err != nil {
		errorJSON(c, http.StatusConflict, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}

func (h *handlers) importFile(c *gin.Context) {
	if h.Sync.Syncing() {
		errorJSON(c, http.StatusConflict, common.ErrSyncInProgress)
		return
	}
	header, err := c.FormFile("file")
	if err != nil {
		errorJSON(c, http.StatusBadRequest, err)
		return
	}
	f, err := header.Open()
	if err != nil {
		errorJSON(c, http.StatusBadRequest, err)
		return
	}
	defer func() {
		_ = f.Close()
	}()

	result, err := h.Importer.Import(c.Request.Context(), filepath.Base(header.Filename), f)
	switch {
	case errors.Is(err, common.ErrUnsupportedFormat):
		errorJSON(c, http.StatusBadRequest, err)
	case err != nil:
		errorJSON(c, http.StatusUnprocessableEntity, err)
	default:
		c.JSON(http.StatusOK, result)
	}
}

// window parses the optional date_from/date_to query pair into day bounds.
func (h *handlers) window(fromText, toText string) (*time.Time, *time.Time, error) {
	var start, end *time.Time
	if s := strings.TrimSpace(fromText); s != "" {
		from, err := normalize.ParseInputDate(s, h.Location)
		if err != nil {
			return nil, nil, err
		}
		b, _ := service.DateRange{Start: from, End: from}.Bounds(h.Location)
		start = &b
	}
	if s := strings.TrimSpace(toText); s != "" {
		to, err := normalize.ParseInputDate(s, h.Location)
		if err != nil {
			return nil, nil, err
		}
		_, b := service.DateRange{Start: to, End: to}.Bounds(h.Location)
		end = &b
	}
	return start, end, nil
}

// paging reads page (1-based) and page_size query parameters.
func paging(c *gin.Context) (int, int, error) {
	pageNum, size := 1, defaultPageSize
	if s := c.Query("page"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > maxPage {
			return 0, 0, fmt.Errorf("invalid page %q", s)
		}
		pageNum = n
	}
	if s := c.Query("page_size"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			return 0, 0, fmt.Errorf("invalid page_size %q", s)
		}
		size = min(n, maxPageSize)
	}
	return pageNum, size, nil
}

func (h *handlers) listTrips(c *gin.Context) {
	start, end, err := h.window(c.Query("date_from"), c.Query("date_to"))
	if err != nil {
		errorJSON(c, http.StatusBadRequest, err)
		return
	}
	pageNum, size, err := paging(c)
	if err != nil {
		errorJSON(c, http.StatusBadRequest, err)
		return
	}
	filter := service.TripFilter{
		StartDate:   start,
		EndDate:     end,
		Transponder: strings.TrimSpace(c.Query("transponder")),
		Limit:       size,
		Offset:      (pageNum - 1) * size,
	}

	ctx := c.Request.Context()
	total, err := h.Store.CountTrips(ctx, filter)
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, err)
		return
	}
	trips, err := h.Store.GetTrips(ctx, filter)
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, newPage(trips, total, pageNum, size))
}

func (h *handlers) tripStats(c *gin.Context) {
	stats, err := h.Store.GetTripStats(c.Request.Context(), time.Now().In(h.Location))
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *handlers) listTransponders(c *gin.Context) {
	transponders, err := h.Store.GetTransponders(c.Request.Context())
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, err)
		return
	}
	if transponders == nil {
		transponders = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"transponders": transponders})
}

func (h *handlers) listViolations(c *gin.Context) {
	start, end, err := h.window(c.Query("date_from"), c.Query("date_to"))
	if err != nil {
		errorJSON(c, http.StatusBadRequest, err)
		return
	}
	pageNum, size, err := paging(c)
	if err != nil {
		errorJSON(c, http.StatusBadRequest, err)
		return
	}
	filter := service.ViolationFilter{
		StartDate:   start,
		EndDate:     end,
		Transponder: strings.TrimSpace(c.Query("transponder")),
		Limit:       size,
		Offset:      (pageNum - 1) * size,
	}

	ctx := c.Request.Context()
	total, err := h.Store.CountViolations(ctx, filter)
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, err)
		return
	}
	views, err := h.Store.GetViolations(ctx, filter)
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, newPage(views, total, pageNum, size))
}

func (h *handlers) violationStats(c *gin.Context) {
	stats, err := h.Store.GetViolationStats(c.Request.Context(), time.Now().In(h.Location))
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *handlers) scanViolations(c *gin.Context) {
	var req scanRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			errorJSON(c, http.StatusBadRequest, err)
			return
		}
	}
	start, end, err := h.window(req.DateFrom, req.DateTo)
	if err != nil {
		errorJSON(c, http.StatusBadRequest, err)
		return
	}

	created, err := h.Classifier.ScanStored(c.Request.Context(), h.Store, service.TripFilter{StartDate: start, EndDate: end})
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"created": created})
}

func newPage[T any](items []T, total, pageNum, size int) page[T] {
	if items == nil {
		items = []T{}
	}
	return page[T]{Items: items, Total: total, Page: pageNum, PageSize: size}
}
