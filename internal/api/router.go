// Package api exposes syncs, imports and stored trips over HTTP.
package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Veraticus/tollkeeper/internal/importer"
	"github.com/Veraticus/tollkeeper/internal/portal"
	"github.com/Veraticus/tollkeeper/internal/progress"
	"github.com/Veraticus/tollkeeper/internal/service"
	"github.com/Veraticus/tollkeeper/internal/syncer"
	"github.com/Veraticus/tollkeeper/internal/violation"
)

// SyncService is the sync surface the API drives. *syncer.Manager implements it.
type SyncService interface {
	StartSync(from, to time.Time) error
	Syncing() bool
	Progress() progress.State
	Last() (syncer.Result, error)
	SessionStatus() portal.SessionStatus
	ResetSession() error
	Balance(ctx context.Context) (string, error)
}

// Importer stores an uploaded report.
type Importer interface {
	Import(ctx context.Context, filename string, r io.Reader) (importer.Result, error)
}

// Deps are the collaborators the handlers use.
type Deps struct {
	Sync           SyncService
	Importer       Importer
	Store          service.Storage
	Classifier     *violation.Classifier
	Location       *time.Location
	HasCredentials func() (username, password bool)
	Version        string
}

type handlers struct {
	Deps
}

// NewRouter builds the gin engine with every API route mounted under /api.
func NewRouter(deps Deps) *gin.Engine {
	if deps.Location == nil {
		deps.Location = time.Local
	}
	if deps.Classifier == nil {
		deps.Classifier = violation.NewDefault()
	}
	if deps.HasCredentials == nil {
		deps.HasCredentials = func() (bool, bool) { return false, false }
	}
	h := &handlers{Deps: deps}

	r := gin.New()
	r.Use(requestLogger(), gin.Recovery())
	if err := r.SetTrustedProxies(nil); err != nil {
		slog.Warn("Failed to set trusted proxies", "error", err)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":  "route not found",
			"path":   c.Request.URL.Path,
			"method": c.Request.Method,
		})
	})

	api := r.Group("/api")
	{
		api.GET("/health", h.health)

		syncs := api.Group("/sync")
		syncs.POST("", h.startSync)
		syncs.GET("/progress", h.syncProgress)

		session := api.Group("/session")
		session.GET("", h.sessionStatus)
		session.POST("/reset", h.resetSession)

		api.POST("/import", h.importFile)

		trips := api.Group("/trips")
		trips.GET("", h.listTrips)
		trips.GET("/stats", h.tripStats)
		api.GET("/transponders", h.listTransponders)

		violations := api.Group("/violations")
		violations.GET("", h.listViolations)
		violations.GET("/stats", h.violationStats)
		violations.POST("/scan", h.scanViolations)
	}
	return r
}

// requestLogger logs each request through slog.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Debug("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"ip", c.ClientIP())
	}
}
