package portal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Veraticus/tollkeeper/internal/browser"
	"github.com/Veraticus/tollkeeper/internal/common"
	"github.com/Veraticus/tollkeeper/internal/model"
)

// ErrDateFilterNotFound indicates the movement page has no recognizable date inputs.
var ErrDateFilterNotFound = errors.New("date filter inputs not found")

// dateInputPairs locate the "from" and "to" inputs, label proximity first.
var dateInputPairs = []struct {
	from browser.Selector
	to   browser.Selector
}{
	{
		from: browser.XPath("//label[contains(text(),'Дата с')]/following-sibling::div//input"),
		to:   browser.XPath("//label[contains(text(),'Дата по')]/following-sibling::div//input"),
	},
	{
		from: browser.CSS("input[name='date_from'], input[data-test='date-from']"),
		to:   browser.CSS("input[name='date_to'], input[data-test='date-to']"),
	},
}

var (
	rowSelector         = browser.CSS(".el-table__row")
	bodyWrapperSelector = browser.CSS("div.el-table__body-wrapper")
	pageBodySelector    = browser.CSS("body")
	datePickerSelector  = browser.CSS(".el-date-picker, [class*='date-picker']")
	datePickerOKButton  = browser.XPath("//*[contains(@class,'date-picker')]//button[span[text()='OK'] or contains(text(),'OK')]")
)

// scrollContainers are tried in order; the window scrolls when none exists.
var scrollContainers = []string{
	".el-table.el-table--fit.el-table--enable-row-hover.el-table--enable-row-transition",
	"div.el-table__body-wrapper",
}

func scrollScript() string {
	sels, _ := json.Marshal(scrollContainers)
	return fmt.Sprintf(`(() => {
	for (const sel of %s) {
		const c = document.querySelector(sel);
		if (c) { c.scrollTop = c.scrollHeight; return sel; }
	}
	window.scrollTo(0, document.body.scrollHeight);
	return "window";
})()`, sels)
}

// ExtractorOptions tunes extraction timings.
type ExtractorOptions struct {
	Stabilize   StabilizeOptions
	RowTimeout  time.Duration
	SettlePause time.Duration
	InputPause  time.Duration
	FilterPause time.Duration
}

// DefaultExtractorOptions returns the timings the portal is known to need.
func DefaultExtractorOptions() ExtractorOptions {
	return ExtractorOptions{
		Stabilize:   DefaultStabilizeOptions(),
		RowTimeout:  15 * time.Second,
		SettlePause: 500 * time.Millisecond,
		InputPause:  200 * time.Millisecond,
		FilterPause: time.Second,
	}
}

// ExtractResult holds the raw rows visible for a date range.
type ExtractResult struct {
	Rows []model.RawTrip
	// Complete is false when the table was still growing at the stabilization deadline.
	Complete bool
}

// Extractor reads trip history from an authenticated session.
type Extractor struct {
	session *Session
	opts    ExtractorOptions
}

// NewExtractor creates an extractor over session.
func NewExtractor(session *Session, opts ExtractorOptions) *Extractor {
	return &Extractor{session: session, opts: opts}
}

// Extract returns the raw rows the portal shows for the inclusive range
// [dateFrom, dateTo], both formatted DD.MM.YYYY. An empty table is a valid result.
func (e *Extractor) Extract(ctx context.Context, dateFrom, dateTo string) (result ExtractResult, err error) {
	ctx, span := tracer.Start(ctx, "portal.Extract", trace.WithAttributes(
		attribute.String("date_from", dateFrom),
		attribute.String("date_to", dateTo),
	))
	defer func() {
		span.SetAttributes(attribute.Int("rows", len(result.Rows)), attribute.Bool("complete", result.Complete))
		endSpan(span, err)
	}()

	// EnsureActive leaves the browser on the movement page.
	if err := e.session.EnsureActive(ctx); err != nil {
		return ExtractResult{}, err
	}
	d := e.session.Driver()

	if err := e.applyDateRange(ctx, dateFrom, dateTo); err != nil {
		return ExtractResult{}, fmt.Errorf("failed to apply date range %s..%s: %w", dateFrom, dateTo, err)
	}

	if err := d.WaitForElement(ctx, rowSelector, e.opts.RowTimeout); err != nil {
		if ctx.Err() != nil {
			return ExtractResult{}, ctx.Err()
		}
		slog.Info("No trip rows rendered", "date_from", dateFrom, "date_to", dateTo)
		if err := browser.Sleep(ctx, e.opts.SettlePause); err != nil {
			return ExtractResult{}, err
		}
	}

	script := scrollScript()
	stab, err := Stabilize(ctx,
		func(ctx context.Context) (int, error) { return d.Count(ctx, rowSelector) },
		func(ctx context.Context) error { return d.RunScript(ctx, script, nil) },
		e.opts.Stabilize)
	if err != nil {
		return ExtractResult{}, err
	}
	if err := browser.Sleep(ctx, e.opts.FilterPause); err != nil {
		return ExtractResult{}, err
	}

	markup, err := d.OuterHTML(ctx, bodyWrapperSelector)
	if errors.Is(err, common.ErrNotFound) {
		markup, err = d.OuterHTML(ctx, pageBodySelector)
	}
	if err != nil {
		return ExtractResult{}, fmt.Errorf("failed to read trip table: %w", err)
	}

	rows, err := ParseRows(markup)
	if err != nil {
		return ExtractResult{}, err
	}

	slog.Info("Extracted trip rows",
		"rows", len(rows),
		"rendered", stab.Rows,
		"complete", stab.Complete,
		"date_from", dateFrom,
		"date_to", dateTo)
	return ExtractResult{Rows: rows, Complete: stab.Complete}, nil
}

func (e *Extractor) applyDateRange(ctx context.Context, dateFrom, dateTo string) error {
	from, to, err := e.locateDateInputs(ctx)
	if err != nil {
		return err
	}

	for _, input := range []struct {
		sel   browser.Selector
		value string
	}{{from, dateFrom}, {to, dateTo}} {
		if err := e.enterDate(ctx, input.sel, input.value); err != nil {
			return err
		}
		if err := browser.Sleep(ctx, e.opts.SettlePause); err != nil {
			return err
		}
		e.confirmDatePicker(ctx)
	}
	return browser.Sleep(ctx, e.opts.FilterPause)
}

func (e *Extractor) locateDateInputs(ctx context.Context) (browser.Selector, browser.Selector, error) {
	d := e.session.Driver()
	for _, pair := range dateInputPairs {
		fromOK, err := d.Exists(ctx, pair.from)
		if err != nil && ctx.Err() != nil {
			return browser.Selector{}, browser.Selector{}, ctx.Err()
		}
		toOK, err := d.Exists(ctx, pair.to)
		if err != nil && ctx.Err() != nil {
			return browser.Selector{}, browser.Selector{}, ctx.Err()
		}
		if fromOK && toOK {
			return pair.from, pair.to, nil
		}
	}
	return browser.Selector{}, browser.Selector{}, ErrDateFilterNotFound
}

// enterDate types value into a date input. When the native sequence fails the
// input is activated through the DOM and filled without pressing Enter.
func (e *Extractor) enterDate(ctx context.Context, sel browser.Selector, value string) error {
	d := e.session.Driver()
	err := d.SetValue(ctx, sel, value, true)
	if err == nil || ctx.Err() != nil {
		if err == nil {
			err = browser.Sleep(ctx, e.opts.InputPause)
		}
		return err
	}

	slog.Debug("Native date entry failed, retrying through the DOM", "selector", sel.String(), "error", err)
	if err := d.JSClick(ctx, sel); err != nil {
		return err
	}
	if err := browser.Sleep(ctx, e.opts.InputPause); err != nil {
		return err
	}
	return d.SetValue(ctx, sel, value, false)
}

// confirmDatePicker presses OK on a date-picker overlay if one is open.
func (e *Extractor) confirmDatePicker(ctx context.Context) {
	d := e.session.Driver()
	if err := d.WaitForElement(ctx, datePickerSelector, 2*time.Second); err != nil {
		return
	}
	if err := d.JSClick(ctx, datePickerOKButton); err != nil {
		slog.Debug("Date picker OK button not clicked", "error", err)
	}
}
