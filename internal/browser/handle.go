// Package browser wraps a single headless Chrome instance driven over the
// DevTools protocol.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"

	"github.com/Veraticus/tollkeeper/internal/common"
)

// DefaultActionTimeout bounds primitives that would otherwise wait on the page forever.
const DefaultActionTimeout = 10 * time.Second

// Options configures the browser process.
type Options struct {
	ExecPath     string
	UserAgent    string
	WindowWidth  int
	WindowHeight int
	Headless     bool
}

// DefaultOptions returns the options used when the configuration is silent.
func DefaultOptions() Options {
	return Options{
		Headless:     true,
		WindowWidth:  1920,
		WindowHeight: 1080,
	}
}

// Handle owns at most one live browser. Start and Stop may be called any number
// of times; every primitive fails with common.ErrNotInitialized while stopped.
type Handle struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	mu          sync.Mutex
}

// New creates a stopped handle.
func New() *Handle {
	return &Handle{}
}

// Start launches the browser. It is a no-op when the browser is already live.
func (h *Handle) Start(ctx context.Context, opts Options) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.liveLocked() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	h.stopLocked()

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if opts.WindowWidth > 0 && opts.WindowHeight > 0 {
		allocOpts = append(allocOpts, chromedp.WindowSize(opts.WindowWidth, opts.WindowHeight))
	}
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}
	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}

	// The browser outlives the caller's context; only Stop ends it.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	bctx, cancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(format string, args ...any) {
		slog.Debug(fmt.Sprintf(format, args...), "component", "browser")
	}))

	// Portal alerts would otherwise block every subsequent action.
	chromedp.ListenTarget(bctx, func(ev any) {
		if _, ok := ev.(*page.EventJavascriptDialogOpening); ok {
			go func() {
				if err := chromedp.Run(bctx, page.HandleJavaScriptDialog(true)); err != nil {
					slog.Debug("Failed to dismiss dialog", "error", err)
				}
			}()
		}
	})

	// The first Run allocates the browser and must not carry a timeout.
	if err := chromedp.Run(bctx); err != nil {
		cancel()
		allocCancel()
		return fmt.Errorf("failed to start browser: %w", err)
	}

	h.ctx = bctx
	h.cancel = cancel
	h.allocCancel = allocCancel
	slog.Info("Browser started", "headless", opts.Headless)
	return nil
}

// Stop closes the browser and releases its resources. Safe to call repeatedly.
func (h *Handle) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ctx != nil {
		slog.Info("Stopping browser")
	}
	h.stopLocked()
}

func (h *Handle) stopLocked() {
	if h.ctx != nil {
		if err := chromedp.Cancel(h.ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Debug("Browser did not close cleanly", "error", err)
		}
	}
	if h.cancel != nil {
		h.cancel()
	}
	if h.allocCancel != nil {
		h.allocCancel()
	}
	h.ctx, h.cancel, h.allocCancel = nil, nil, nil
}

// Running reports whether a browser is live.
func (h *Handle) Running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.liveLocked()
}

func (h *Handle) liveLocked() bool {
	return h.ctx != nil && h.ctx.Err() == nil
}

func (h *Handle) browserContext() (context.Context, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.liveLocked() {
		return nil, common.ErrNotInitialized
	}
	return h.ctx, nil
}

// run executes actions against the browser, cancelled by either ctx or timeout.
// A timeout surfaces as common.ErrTimeout.
func (h *Handle) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	bctx, err := h.browserContext()
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(bctx)
	defer cancel()
	if timeout > 0 {
		var cancelTimeout context.CancelFunc
		runCtx, cancelTimeout = context.WithTimeout(runCtx, timeout)
		defer cancelTimeout()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err = chromedp.Run(runCtx, actions...)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return common.ErrTimeout
	}
	return err
}

// Navigate loads url and waits for the document to be ready.
func (h *Handle) Navigate(ctx context.Context, url string) error {
	if err := h.run(ctx, 0, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

// WaitForElement blocks until sel matches a visible element.
func (h *Handle) WaitForElement(ctx context.Context, sel Selector, timeout time.Duration) error {
	if err := h.run(ctx, timeout, chromedp.WaitVisible(sel.Query, sel.queryOptions()...)); err != nil {
		return fmt.Errorf("waiting for %s: %w", sel, err)
	}
	return nil
}

// WaitForClickable blocks until sel matches a visible, enabled element.
func (h *Handle) WaitForClickable(ctx context.Context, sel Selector, timeout time.Duration) error {
	opts := sel.queryOptions()
	err := h.run(ctx, timeout,
		chromedp.WaitVisible(sel.Query, opts...),
		chromedp.WaitEnabled(sel.Query, opts...),
	)
	if err != nil {
		return fmt.Errorf("waiting for clickable %s: %w", sel, err)
	}
	return nil
}

// RunScript evaluates js in the page and decodes the result into res, which may be nil.
func (h *Handle) RunScript(ctx context.Context, js string, res any) error {
	var sink any
	if res == nil {
		res = &sink
	}
	return h.run(ctx, DefaultActionTimeout, chromedp.Evaluate(js, res))
}

// Count returns how many elements sel currently matches without waiting.
func (h *Handle) Count(ctx context.Context, sel Selector) (int, error) {
	var n int
	if err := h.RunScript(ctx, sel.nodesJS()+".length", &n); err != nil {
		return 0, err
	}
	return n, nil
}

// Exists reports whether sel currently matches anything.
func (h *Handle) Exists(ctx context.Context, sel Selector) (bool, error) {
	n, err := h.Count(ctx, sel)
	return n > 0, err
}

type firstMatch struct {
	Value string `json:"value"`
	Found bool   `json:"found"`
}

func (h *Handle) first(ctx context.Context, sel Selector, expr string) (string, error) {
	js := fmt.Sprintf(`((els) => els.length ? {found: true, value: String(%s)} : {found: false, value: ""})(%s)`,
		expr, sel.nodesJS())
	var m firstMatch
	if err := h.RunScript(ctx, js, &m); err != nil {
		return "", err
	}
	if !m.Found {
		return "", fmt.Errorf("%s: %w", sel, common.ErrNotFound)
	}
	return m.Value, nil
}

// Text returns the rendered text of the first element matching sel.
func (h *Handle) Text(ctx context.Context, sel Selector) (string, error) {
	return h.first(ctx, sel, "els[0].innerText")
}

// OuterHTML returns the markup of the first element matching sel.
func (h *Handle) OuterHTML(ctx context.Context, sel Selector) (string, error) {
	return h.first(ctx, sel, "els[0].outerHTML")
}

// JSClick clicks the first match through the DOM rather than synthesized input,
// which works even when an overlay covers the element.
func (h *Handle) JSClick(ctx context.Context, sel Selector) error {
	_, err := h.first(ctx, sel, "(els[0].scrollIntoView({block: 'center'}), els[0].click(), '')")
	return err
}

// SetValue focuses sel, clears it, types value and optionally presses Enter.
func (h *Handle) SetValue(ctx context.Context, sel Selector, value string, submit bool) error {
	opts := sel.queryOptions()
	actions := []chromedp.Action{
		chromedp.ScrollIntoView(sel.Query, opts...),
		chromedp.Click(sel.Query, opts...),
		chromedp.SetValue(sel.Query, "", opts...),
		chromedp.SendKeys(sel.Query, value, opts...),
	}
	if submit {
		actions = append(actions, chromedp.SendKeys(sel.Query, kb.Enter, opts...))
	}
	if err := h.run(ctx, DefaultActionTimeout, actions...); err != nil {
		return fmt.Errorf("failed to fill %s: %w", sel, err)
	}
	return nil
}

// Location returns the URL of the current page.
func (h *Handle) Location(ctx context.Context) (string, error) {
	var url string
	if err := h.run(ctx, DefaultActionTimeout, chromedp.Location(&url)); err != nil {
		return "", err
	}
	return url, nil
}

// Sleep pauses for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
