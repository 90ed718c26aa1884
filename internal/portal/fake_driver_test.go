package portal

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/Veraticus/tollkeeper/internal/browser"
	"github.com/Veraticus/tollkeeper/internal/common"
)

// fakeDriver simulates the portal in memory. Elements are keyed by selector text.
type fakeDriver struct {
	endpoints     Endpoints
	present       map[string]bool
	texts         map[string]string
	html          map[string]string
	values        map[string]string
	username      string
	password      string
	url           string
	navigations   []string
	clicks        []string
	rowCounts     []int
	countCalls    int
	starts        int
	stops         int
	mu            sync.Mutex
	running       bool
	authenticated bool
	submitByText  bool
	startErr      error
}

func newFakeDriver(endpoints Endpoints) *fakeDriver {
	f := &fakeDriver{
		endpoints: endpoints,
		present:   map[string]bool{},
		texts:     map[string]string{},
		html:      map[string]string{},
		values:    map[string]string{},
		username:  "driver@example.com",
		password:  "secret",
	}
	f.show(UsernameStrategies[0].Selector, PasswordStrategies[0].Selector, SubmitSelector)
	return f
}

func (f *fakeDriver) show(sels ...browser.Selector) {
	for _, s := range sels {
		f.present[s.String()] = true
	}
}

func (f *fakeDriver) hide(sels ...browser.Selector) {
	for _, s := range sels {
		delete(f.present, s.String())
	}
}

func (f *fakeDriver) expire() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authenticated = false
}

func (f *fakeDriver) Start(ctx context.Context, _ browser.Options) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	if !f.running {
		f.starts++
		f.running = true
	}
	return ctx.Err()
}

func (f *fakeDriver) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.running = false
	f.authenticated = false
	f.url = ""
	f.values = map[string]string{}
}

func (f *fakeDriver) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeDriver) Navigate(_ context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running {
		return common.ErrNotInitialized
	}
	f.navigations = append(f.navigations, url)
	if url != f.endpoints.LoginURL && !f.authenticated {
		url = f.endpoints.LoginURL + "?redirect=" + url
	}
	f.url = url
	return nil
}

func (f *fakeDriver) WaitForElement(_ context.Context, sel browser.Selector, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running {
		return common.ErrNotInitialized
	}
	if f.present[sel.String()] {
		return nil
	}
	return common.ErrTimeout
}

func (f *fakeDriver) WaitForClickable(ctx context.Context, sel browser.Selector, timeout time.Duration) error {
	return f.WaitForElement(ctx, sel, timeout)
}

func (f *fakeDriver) RunScript(_ context.Context, js string, res any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running {
		return common.ErrNotInitialized
	}
	if strings.Contains(js, submitMarker) {
		found := f.submitByText
		if found {
			f.present[MarkedSubmitSelector.String()] = true
		}
		if out, ok := res.(*bool); ok {
			*out = found
		}
	}
	return nil
}

func (f *fakeDriver) Count(_ context.Context, _ browser.Selector) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.rowCounts) == 0 {
		return 0, nil
	}
	i := min(f.countCalls, len(f.rowCounts)-1)
	f.countCalls++
	return f.rowCounts[i], nil
}

func (f *fakeDriver) Exists(_ context.Context, sel browser.Selector) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.present[sel.String()], nil
}

func (f *fakeDriver) Text(_ context.Context, sel browser.Selector) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	text, ok := f.texts[sel.String()]
	if !ok {
		return "", common.ErrNotFound
	}
	return text, nil
}

func (f *fakeDriver) OuterHTML(_ context.Context, sel browser.Selector) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	markup, ok := f.html[sel.String()]
	if !ok {
		return "", common.ErrNotFound
	}
	return markup, nil
}

func (f *fakeDriver) JSClick(_ context.Context, sel browser.Selector) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.present[sel.String()] {
		return common.ErrNotFound
	}
	f.clicks = append(f.clicks, sel.String())
	if sel == SubmitSelector || sel == MarkedSubmitSelector {
		if f.filled(f.username) && f.filled(f.password) {
			f.authenticated = true
		}
	}
	return nil
}

// filled reports whether some input currently holds value.
func (f *fakeDriver) filled(value string) bool {
	for _, v := range f.values {
		if v == value {
			return true
		}
	}
	return false
}

func (f *fakeDriver) SetValue(_ context.Context, sel browser.Selector, value string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.present[sel.String()] {
		return common.ErrTimeout
	}
	f.values[sel.String()] = value
	return nil
}

func (f *fakeDriver) Location(_ context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running {
		return "", common.ErrNotInitialized
	}
	return f.url, nil
}

func testSessionOptions() SessionOptions {
	opts := DefaultSessionOptions()
	opts.SubmitPause = 0
	opts.SettlePause = 0
	opts.RetryDelay = 0
	return opts
}

func testCredentials() Credentials {
	return Credentials{Username: "driver@example.com", Password: "secret"}
}
