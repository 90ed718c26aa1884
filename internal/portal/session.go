package portal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Veraticus/tollkeeper/internal/browser"
	"github.com/Veraticus/tollkeeper/internal/common"
	"github.com/Veraticus/tollkeeper/internal/service"
)

// State is the authentication state of a Session.
type State int

// Session states.
const (
	StateLoggedOut State = iota
	StateLoggingIn
	StateLoggedIn
)

func (s State) String() string {
	switch s {
	case StateLoggedOut:
		return "logged_out"
	case StateLoggingIn:
		return "logging_in"
	case StateLoggedIn:
		return "logged_in"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText renders the state by name in JSON responses.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Logout is reachable from every state and is handled separately.
var allowedTransitions = map[State][]State{
	StateLoggedOut: {StateLoggingIn},
	StateLoggingIn: {StateLoggedIn, StateLoggedOut},
	StateLoggedIn:  {StateLoggedOut},
}

// Credentials authenticate against the portal.
type Credentials struct {
	Username string
	Password string
}

// Complete reports whether both parts are present.
func (c Credentials) Complete() bool {
	return strings.TrimSpace(c.Username) != "" && c.Password != ""
}

// SessionStatus is a snapshot of the session for status endpoints.
type SessionStatus struct {
	State         State `json:"state"`
	Authenticated bool  `json:"authenticated"`
	BrowserLive   bool  `json:"browser_live"`
}

// SessionOptions tunes login behavior.
type SessionOptions struct {
	Endpoints    Endpoints
	Browser      browser.Options
	FieldTimeout time.Duration
	SubmitPause  time.Duration
	SettlePause  time.Duration
	RetryDelay   time.Duration
	MaxAttempts  int
}

// DefaultSessionOptions returns the timings the portal is known to need.
func DefaultSessionOptions() SessionOptions {
	return SessionOptions{
		Endpoints:    NewEndpoints(DefaultBaseURL, ""),
		Browser:      browser.DefaultOptions(),
		FieldTimeout: 6 * time.Second,
		SubmitPause:  time.Second,
		SettlePause:  500 * time.Millisecond,
		RetryDelay:   time.Second,
		MaxAttempts:  2,
	}
}

// Session is the authenticated portal session. It owns the browser lifecycle:
// a failed login attempt or a logout always stops the browser.
type Session struct {
	driver  Driver
	opts    SessionOptions
	state   State
	mu      sync.Mutex
	loginMu sync.Mutex
}

// NewSession creates a logged-out session over driver.
func NewSession(driver Driver, opts SessionOptions) *Session {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 2
	}
	return &Session{driver: driver, opts: opts, state: StateLoggedOut}
}

// Driver returns the browser the session controls.
func (s *Session) Driver() Driver {
	return s.driver
}

// State returns the current authentication state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) transition(from, to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != from {
		return fmt.Errorf("invalid session transition %s -> %s: session is %s", from, to, s.state)
	}
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			s.state = to
			return nil
		}
	}
	return fmt.Errorf("invalid session transition %s -> %s", from, to)
}

func (s *Session) forceLoggedOut() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateLoggedOut
}

// Login authenticates with creds. An already authenticated session that passes
// the liveness check is reused. Each failed attempt stops the browser before the
// next one; after the last attempt the session is logged out and the final
// attempt's error is returned.
func (s *Session) Login(ctx context.Context, creds Credentials) (err error) {
	ctx, span := tracer.Start(ctx, "portal.Login")
	defer func() { endSpan(span, err) }()

	if !creds.Complete() {
		return common.ErrMissingCredentials
	}

	s.loginMu.Lock()
	defer s.loginMu.Unlock()

	if s.State() == StateLoggedIn {
		if s.IsSessionActive(ctx) {
			slog.Debug("Reusing portal session")
			return nil
		}
		slog.Info("Portal session expired, logging in again")
		s.forceLoggedOut()
	}

	if err := s.transition(StateLoggedOut, StateLoggingIn); err != nil {
		return err
	}

	err = common.WithRetry(ctx, func(attempt int) error {
		attemptErr := s.attemptLogin(ctx, creds)
		if attemptErr == nil {
			return nil
		}
		slog.Warn("Login attempt failed",
			"attempt", attempt,
			"max_attempts", s.opts.MaxAttempts,
			"error", attemptErr)
		s.driver.Stop()
		if ctx.Err() != nil {
			return common.Permanent(ctx.Err())
		}
		return attemptErr
	}, service.RetryOptions{
		MaxAttempts:  s.opts.MaxAttempts,
		InitialDelay: s.opts.RetryDelay,
		Multiplier:   1,
	})
	if err != nil {
		s.forceLoggedOut()
		return fmt.Errorf("portal login failed: %w", err)
	}

	if err := s.transition(StateLoggingIn, StateLoggedIn); err != nil {
		s.driver.Stop()
		s.forceLoggedOut()
		return err
	}
	slog.Info("Logged in to portal", "user", creds.Username)
	return nil
}

func (s *Session) attemptLogin(ctx context.Context, creds Credentials) error {
	if err := s.driver.Start(ctx, s.opts.Browser); err != nil {
		return err
	}
	if err := s.driver.Navigate(ctx, s.opts.Endpoints.LoginURL); err != nil {
		return err
	}
	if err := browser.Sleep(ctx, s.opts.SubmitPause); err != nil {
		return err
	}

	username, err := s.findField(ctx, UsernameStrategies)
	if err != nil {
		return fmt.Errorf("username input: %w", err)
	}
	password, err := s.findField(ctx, PasswordStrategies)
	if err != nil {
		return fmt.Errorf("password input: %w", err)
	}

	if err := s.driver.SetValue(ctx, username, creds.Username, false); err != nil {
		return err
	}
	if err := s.driver.SetValue(ctx, password, creds.Password, false); err != nil {
		return err
	}

	submit, err := s.findSubmit(ctx)
	if err != nil {
		return err
	}
	if err := s.driver.JSClick(ctx, submit); err != nil {
		return fmt.Errorf("failed to submit login form: %w", err)
	}
	if err := browser.Sleep(ctx, s.opts.SubmitPause); err != nil {
		return err
	}

	if !s.IsSessionActive(ctx) {
		return common.ErrLoginRejected
	}
	return nil
}

func (s *Session) findField(ctx context.Context, strategies []FieldStrategy) (browser.Selector, error) {
	for _, strategy := range strategies {
		err := s.driver.WaitForElement(ctx, strategy.Selector, s.opts.FieldTimeout)
		if err == nil {
			slog.Debug("Located login field", "strategy", strategy.Name, "selector", strategy.Selector.String())
			return strategy.Selector, nil
		}
		if ctx.Err() != nil {
			return browser.Selector{}, ctx.Err()
		}
	}
	return browser.Selector{}, common.ErrLoginFieldsNotFound
}

func (s *Session) findSubmit(ctx context.Context) (browser.Selector, error) {
	if err := s.driver.WaitForClickable(ctx, SubmitSelector, s.opts.FieldTimeout); err == nil {
		return SubmitSelector, nil
	} else if ctx.Err() != nil {
		return browser.Selector{}, ctx.Err()
	}

	var found bool
	if err := s.driver.RunScript(ctx, submitByTextScript(SubmitWords), &found); err != nil {
		return browser.Selector{}, fmt.Errorf("submit control: %w", err)
	}
	if !found {
		return browser.Selector{}, fmt.Errorf("submit control: %w", common.ErrLoginFieldsNotFound)
	}
	return MarkedSubmitSelector, nil
}

// IsSessionActive navigates to the protected movement page and reports whether
// the portal kept the browser there. It changes the current browser location.
func (s *Session) IsSessionActive(ctx context.Context) bool {
	if err := s.driver.Navigate(ctx, s.opts.Endpoints.MovementURL); err != nil {
		slog.Debug("Liveness navigation failed", "error", err)
		return false
	}
	if err := browser.Sleep(ctx, s.opts.SettlePause); err != nil {
		return false
	}
	location, err := s.driver.Location(ctx)
	if err != nil {
		return false
	}
	return s.opts.Endpoints.authenticated(location)
}

// EnsureActive verifies a logged-in session mid-operation and leaves the
// browser on the movement page. A failed liveness check logs the session out
// and returns common.ErrSessionLost; a cancelled context keeps the session.
func (s *Session) EnsureActive(ctx context.Context) error {
	if s.State() != StateLoggedIn {
		return common.ErrNotAuthenticated
	}
	if s.IsSessionActive(ctx) {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.markLost()
	return common.ErrSessionLost
}

func (s *Session) markLost() {
	slog.Warn("Portal session lost")
	s.forceLoggedOut()
}

// Logout stops the browser and forgets the session. It never fails.
func (s *Session) Logout() {
	s.driver.Stop()
	s.forceLoggedOut()
}

// Status returns a snapshot of the session.
func (s *Session) Status() SessionStatus {
	state := s.State()
	return SessionStatus{
		State:         state,
		Authenticated: state == StateLoggedIn,
		BrowserLive:   s.driver.Running(),
	}
}

// BalanceUnavailable is returned by Balance when the page shows no balance.
const BalanceUnavailable = "N/A"

var (
	balanceSelector         = browser.CSS("div.green")
	balanceFallbackSelector = browser.CSS(".balance, .user-balance")
)

// Balance reads the account balance text from the account page.
func (s *Session) Balance(ctx context.Context) (string, error) {
	if s.State() != StateLoggedIn {
		return "", common.ErrNotAuthenticated
	}
	if err := s.driver.Navigate(ctx, s.opts.Endpoints.AccountURL); err != nil {
		return "", err
	}

	for _, probe := range []struct {
		sel     browser.Selector
		timeout time.Duration
	}{
		{balanceSelector, 10 * time.Second},
		{balanceFallbackSelector, 5 * time.Second},
	} {
		if err := s.driver.WaitForElement(ctx, probe.sel, probe.timeout); err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			continue
		}
		text, err := s.driver.Text(ctx, probe.sel)
		if err != nil {
			if errors.Is(err, common.ErrNotFound) {
				continue
			}
			return "", err
		}
		return strings.TrimSpace(text), nil
	}
	return BalanceUnavailable, nil
}
