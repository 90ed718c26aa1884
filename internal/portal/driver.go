// Package portal drives the toll-road operator's customer portal: it keeps an
// authenticated browser session and extracts trip history from it.
package portal

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/Veraticus/tollkeeper/internal/browser"
)

// Driver is the subset of browser.Handle the portal needs.
type Driver interface {
	Start(ctx context.Context, opts browser.Options) error
	Stop()
	Running() bool
	Navigate(ctx context.Context, url string) error
	WaitForElement(ctx context.Context, sel browser.Selector, timeout time.Duration) error
	WaitForClickable(ctx context.Context, sel browser.Selector, timeout time.Duration) error
	RunScript(ctx context.Context, js string, res any) error
	Count(ctx context.Context, sel browser.Selector) (int, error)
	Exists(ctx context.Context, sel browser.Selector) (bool, error)
	Text(ctx context.Context, sel browser.Selector) (string, error)
	OuterHTML(ctx context.Context, sel browser.Selector) (string, error)
	JSClick(ctx context.Context, sel browser.Selector) error
	SetValue(ctx context.Context, sel browser.Selector, value string, submit bool) error
	Location(ctx context.Context) (string, error)
}

var _ Driver = (*browser.Handle)(nil)

// DefaultBaseURL is the portal's public address.
const DefaultBaseURL = "https://lk.avtodor-tr.ru"

// Endpoints are the portal pages the session and extractor visit.
type Endpoints struct {
	LoginURL    string
	MovementURL string
	AccountURL  string
	Host        string
	// AuthMarker appears in the URL of every unauthenticated page.
	AuthMarker string
}

// NewEndpoints derives the portal pages from a base URL. An empty loginURL
// defaults to the auth page under the base.
func NewEndpoints(baseURL, loginURL string) Endpoints {
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if loginURL == "" {
		loginURL = baseURL + "/auth"
	}
	host := baseURL
	if u, err := url.Parse(baseURL); err == nil && u.Host != "" {
		host = u.Host
	}
	return Endpoints{
		LoginURL:    loginURL,
		MovementURL: baseURL + "/account/movement",
		AccountURL:  baseURL + "/account",
		Host:        host,
		AuthMarker:  "auth",
	}
}

// authenticated reports whether location is a portal page outside the auth flow.
func (e Endpoints) authenticated(location string) bool {
	return strings.Contains(location, e.Host) && !strings.Contains(location, e.AuthMarker)
}
