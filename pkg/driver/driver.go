// Package driver defines the boundary between the session pool and the
// browser automation engine that actually launches processes and creates
// contexts and pages.
//
// The pool never talks to an automation engine directly. It holds opaque
// handles obtained from a Driver and only ever invokes the small capability
// surface below: create a child, check liveness, close, and subscribe to the
// external closed/disconnected signal. Everything else (navigation, input,
// content extraction) happens on the handles outside this package.
package driver

import "context"

// BrowserKind identifies which browser engine a handle was launched with.
type BrowserKind string

const (
	KindChromium BrowserKind = "chromium"
	KindFirefox  BrowserKind = "firefox"
	KindWebKit   BrowserKind = "webkit"
)

// Valid reports whether k is a known browser kind.
func (k BrowserKind) Valid() bool {
	switch k {
	case KindChromium, KindFirefox, KindWebKit:
		return true
	}
	return false
}

// LaunchOptions configures a new browser process.
type LaunchOptions struct {
	// Headless controls whether the browser runs without a visible window.
	Headless bool

	// Args are extra command-line arguments passed to the browser binary.
	Args []string
}

// ContextOptions configures a new browser context.
type ContextOptions struct {
	// ViewportWidth and ViewportHeight set the initial viewport size.
	// Zero values leave the engine default in place.
	ViewportWidth  int
	ViewportHeight int

	// UserAgent overrides the context's user agent when non-empty.
	UserAgent string
}

// Driver launches browser processes. Implementations must be safe for
// concurrent use.
type Driver interface {
	// Launch starts a new browser process of the given kind and returns a
	// live handle to it. The call respects ctx cancellation; a cancelled
	// launch must not leave a usable process behind.
	Launch(ctx context.Context, kind BrowserKind, opts LaunchOptions) (BrowserHandle, error)
}

// BrowserHandle is a live browser process owned by the session pool.
type BrowserHandle interface {
	// IsLive reports whether the underlying process is still connected.
	// It must be cheap and non-blocking.
	IsLive() bool

	// NewContext creates an isolated browsing context in this browser.
	NewContext(ctx context.Context, opts ContextOptions) (ContextHandle, error)

	// Close shuts the browser down, closing every context and page it owns.
	Close(ctx context.Context) error

	// OnClosed registers a callback invoked exactly once when the browser
	// closes or disconnects, whether through Close or externally.
	OnClosed(fn func())
}

// ContextHandle is a live browsing context within a browser.
type ContextHandle interface {
	IsLive() bool

	// NewPage opens a new page in this context.
	NewPage(ctx context.Context) (PageHandle, error)

	Close(ctx context.Context) error
	OnClosed(fn func())
}

// PageHandle is a live page within a browsing context.
type PageHandle interface {
	IsLive() bool

	// URL returns the page's current URL without a driver round trip.
	URL() string

	// Title fetches the page's current title from the engine.
	Title(ctx context.Context) (string, error)

	Close(ctx context.Context) error
	OnClosed(fn func())
}
