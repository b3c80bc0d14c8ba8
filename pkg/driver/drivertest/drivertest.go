// Package drivertest provides a scriptable in-memory Driver for exercising
// the session and pool layers without a real browser. Handles record every
// close attempt, closes can be made to fail, and external disconnects are
// fired manually.
package drivertest

import (
	"context"
	"fmt"
	"sync"

	"github.com/entrhq/browserpool/pkg/driver"
)

// Driver is a fake automation engine.
type Driver struct {
	mu       sync.Mutex
	launches int
	browsers []*BrowserHandle

	// LaunchErr, when set, is returned by every Launch call.
	LaunchErr error

	// LaunchBlocks, when true, makes Launch block until ctx is done.
	LaunchBlocks bool
}

// New creates a fake driver.
func New() *Driver {
	return &Driver{}
}

// Launch implements driver.Driver.
func (d *Driver) Launch(ctx context.Context, kind driver.BrowserKind, opts driver.LaunchOptions) (driver.BrowserHandle, error) {
	d.mu.Lock()
	launchErr := d.LaunchErr
	blocks := d.LaunchBlocks
	d.mu.Unlock()

	if launchErr != nil {
		return nil, launchErr
	}
	if blocks {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	h := &BrowserHandle{kind: kind, opts: opts, live: true}
	d.mu.Lock()
	d.launches++
	d.browsers = append(d.browsers, h)
	d.mu.Unlock()
	return h, nil
}

// Launches returns the number of successful launches.
func (d *Driver) Launches() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.launches
}

// Browsers returns every handle this driver has launched, dead or alive.
func (d *Driver) Browsers() []*BrowserHandle {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*BrowserHandle(nil), d.browsers...)
}

// LastBrowser returns the most recently launched handle.
func (d *Driver) LastBrowser() *BrowserHandle {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.browsers) == 0 {
		return nil
	}
	return d.browsers[len(d.browsers)-1]
}

// notifier fires OnClosed callbacks exactly once.
type notifier struct {
	mu        sync.Mutex
	fired     bool
	callbacks []func()
}

func (n *notifier) subscribe(fn func()) {
	n.mu.Lock()
	if n.fired {
		n.mu.Unlock()
		fn()
		return
	}
	n.callbacks = append(n.callbacks, fn)
	n.mu.Unlock()
}

func (n *notifier) fire() {
	n.mu.Lock()
	if n.fired {
		n.mu.Unlock()
		return
	}
	n.fired = true
	callbacks := n.callbacks
	n.callbacks = nil
	n.mu.Unlock()
	for _, fn := range callbacks {
		fn()
	}
}

// BrowserHandle is a fake live browser.
type BrowserHandle struct {
	mu       sync.Mutex
	kind     driver.BrowserKind
	opts     driver.LaunchOptions
	live     bool
	closeErr error
	blocks   bool
	closes   int
	contexts []*ContextHandle
	closed   notifier
}

// Kind returns the kind the browser was launched with.
func (h *BrowserHandle) Kind() driver.BrowserKind {
	return h.kind
}

// SetCloseErr makes subsequent Close calls fail with err.
func (h *BrowserHandle) SetCloseErr(err error) {
	h.mu.Lock()
	h.closeErr = err
	h.mu.Unlock()
}

// SetCloseBlocks makes Close block until its context is done.
func (h *BrowserHandle) SetCloseBlocks(blocks bool) {
	h.mu.Lock()
	h.blocks = blocks
	h.mu.Unlock()
}

// CloseCalls returns how many times Close was invoked.
func (h *BrowserHandle) CloseCalls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closes
}

// Contexts returns every context created from this browser.
func (h *BrowserHandle) Contexts() []*ContextHandle {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*ContextHandle(nil), h.contexts...)
}

// FireClosed simulates an external disconnect: the handle dies and the
// OnClosed callbacks run, without anyone having called Close.
func (h *BrowserHandle) FireClosed() {
	h.mu.Lock()
	h.live = false
	contexts := append([]*ContextHandle(nil), h.contexts...)
	h.mu.Unlock()
	for _, c := range contexts {
		c.FireClosed()
	}
	h.closed.fire()
}

// Kill marks the handle dead without firing the disconnect signal. Useful
// for exercising the dead-handle lookup path in isolation.
func (h *BrowserHandle) Kill() {
	h.mu.Lock()
	h.live = false
	h.mu.Unlock()
}

// IsLive implements driver.BrowserHandle.
func (h *BrowserHandle) IsLive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.live
}

// NewContext implements driver.BrowserHandle.
func (h *BrowserHandle) NewContext(ctx context.Context, opts driver.ContextOptions) (driver.ContextHandle, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.live {
		return nil, fmt.Errorf("browser is closed")
	}
	c := &ContextHandle{opts: opts, live: true}
	h.contexts = append(h.contexts, c)
	return c, nil
}

// Close implements driver.BrowserHandle.
func (h *BrowserHandle) Close(ctx context.Context) error {
	h.mu.Lock()
	h.closes++
	err := h.closeErr
	blocks := h.blocks
	h.mu.Unlock()

	if blocks {
		<-ctx.Done()
		return ctx.Err()
	}
	if err != nil {
		return err
	}

	h.mu.Lock()
	h.live = false
	h.mu.Unlock()
	h.closed.fire()
	return nil
}

// OnClosed implements driver.BrowserHandle.
func (h *BrowserHandle) OnClosed(fn func()) {
	h.closed.subscribe(fn)
}

// ContextHandle is a fake browsing context.
type ContextHandle struct {
	mu       sync.Mutex
	opts     driver.ContextOptions
	live     bool
	closeErr error
	blocks   bool
	closes   int
	pages    []*PageHandle
	closed   notifier
}

// SetCloseErr makes subsequent Close calls fail with err.
func (h *ContextHandle) SetCloseErr(err error) {
	h.mu.Lock()
	h.closeErr = err
	h.mu.Unlock()
}

// SetCloseBlocks makes Close block until its context is done.
func (h *ContextHandle) SetCloseBlocks(blocks bool) {
	h.mu.Lock()
	h.blocks = blocks
	h.mu.Unlock()
}

// CloseCalls returns how many times Close was invoked.
func (h *ContextHandle) CloseCalls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closes
}

// Pages returns every page created in this context.
func (h *ContextHandle) Pages() []*PageHandle {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*PageHandle(nil), h.pages...)
}

// FireClosed simulates the context dying externally.
func (h *ContextHandle) FireClosed() {
	h.mu.Lock()
	h.live = false
	pages := append([]*PageHandle(nil), h.pages...)
	h.mu.Unlock()
	for _, p := range pages {
		p.FireClosed()
	}
	h.closed.fire()
}

// Kill marks the handle dead without firing the disconnect signal.
func (h *ContextHandle) Kill() {
	h.mu.Lock()
	h.live = false
	h.mu.Unlock()
}

// IsLive implements driver.ContextHandle.
func (h *ContextHandle) IsLive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.live
}

// NewPage implements driver.ContextHandle.
func (h *ContextHandle) NewPage(ctx context.Context) (driver.PageHandle, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.live {
		return nil, fmt.Errorf("context is closed")
	}
	p := &PageHandle{live: true, url: "about:blank"}
	h.pages = append(h.pages, p)
	return p, nil
}

// Close implements driver.ContextHandle.
func (h *ContextHandle) Close(ctx context.Context) error {
	h.mu.Lock()
	h.closes++
	err := h.closeErr
	blocks := h.blocks
	h.mu.Unlock()

	if blocks {
		<-ctx.Done()
		return ctx.Err()
	}
	if err != nil {
		return err
	}

	h.mu.Lock()
	h.live = false
	h.mu.Unlock()
	h.closed.fire()
	return nil
}

// OnClosed implements driver.ContextHandle.
func (h *ContextHandle) OnClosed(fn func()) {
	h.closed.subscribe(fn)
}

// PageHandle is a fake page.
type PageHandle struct {
	mu       sync.Mutex
	live     bool
	closeErr error
	closes   int
	url      string
	title    string
	closed   notifier
}

// SetCloseErr makes subsequent Close calls fail with err.
func (h *PageHandle) SetCloseErr(err error) {
	h.mu.Lock()
	h.closeErr = err
	h.mu.Unlock()
}

// CloseCalls returns how many times Close was invoked.
func (h *PageHandle) CloseCalls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closes
}

// Navigate sets the fake page's URL and title, as a real navigation would.
func (h *PageHandle) Navigate(url, title string) {
	h.mu.Lock()
	h.url = url
	h.title = title
	h.mu.Unlock()
}

// FireClosed simulates the page dying externally.
func (h *PageHandle) FireClosed() {
	h.mu.Lock()
	h.live = false
	h.mu.Unlock()
	h.closed.fire()
}

// Kill marks the handle dead without firing the disconnect signal.
func (h *PageHandle) Kill() {
	h.mu.Lock()
	h.live = false
	h.mu.Unlock()
}

// IsLive implements driver.PageHandle.
func (h *PageHandle) IsLive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.live
}

// URL implements driver.PageHandle.
func (h *PageHandle) URL() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.url
}

// Title implements driver.PageHandle.
func (h *PageHandle) Title(ctx context.Context) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.live {
		return "", fmt.Errorf("page is closed")
	}
	return h.title, nil
}

// Close implements driver.PageHandle.
func (h *PageHandle) Close(ctx context.Context) error {
	h.mu.Lock()
	h.closes++
	err := h.closeErr
	h.mu.Unlock()

	if err != nil {
		return err
	}

	h.mu.Lock()
	h.live = false
	h.mu.Unlock()
	h.closed.fire()
	return nil
}

// OnClosed implements driver.PageHandle.
func (h *PageHandle) OnClosed(fn func()) {
	h.closed.subscribe(fn)
}
