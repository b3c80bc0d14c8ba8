// Package playwright implements the driver boundary on top of the
// Playwright automation engine.
package playwright

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	pw "github.com/playwright-community/playwright-go"

	"github.com/entrhq/browserpool/pkg/driver"
)

// Driver launches browsers through a shared Playwright instance.
type Driver struct {
	pw *pw.Playwright
}

// New installs the Playwright runtime if needed and starts it. Output is
// discarded so the install step cannot interfere with the host process's
// terminal.
func New() (*Driver, error) {
	opts := &pw.RunOptions{
		Verbose: false,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	}

	if err := pw.Install(opts); err != nil {
		return nil, fmt.Errorf("failed to install playwright: %w", err)
	}
	instance, err := pw.Run(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}
	return &Driver{pw: instance}, nil
}

// Close stops the Playwright instance. Browsers launched from it should be
// closed first.
func (d *Driver) Close() error {
	if err := d.pw.Stop(); err != nil {
		return fmt.Errorf("failed to stop playwright: %w", err)
	}
	return nil
}

// Launch implements driver.Driver.
func (d *Driver) Launch(ctx context.Context, kind driver.BrowserKind, opts driver.LaunchOptions) (driver.BrowserHandle, error) {
	var bt pw.BrowserType
	switch kind {
	case driver.KindChromium:
		bt = d.pw.Chromium
	case driver.KindFirefox:
		bt = d.pw.Firefox
	case driver.KindWebKit:
		bt = d.pw.WebKit
	default:
		return nil, fmt.Errorf("unknown browser kind %q", kind)
	}

	launchOpts := pw.BrowserTypeLaunchOptions{
		Headless: pw.Bool(opts.Headless),
		Args:     opts.Args,
	}
	browser, err := await(ctx, func() (pw.Browser, error) {
		return bt.Launch(launchOpts)
	})
	if err != nil {
		return nil, err
	}

	h := &browserHandle{browser: browser}
	browser.OnDisconnected(func(pw.Browser) { h.markClosed() })
	return h, nil
}

// await runs a Playwright call that has no native context support under the
// caller's deadline. On expiry the call keeps running in the background;
// its result is discarded.
func await[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		value T
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		value, err := fn()
		ch <- result{value, err}
	}()

	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case r := <-ch:
		return r.value, r.err
	}
}

// closedState tracks the once-only closed signal shared by all handle
// types.
type closedState struct {
	closed    atomic.Bool
	mu        sync.Mutex
	callbacks []func()
}

func (c *closedState) subscribe(fn func()) {
	c.mu.Lock()
	if c.closed.Load() {
		c.mu.Unlock()
		fn()
		return
	}
	c.callbacks = append(c.callbacks, fn)
	c.mu.Unlock()
}

func (c *closedState) fire() {
	c.mu.Lock()
	if c.closed.Load() {
		c.mu.Unlock()
		return
	}
	c.closed.Store(true)
	callbacks := c.callbacks
	c.callbacks = nil
	c.mu.Unlock()
	for _, fn := range callbacks {
		fn()
	}
}

type browserHandle struct {
	browser pw.Browser
	state   closedState
}

func (h *browserHandle) markClosed() { h.state.fire() }

func (h *browserHandle) IsLive() bool {
	return !h.state.closed.Load() && h.browser.IsConnected()
}

func (h *browserHandle) NewContext(ctx context.Context, opts driver.ContextOptions) (driver.ContextHandle, error) {
	contextOpts := pw.BrowserNewContextOptions{}
	if opts.ViewportWidth > 0 && opts.ViewportHeight > 0 {
		contextOpts.Viewport = &pw.Size{
			Width:  opts.ViewportWidth,
			Height: opts.ViewportHeight,
		}
	}
	if opts.UserAgent != "" {
		contextOpts.UserAgent = pw.String(opts.UserAgent)
	}

	bc, err := await(ctx, func() (pw.BrowserContext, error) {
		return h.browser.NewContext(contextOpts)
	})
	if err != nil {
		return nil, err
	}

	ch := &contextHandle{context: bc}
	bc.OnClose(func(pw.BrowserContext) { ch.markClosed() })
	return ch, nil
}

func (h *browserHandle) Close(ctx context.Context) error {
	_, err := await(ctx, func() (struct{}, error) {
		return struct{}{}, h.browser.Close()
	})
	return err
}

func (h *browserHandle) OnClosed(fn func()) { h.state.subscribe(fn) }

type contextHandle struct {
	context pw.BrowserContext
	state   closedState
}

func (h *contextHandle) markClosed() { h.state.fire() }

// IsLive relies on the close event: Playwright contexts expose no liveness
// query of their own.
func (h *contextHandle) IsLive() bool {
	return !h.state.closed.Load()
}

func (h *contextHandle) NewPage(ctx context.Context) (driver.PageHandle, error) {
	page, err := await(ctx, func() (pw.Page, error) {
		return h.context.NewPage()
	})
	if err != nil {
		return nil, err
	}

	ph := &pageHandle{page: page}
	page.OnClose(func(pw.Page) { ph.markClosed() })
	return ph, nil
}

func (h *contextHandle) Close(ctx context.Context) error {
	_, err := await(ctx, func() (struct{}, error) {
		return struct{}{}, h.context.Close()
	})
	return err
}

func (h *contextHandle) OnClosed(fn func()) { h.state.subscribe(fn) }

type pageHandle struct {
	page  pw.Page
	state closedState
}

func (h *pageHandle) markClosed() { h.state.fire() }

func (h *pageHandle) IsLive() bool {
	return !h.state.closed.Load() && !h.page.IsClosed()
}

func (h *pageHandle) URL() string {
	return h.page.URL()
}

func (h *pageHandle) Title(ctx context.Context) (string, error) {
	return await(ctx, func() (string, error) {
		return h.page.Title()
	})
}

func (h *pageHandle) Close(ctx context.Context) error {
	_, err := await(ctx, func() (struct{}, error) {
		return struct{}{}, h.page.Close()
	})
	return err
}

func (h *pageHandle) OnClosed(fn func()) { h.state.subscribe(fn) }
