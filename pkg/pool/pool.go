// Package pool layers acquisition policy over the session manager: callers
// ask for "a browser of kind K" or "a page under context C" and the pool
// reuses a healthy existing resource, or creates one, evicting the
// least-recently-used sibling first when the tier is at capacity.
//
// The pool never touches the session tables directly; it is a client of the
// manager like any other, and so is the idle sweeper defined alongside it.
package pool

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/entrhq/browserpool/pkg/driver"
	"github.com/entrhq/browserpool/pkg/session"
)

// Default capacity ceilings. All ceilings are soft: hitting one evicts the
// least-recently-used sibling rather than rejecting the request.
const (
	DefaultMaxBrowsers           = 4
	DefaultMaxContextsPerBrowser = 8
	DefaultMaxPagesPerContext    = 16
)

// Limits holds the per-tier capacity ceilings.
type Limits struct {
	MaxBrowsers           int
	MaxContextsPerBrowser int
	MaxPagesPerContext    int
}

// DefaultLimits returns the default capacity ceilings.
func DefaultLimits() Limits {
	return Limits{
		MaxBrowsers:           DefaultMaxBrowsers,
		MaxContextsPerBrowser: DefaultMaxContextsPerBrowser,
		MaxPagesPerContext:    DefaultMaxPagesPerContext,
	}
}

// Pool implements acquire-or-create-with-eviction over a session manager.
type Pool struct {
	manager *session.Manager
	limits  Limits
	log     *zap.Logger
}

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the pool's logger.
func WithLogger(log *zap.Logger) Option {
	return func(p *Pool) { p.log = log }
}

// New creates a pool over the given manager. Non-positive limits fall back
// to the defaults.
func New(manager *session.Manager, limits Limits, opts ...Option) *Pool {
	if limits.MaxBrowsers <= 0 {
		limits.MaxBrowsers = DefaultMaxBrowsers
	}
	if limits.MaxContextsPerBrowser <= 0 {
		limits.MaxContextsPerBrowser = DefaultMaxContextsPerBrowser
	}
	if limits.MaxPagesPerContext <= 0 {
		limits.MaxPagesPerContext = DefaultMaxPagesPerContext
	}
	p := &Pool{
		manager: manager,
		limits:  limits,
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Manager returns the underlying session manager.
func (p *Pool) Manager() *session.Manager {
	return p.manager
}

// AcquireBrowser returns a live browser of the given kind, reusing an
// existing one when possible. At capacity the least-recently-used browser
// is force-closed to make room; ties break toward the oldest creation time.
func (p *Pool) AcquireBrowser(ctx context.Context, kind driver.BrowserKind, opts driver.LaunchOptions) (string, error) {
	for _, info := range p.manager.ListBrowsers(kind) {
		// GetBrowser refreshes the timestamp and reaps dead entries.
		if _, err := p.manager.GetBrowser(info.ID); err == nil {
			return info.ID, nil
		}
	}

	// Capacity counts every kind; the victim may not match the request.
	browsers := p.manager.ListBrowsers("")
	if len(browsers) >= p.limits.MaxBrowsers {
		victim := pickBrowserVictim(browsers)
		if err := p.evictBrowser(ctx, victim); err != nil {
			return "", err
		}
	}
	return p.manager.CreateBrowser(ctx, kind, opts)
}

// AcquireContext returns a live context under the given browser, reusing an
// existing one when possible, evicting the LRU sibling at capacity.
func (p *Pool) AcquireContext(ctx context.Context, browserID string, opts driver.ContextOptions) (string, error) {
	if _, err := p.manager.GetBrowser(browserID); err != nil {
		return "", err
	}

	for _, info := range p.manager.ListContexts(browserID) {
		if _, err := p.manager.GetContext(info.ID); err == nil {
			return info.ID, nil
		}
	}

	contexts := p.manager.ListContexts(browserID)
	if len(contexts) >= p.limits.MaxContextsPerBrowser {
		victim := pickContextVictim(contexts)
		if err := p.manager.CloseContext(ctx, victim, true); err != nil {
			return "", session.WrapError(err, session.CodeCapacityExceeded,
				"context tier at capacity and eviction failed")
		}
		p.log.Debug("evicted context",
			zap.String("context_id", victim),
			zap.String("browser_id", browserID))
	}
	return p.manager.CreateContext(ctx, browserID, opts)
}

// AcquirePage returns a live page under the given context, reusing an
// existing one when possible, evicting the LRU sibling at capacity.
func (p *Pool) AcquirePage(ctx context.Context, contextID string) (string, error) {
	if _, err := p.manager.GetContext(contextID); err != nil {
		return "", err
	}

	for _, info := range p.manager.ListPages(contextID) {
		if _, err := p.manager.GetPage(info.ID); err == nil {
			return info.ID, nil
		}
	}

	pages := p.manager.ListPages(contextID)
	if len(pages) >= p.limits.MaxPagesPerContext {
		victim := pickPageVictim(pages)
		if err := p.manager.ClosePage(ctx, victim, true); err != nil {
			return "", session.WrapError(err, session.CodeCapacityExceeded,
				"page tier at capacity and eviction failed")
		}
		p.log.Debug("evicted page",
			zap.String("page_id", victim),
			zap.String("context_id", contextID))
	}
	return p.manager.CreatePage(ctx, contextID)
}

func (p *Pool) evictBrowser(ctx context.Context, victim string) error {
	if err := p.manager.CloseBrowser(ctx, victim, true); err != nil {
		return session.WrapError(err, session.CodeCapacityExceeded,
			"browser tier at capacity and eviction failed")
	}
	p.log.Debug("evicted browser", zap.String("browser_id", victim))
	return nil
}

// pickBrowserVictim selects the eviction victim: strictly smallest
// last-used time, ties broken by oldest creation time, then by id so the
// policy is fully deterministic.
func pickBrowserVictim(infos []session.BrowserInfo) string {
	victim := infos[0].ID
	best := struct {
		lastUsed, created time.Time
	}{infos[0].LastUsedAt, infos[0].CreatedAt}
	for _, info := range infos[1:] {
		if older(info.LastUsedAt, info.CreatedAt, info.ID, best.lastUsed, best.created, victim) {
			victim = info.ID
			best.lastUsed, best.created = info.LastUsedAt, info.CreatedAt
		}
	}
	return victim
}

func pickContextVictim(infos []session.ContextInfo) string {
	victim := infos[0].ID
	best := struct {
		lastUsed, created time.Time
	}{infos[0].LastUsedAt, infos[0].CreatedAt}
	for _, info := range infos[1:] {
		if older(info.LastUsedAt, info.CreatedAt, info.ID, best.lastUsed, best.created, victim) {
			victim = info.ID
			best.lastUsed, best.created = info.LastUsedAt, info.CreatedAt
		}
	}
	return victim
}

func pickPageVictim(infos []session.PageInfo) string {
	victim := infos[0].ID
	best := struct {
		lastUsed, created time.Time
	}{infos[0].LastUsedAt, infos[0].CreatedAt}
	for _, info := range infos[1:] {
		if older(info.LastUsedAt, info.CreatedAt, info.ID, best.lastUsed, best.created, victim) {
			victim = info.ID
			best.lastUsed, best.created = info.LastUsedAt, info.CreatedAt
		}
	}
	return victim
}

// older reports whether candidate (a) is a better eviction victim than the
// current best (b).
func older(aUsed, aCreated time.Time, aID string, bUsed, bCreated time.Time, bID string) bool {
	if !aUsed.Equal(bUsed) {
		return aUsed.Before(bUsed)
	}
	if !aCreated.Equal(bCreated) {
		return aCreated.Before(bCreated)
	}
	return aID < bID
}
