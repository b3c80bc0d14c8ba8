package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/entrhq/browserpool/pkg/driver"
)

// DefaultOperationTimeout bounds every driver-facing call made by a Manager
// unless overridden with WithOperationTimeout.
const DefaultOperationTimeout = 30 * time.Second

// Manager owns the session tables for all three tiers and is the only
// component allowed to mutate them. Creation, lookup, cascading close, and
// idle sweeping all go through it; the pool and the sweeper are clients.
//
// A Manager is safe for concurrent use. Driver calls happen outside the
// table lock, so two in-flight operations can interleave at those points;
// every registration re-validates its parent after the driver call returns.
type Manager struct {
	driver    driver.Driver
	log       *zap.Logger
	opTimeout time.Duration
	now       func() time.Time
	newID     func() string

	mu     sync.Mutex
	tables *table
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(log *zap.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// WithOperationTimeout bounds each driver call. Zero disables the bound.
func WithOperationTimeout(d time.Duration) Option {
	return func(m *Manager) { m.opTimeout = d }
}

// WithClock overrides the time source. Test hook.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithIDGenerator overrides resource id generation. Test hook.
func WithIDGenerator(newID func() string) Option {
	return func(m *Manager) { m.newID = newID }
}

// NewManager creates a manager over the given driver.
func NewManager(d driver.Driver, opts ...Option) *Manager {
	m := &Manager{
		driver:    d,
		log:       zap.NewNop(),
		opTimeout: DefaultOperationTimeout,
		now:       time.Now,
		newID:     uuid.NewString,
		tables:    newTable(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// opContext derives a context bounded by the manager's operation timeout.
func (m *Manager) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.opTimeout > 0 {
		return context.WithTimeout(ctx, m.opTimeout)
	}
	return context.WithCancel(ctx)
}

// CreateBrowser launches a new browser process and registers it. A failed
// or timed-out launch leaves no table entry behind.
func (m *Manager) CreateBrowser(ctx context.Context, kind driver.BrowserKind, opts driver.LaunchOptions) (string, error) {
	cctx, cancel := m.opContext(ctx)
	defer cancel()

	handle, err := m.driver.Launch(cctx, kind, opts)
	if err != nil {
		return "", wrapDriver("launch browser", err)
	}

	now := m.now()
	rec := &browserRecord{
		id:         m.newID(),
		kind:       kind,
		handle:     handle,
		createdAt:  now,
		lastUsedAt: now,
		contexts:   make(map[string]struct{}),
	}

	m.mu.Lock()
	if err := m.tables.insertBrowser(rec); err != nil {
		m.mu.Unlock()
		m.closeOrphan("browser", handle.Close)
		return "", err
	}
	m.mu.Unlock()

	id := rec.id
	handle.OnClosed(func() { m.reapBrowser(id) })
	m.log.Debug("browser launched",
		zap.String("browser_id", id),
		zap.String("kind", string(kind)))
	return id, nil
}

// CreateContext creates a browsing context under an existing browser.
func (m *Manager) CreateContext(ctx context.Context, browserID string, opts driver.ContextOptions) (string, error) {
	m.mu.Lock()
	parent, ok := m.tables.browsers[browserID]
	if !ok || parent.closing {
		m.mu.Unlock()
		return "", notFound("browser", browserID)
	}
	if !parent.handle.IsLive() {
		parent.closing = true
		removed := m.tables.removeBrowserSubtree(browserID)
		m.mu.Unlock()
		m.log.Debug("reaped dead browser during create",
			zap.String("browser_id", browserID), zap.Int("removed", removed))
		return "", notFound("browser", browserID)
	}
	handle := parent.handle
	m.mu.Unlock()

	cctx, cancel := m.opContext(ctx)
	defer cancel()
	child, err := handle.NewContext(cctx, opts)
	if err != nil {
		return "", wrapDriver("create context", err)
	}

	now := m.now()
	rec := &contextRecord{
		id:         m.newID(),
		browserID:  browserID,
		handle:     child,
		createdAt:  now,
		lastUsedAt: now,
		pages:      make(map[string]struct{}),
	}

	m.mu.Lock()
	// The browser may have been closed, or started closing, while the
	// driver call was in flight; fail clean rather than registering a
	// child the cascade will never visit.
	if cur, ok := m.tables.browsers[browserID]; !ok || cur.closing {
		m.mu.Unlock()
		m.closeOrphan("context", child.Close)
		return "", notFound("browser", browserID)
	}
	if err := m.tables.insertContext(rec); err != nil {
		m.mu.Unlock()
		m.closeOrphan("context", child.Close)
		return "", err
	}
	parent.lastUsedAt = now
	m.mu.Unlock()

	id := rec.id
	child.OnClosed(func() { m.reapContext(id) })
	m.log.Debug("context created",
		zap.String("context_id", id),
		zap.String("browser_id", browserID))
	return id, nil
}

// CreatePage opens a page in an existing context.
func (m *Manager) CreatePage(ctx context.Context, contextID string) (string, error) {
	m.mu.Lock()
	parent, ok := m.tables.contexts[contextID]
	if !ok || parent.closing {
		m.mu.Unlock()
		return "", notFound("context", contextID)
	}
	if !parent.handle.IsLive() {
		parent.closing = true
		removed := m.tables.removeContextSubtree(contextID)
		m.mu.Unlock()
		m.log.Debug("reaped dead context during create",
			zap.String("context_id", contextID), zap.Int("removed", removed))
		return "", notFound("context", contextID)
	}
	handle := parent.handle
	m.mu.Unlock()

	cctx, cancel := m.opContext(ctx)
	defer cancel()
	child, err := handle.NewPage(cctx)
	if err != nil {
		return "", wrapDriver("create page", err)
	}

	now := m.now()
	rec := &pageRecord{
		id:         m.newID(),
		contextID:  contextID,
		handle:     child,
		createdAt:  now,
		lastUsedAt: now,
		url:        child.URL(),
	}

	m.mu.Lock()
	if cur, ok := m.tables.contexts[contextID]; !ok || cur.closing {
		m.mu.Unlock()
		m.closeOrphan("page", child.Close)
		return "", notFound("context", contextID)
	}
	if err := m.tables.insertPage(rec); err != nil {
		m.mu.Unlock()
		m.closeOrphan("page", child.Close)
		return "", err
	}
	parent.lastUsedAt = now
	m.mu.Unlock()

	id := rec.id
	child.OnClosed(func() { m.reapPage(id) })
	m.log.Debug("page created",
		zap.String("page_id", id),
		zap.String("context_id", contextID))
	return id, nil
}

// closeOrphan closes a handle that was created but could not be registered.
// Best effort; the create call has already failed.
func (m *Manager) closeOrphan(tier string, close func(context.Context) error) {
	cctx, cancel := m.opContext(context.Background())
	defer cancel()
	if err := close(cctx); err != nil {
		m.log.Warn("failed to close unregistered "+tier, zap.Error(err))
	}
}

// GetBrowser returns the live handle for a browser and refreshes its
// last-used timestamp. Dead browsers are torn down and reported as not
// found rather than returned.
func (m *Manager) GetBrowser(id string) (driver.BrowserHandle, error) {
	m.mu.Lock()
	rec, ok := m.tables.browsers[id]
	if !ok || rec.closing {
		m.mu.Unlock()
		return nil, notFound("browser", id)
	}
	if !rec.handle.IsLive() {
		rec.closing = true
		removed := m.tables.removeBrowserSubtree(id)
		m.mu.Unlock()
		m.log.Debug("reaped dead browser",
			zap.String("browser_id", id), zap.Int("removed", removed))
		return nil, notFound("browser", id)
	}
	rec.lastUsedAt = m.now()
	handle := rec.handle
	m.mu.Unlock()
	return handle, nil
}

// GetContext returns the live handle for a context, refreshing the
// timestamps of the context and its owning browser. An active context keeps
// its ancestor warm for LRU purposes.
func (m *Manager) GetContext(id string) (driver.ContextHandle, error) {
	m.mu.Lock()
	rec, ok := m.tables.contexts[id]
	if !ok || rec.closing {
		m.mu.Unlock()
		return nil, notFound("context", id)
	}
	if !rec.handle.IsLive() {
		rec.closing = true
		removed := m.tables.removeContextSubtree(id)
		m.mu.Unlock()
		m.log.Debug("reaped dead context",
			zap.String("context_id", id), zap.Int("removed", removed))
		return nil, notFound("context", id)
	}
	owner, err := m.tables.ownerOfContext(rec)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	now := m.now()
	rec.lastUsedAt = now
	owner.lastUsedAt = now
	handle := rec.handle
	m.mu.Unlock()
	return handle, nil
}

// GetPage returns the live handle for a page, refreshing the page, its
// context, and its browser to the same instant. The page's denormalized URL
// is refreshed as a side effect.
func (m *Manager) GetPage(id string) (driver.PageHandle, error) {
	m.mu.Lock()
	rec, ok := m.tables.pages[id]
	if !ok || rec.closing {
		m.mu.Unlock()
		return nil, notFound("page", id)
	}
	if !rec.handle.IsLive() {
		rec.closing = true
		m.tables.deletePage(id)
		m.mu.Unlock()
		m.log.Debug("reaped dead page", zap.String("page_id", id))
		return nil, notFound("page", id)
	}
	ctxOwner, err := m.tables.ownerOfPage(rec)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	browserOwner, err := m.tables.ownerOfContext(ctxOwner)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	now := m.now()
	rec.lastUsedAt = now
	ctxOwner.lastUsedAt = now
	browserOwner.lastUsedAt = now
	rec.url = rec.handle.URL()
	handle := rec.handle
	m.mu.Unlock()
	return handle, nil
}

// UpdatePageInfo refreshes a page's denormalized URL and title from the
// driver. Callers invoke it after operations that may have changed either.
func (m *Manager) UpdatePageInfo(ctx context.Context, id string) error {
	handle, err := m.GetPage(id)
	if err != nil {
		return err
	}

	cctx, cancel := m.opContext(ctx)
	defer cancel()
	title, err := handle.Title(cctx)
	if err != nil {
		return wrapDriver("fetch page title", err)
	}
	url := handle.URL()

	m.mu.Lock()
	if rec, ok := m.tables.pages[id]; ok {
		rec.url = url
		rec.title = title
	}
	m.mu.Unlock()
	return nil
}

// CloseBrowser closes a browser and everything beneath it, bottom-up. With
// force false a driver error aborts removal of the failing node and its
// ancestors so the close can be retried; with force true errors are logged
// and bookkeeping completes regardless. Closing an absent or already-closing
// id is a no-op, so a repeated close never fails.
func (m *Manager) CloseBrowser(ctx context.Context, id string, force bool) error {
	return m.closeBrowserTree(ctx, id, force)
}

// CloseContext closes a context and its pages.
func (m *Manager) CloseContext(ctx context.Context, id string, force bool) error {
	return m.closeContextTree(ctx, id, force)
}

// ClosePage closes a single page.
func (m *Manager) ClosePage(ctx context.Context, id string, force bool) error {
	return m.closePageTree(ctx, id, force)
}

// closeBrowserTree is the cascading close path. Absent or already-closing
// ids are a no-op so concurrent closes and disconnect signals cannot
// double-close.
func (m *Manager) closeBrowserTree(ctx context.Context, id string, force bool) error {
	m.mu.Lock()
	rec, ok := m.tables.browsers[id]
	if !ok || rec.closing {
		m.mu.Unlock()
		return nil
	}
	rec.closing = true
	contextIDs := sortedIDs(rec.contexts)
	handle := rec.handle
	m.mu.Unlock()

	for _, ctxID := range contextIDs {
		if err := m.closeContextTree(ctx, ctxID, force); err != nil {
			m.unsetBrowserClosing(id)
			return err
		}
	}
	if err := m.closeHandle(ctx, "close browser", id, force, handle.Close); err != nil {
		m.unsetBrowserClosing(id)
		return err
	}

	// Subtree removal instead of a plain delete: the cascade already
	// emptied the owned set, and anything still linked here is dead
	// bookkeeping that must not outlive its parent.
	m.mu.Lock()
	m.tables.removeBrowserSubtree(id)
	m.mu.Unlock()
	m.log.Debug("browser closed", zap.String("browser_id", id))
	return nil
}

func (m *Manager) closeContextTree(ctx context.Context, id string, force bool) error {
	m.mu.Lock()
	rec, ok := m.tables.contexts[id]
	if !ok || rec.closing {
		m.mu.Unlock()
		return nil
	}
	rec.closing = true
	pageIDs := sortedIDs(rec.pages)
	handle := rec.handle
	m.mu.Unlock()

	for _, pageID := range pageIDs {
		if err := m.closePageTree(ctx, pageID, force); err != nil {
			m.unsetContextClosing(id)
			return err
		}
	}
	if err := m.closeHandle(ctx, "close context", id, force, handle.Close); err != nil {
		m.unsetContextClosing(id)
		return err
	}

	m.mu.Lock()
	m.tables.removeContextSubtree(id)
	m.mu.Unlock()
	return nil
}

func (m *Manager) closePageTree(ctx context.Context, id string, force bool) error {
	m.mu.Lock()
	rec, ok := m.tables.pages[id]
	if !ok || rec.closing {
		m.mu.Unlock()
		return nil
	}
	rec.closing = true
	handle := rec.handle
	m.mu.Unlock()

	if err := m.closeHandle(ctx, "close page", id, force, handle.Close); err != nil {
		m.unsetPageClosing(id)
		return err
	}

	m.mu.Lock()
	m.tables.deletePage(id)
	m.mu.Unlock()
	return nil
}

// closeHandle invokes a driver close under the operation timeout. A timed
// out close still reports success so bookkeeping cannot get stuck on an
// unresponsive driver; the process may leak but the tables stay consistent.
func (m *Manager) closeHandle(ctx context.Context, op, id string, force bool, close func(context.Context) error) error {
	cctx, cancel := m.opContext(ctx)
	defer cancel()

	err := close(cctx)
	if err == nil {
		return nil
	}
	werr := wrapDriver(op, err)
	if force || werr.Code == CodeDriverTimeout {
		m.log.Warn(op+" failed, removing entry anyway",
			zap.String("id", id), zap.Error(err))
		return nil
	}
	return werr
}

func (m *Manager) unsetBrowserClosing(id string) {
	m.mu.Lock()
	if rec, ok := m.tables.browsers[id]; ok {
		rec.closing = false
	}
	m.mu.Unlock()
}

func (m *Manager) unsetContextClosing(id string) {
	m.mu.Lock()
	if rec, ok := m.tables.contexts[id]; ok {
		rec.closing = false
	}
	m.mu.Unlock()
}

func (m *Manager) unsetPageClosing(id string) {
	m.mu.Lock()
	if rec, ok := m.tables.pages[id]; ok {
		rec.closing = false
	}
	m.mu.Unlock()
}

// reapBrowser handles the driver's external disconnect signal for a
// browser: the same teardown as a forced close, bookkeeping only, with no
// further driver close calls on the subtree. A signal firing during an
// in-progress explicit close is a no-op.
func (m *Manager) reapBrowser(id string) {
	m.mu.Lock()
	rec, ok := m.tables.browsers[id]
	if !ok || rec.closing {
		m.mu.Unlock()
		return
	}
	rec.closing = true
	removed := m.tables.removeBrowserSubtree(id)
	m.mu.Unlock()
	m.log.Debug("browser disconnected",
		zap.String("browser_id", id), zap.Int("removed", removed))
}

func (m *Manager) reapContext(id string) {
	m.mu.Lock()
	rec, ok := m.tables.contexts[id]
	if !ok || rec.closing {
		m.mu.Unlock()
		return
	}
	rec.closing = true
	removed := m.tables.removeContextSubtree(id)
	m.mu.Unlock()
	m.log.Debug("context closed externally",
		zap.String("context_id", id), zap.Int("removed", removed))
}

func (m *Manager) reapPage(id string) {
	m.mu.Lock()
	rec, ok := m.tables.pages[id]
	if !ok || rec.closing {
		m.mu.Unlock()
		return
	}
	rec.closing = true
	m.tables.deletePage(id)
	m.mu.Unlock()
	m.log.Debug("page closed externally", zap.String("page_id", id))
}

// ListBrowsers returns snapshots of browser entries, ordered by creation
// time then id. With a non-empty kind only browsers of that kind are
// returned.
func (m *Manager) ListBrowsers(kind driver.BrowserKind) []BrowserInfo {
	m.mu.Lock()
	infos := make([]BrowserInfo, 0, len(m.tables.browsers))
	for _, rec := range m.tables.browsers {
		if kind != "" && rec.kind != kind {
			continue
		}
		infos = append(infos, BrowserInfo{
			ID:         rec.id,
			Kind:       rec.kind,
			CreatedAt:  rec.createdAt,
			LastUsedAt: rec.lastUsedAt,
			Live:       rec.handle.IsLive(),
			Contexts:   len(rec.contexts),
		})
	}
	m.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool {
		if !infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].CreatedAt.Before(infos[j].CreatedAt)
		}
		return infos[i].ID < infos[j].ID
	})
	return infos
}

// ListContexts returns snapshots of context entries. With a non-empty
// browserID only that browser's contexts are returned.
func (m *Manager) ListContexts(browserID string) []ContextInfo {
	m.mu.Lock()
	infos := make([]ContextInfo, 0, len(m.tables.contexts))
	for _, rec := range m.tables.contexts {
		if browserID != "" && rec.browserID != browserID {
			continue
		}
		infos = append(infos, ContextInfo{
			ID:         rec.id,
			BrowserID:  rec.browserID,
			CreatedAt:  rec.createdAt,
			LastUsedAt: rec.lastUsedAt,
			Live:       rec.handle.IsLive(),
			Pages:      len(rec.pages),
		})
	}
	m.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool {
		if !infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].CreatedAt.Before(infos[j].CreatedAt)
		}
		return infos[i].ID < infos[j].ID
	})
	return infos
}

// ListPages returns snapshots of page entries. With a non-empty contextID
// only that context's pages are returned.
func (m *Manager) ListPages(contextID string) []PageInfo {
	m.mu.Lock()
	infos := make([]PageInfo, 0, len(m.tables.pages))
	for _, rec := range m.tables.pages {
		if contextID != "" && rec.contextID != contextID {
			continue
		}
		infos = append(infos, PageInfo{
			ID:         rec.id,
			ContextID:  rec.contextID,
			CreatedAt:  rec.createdAt,
			LastUsedAt: rec.lastUsedAt,
			Live:       rec.handle.IsLive(),
			URL:        rec.url,
			Title:      rec.title,
		})
	}
	m.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool {
		if !infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].CreatedAt.Before(infos[j].CreatedAt)
		}
		return infos[i].ID < infos[j].ID
	})
	return infos
}

// Sweep force-closes browsers whose idle time strictly exceeds maxIdle and
// returns how many were closed. It runs at the browser tier only: closing a
// browser cascades, so idle contexts and pages are cleaned through their
// ancestor.
func (m *Manager) Sweep(ctx context.Context, maxIdle time.Duration) int {
	now := m.now()

	m.mu.Lock()
	var idle []string
	for id, rec := range m.tables.browsers {
		if !rec.closing && now.Sub(rec.lastUsedAt) > maxIdle {
			idle = append(idle, id)
		}
	}
	m.mu.Unlock()
	sort.Strings(idle)

	closed := 0
	for _, id := range idle {
		if err := m.closeBrowserTree(ctx, id, true); err == nil {
			closed++
		}
	}
	if closed > 0 {
		m.log.Info("idle sweep closed browsers", zap.Int("closed", closed))
	}
	return closed
}

// Stats returns entry and liveness counts per tier.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{
		Browsers: len(m.tables.browsers),
		Contexts: len(m.tables.contexts),
		Pages:    len(m.tables.pages),
	}
	for _, rec := range m.tables.browsers {
		if rec.handle.IsLive() {
			s.LiveBrowsers++
		}
	}
	for _, rec := range m.tables.contexts {
		if rec.handle.IsLive() {
			s.LiveContexts++
		}
	}
	for _, rec := range m.tables.pages {
		if rec.handle.IsLive() {
			s.LivePages++
		}
	}
	return s
}

// Shutdown force-closes every browser. Called on process exit after the
// sweeper has been stopped.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.tables.browsers))
	for id := range m.tables.browsers {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	sort.Strings(ids)

	for _, id := range ids {
		_ = m.closeBrowserTree(ctx, id, true)
	}
	m.log.Debug("manager shut down", zap.Int("browsers_closed", len(ids)))
}

func sortedIDs(set map[string]struct{}) []string {
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
