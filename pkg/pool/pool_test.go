package pool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/browserpool/pkg/driver"
	"github.com/entrhq/browserpool/pkg/driver/drivertest"
	"github.com/entrhq/browserpool/pkg/session"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestPool(t *testing.T, limits Limits) (*Pool, *drivertest.Driver, *fakeClock) {
	t.Helper()
	drv := drivertest.New()
	clk := newFakeClock()
	m := session.NewManager(drv, session.WithClock(clk.Now))
	return New(m, limits), drv, clk
}

func TestPool_AcquireBrowserReusesLive(t *testing.T) {
	p, drv, _ := newTestPool(t, DefaultLimits())
	ctx := context.Background()

	first, err := p.AcquireBrowser(ctx, driver.KindChromium, driver.LaunchOptions{})
	require.NoError(t, err)

	second, err := p.AcquireBrowser(ctx, driver.KindChromium, driver.LaunchOptions{})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, drv.Launches())
}

func TestPool_AcquireBrowserReuseRefreshesTimestamp(t *testing.T) {
	p, _, clk := newTestPool(t, DefaultLimits())
	ctx := context.Background()

	id, err := p.AcquireBrowser(ctx, driver.KindChromium, driver.LaunchOptions{})
	require.NoError(t, err)

	clk.Advance(time.Minute)
	_, err = p.AcquireBrowser(ctx, driver.KindChromium, driver.LaunchOptions{})
	require.NoError(t, err)

	browsers := p.Manager().ListBrowsers("")
	require.Len(t, browsers, 1)
	assert.Equal(t, id, browsers[0].ID)
	assert.True(t, browsers[0].LastUsedAt.Equal(clk.Now()))
}

func TestPool_AcquireBrowserSkipsDeadAndCreates(t *testing.T) {
	p, drv, _ := newTestPool(t, DefaultLimits())
	ctx := context.Background()

	first, err := p.AcquireBrowser(ctx, driver.KindChromium, driver.LaunchOptions{})
	require.NoError(t, err)

	drv.LastBrowser().Kill()

	second, err := p.AcquireBrowser(ctx, driver.KindChromium, driver.LaunchOptions{})
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.Equal(t, 2, drv.Launches())

	// The dead entry was reaped during reuse scanning.
	browsers := p.Manager().ListBrowsers("")
	require.Len(t, browsers, 1)
	assert.Equal(t, second, browsers[0].ID)
}

func TestPool_AcquireBrowserEvictsAtCapacity(t *testing.T) {
	p, drv, _ := newTestPool(t, Limits{MaxBrowsers: 1})
	ctx := context.Background()

	first, err := p.AcquireBrowser(ctx, driver.KindChromium, driver.LaunchOptions{})
	require.NoError(t, err)

	// A different kind cannot reuse the chromium entry, so the pool must
	// make room: the only resident browser is force-closed.
	second, err := p.AcquireBrowser(ctx, driver.KindFirefox, driver.LaunchOptions{})
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	browsers := p.Manager().ListBrowsers("")
	require.Len(t, browsers, 1)
	assert.Equal(t, second, browsers[0].ID)
	assert.Equal(t, driver.KindFirefox, browsers[0].Kind)
	assert.Equal(t, 1, drv.Browsers()[0].CloseCalls())
}

func TestPool_EvictionPicksLeastRecentlyUsed(t *testing.T) {
	p, _, clk := newTestPool(t, Limits{MaxBrowsers: 3})
	ctx := context.Background()
	m := p.Manager()

	a, err := m.CreateBrowser(ctx, driver.KindChromium, driver.LaunchOptions{})
	require.NoError(t, err)
	clk.Advance(time.Second)
	b, err := m.CreateBrowser(ctx, driver.KindChromium, driver.LaunchOptions{})
	require.NoError(t, err)
	clk.Advance(time.Second)
	c, err := m.CreateBrowser(ctx, driver.KindChromium, driver.LaunchOptions{})
	require.NoError(t, err)

	// Touch a and c so b holds the smallest last-used time.
	clk.Advance(time.Second)
	_, err = m.GetBrowser(a)
	require.NoError(t, err)
	_, err = m.GetBrowser(c)
	require.NoError(t, err)

	newID, err := p.AcquireBrowser(ctx, driver.KindWebKit, driver.LaunchOptions{})
	require.NoError(t, err)

	ids := make(map[string]bool)
	for _, info := range m.ListBrowsers("") {
		ids[info.ID] = true
	}
	assert.True(t, ids[a])
	assert.False(t, ids[b], "LRU browser should have been evicted")
	assert.True(t, ids[c])
	assert.True(t, ids[newID])
}

func TestPool_EvictionTieBreaksOnCreation(t *testing.T) {
	p, _, clk := newTestPool(t, Limits{MaxBrowsers: 2})
	ctx := context.Background()
	m := p.Manager()

	earlier, err := m.CreateBrowser(ctx, driver.KindChromium, driver.LaunchOptions{})
	require.NoError(t, err)
	clk.Advance(time.Second)
	later, err := m.CreateBrowser(ctx, driver.KindChromium, driver.LaunchOptions{})
	require.NoError(t, err)

	// Refresh both at the same instant so last-used times tie and the
	// decision falls to creation order.
	clk.Advance(time.Second)
	_, err = m.GetBrowser(earlier)
	require.NoError(t, err)
	_, err = m.GetBrowser(later)
	require.NoError(t, err)

	_, err = p.AcquireBrowser(ctx, driver.KindFirefox, driver.LaunchOptions{})
	require.NoError(t, err)

	ids := make(map[string]bool)
	for _, info := range m.ListBrowsers("") {
		ids[info.ID] = true
	}
	assert.False(t, ids[earlier], "oldest creation should lose the tie")
	assert.True(t, ids[later])
}

func TestPool_AcquireContextUnderMissingBrowser(t *testing.T) {
	p, _, _ := newTestPool(t, DefaultLimits())

	_, err := p.AcquireContext(context.Background(), "nope", driver.ContextOptions{})
	assert.True(t, session.IsNotFound(err))
}

func TestPool_AcquireContextReuseAndEvict(t *testing.T) {
	p, drv, _ := newTestPool(t, Limits{MaxContextsPerBrowser: 1})
	ctx := context.Background()

	browserID, err := p.AcquireBrowser(ctx, driver.KindChromium, driver.LaunchOptions{})
	require.NoError(t, err)

	first, err := p.AcquireContext(ctx, browserID, driver.ContextOptions{})
	require.NoError(t, err)

	// A live sibling is reused, not duplicated.
	again, err := p.AcquireContext(ctx, browserID, driver.ContextOptions{})
	require.NoError(t, err)
	assert.Equal(t, first, again)

	// Once the resident context dies, acquisition is at capacity with no
	// reusable sibling: the dead entry is reaped and a new one created.
	drv.LastBrowser().Contexts()[0].Kill()
	second, err := p.AcquireContext(ctx, browserID, driver.ContextOptions{})
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	contexts := p.Manager().ListContexts(browserID)
	require.Len(t, contexts, 1)
	assert.Equal(t, second, contexts[0].ID)
}

func TestPool_AcquireContextPrefersReuseAtCapacity(t *testing.T) {
	p, drv, clk := newTestPool(t, Limits{MaxContextsPerBrowser: 2})
	ctx := context.Background()
	m := p.Manager()

	browserID, err := p.AcquireBrowser(ctx, driver.KindChromium, driver.LaunchOptions{})
	require.NoError(t, err)

	first, err := m.CreateContext(ctx, browserID, driver.ContextOptions{})
	require.NoError(t, err)
	clk.Advance(time.Second)
	second, err := m.CreateContext(ctx, browserID, driver.ContextOptions{})
	require.NoError(t, err)

	// At capacity with live siblings, acquisition reuses instead of
	// evicting.
	reused, err := p.AcquireContext(ctx, browserID, driver.ContextOptions{})
	require.NoError(t, err)
	assert.Contains(t, []string{first, second}, reused)

	// Kill both and the next acquire reaps them during scanning, then
	// creates fresh below capacity.
	for _, c := range drv.LastBrowser().Contexts() {
		c.Kill()
	}
	fresh, err := p.AcquireContext(ctx, browserID, driver.ContextOptions{})
	require.NoError(t, err)
	assert.NotContains(t, []string{first, second}, fresh)
	assert.Len(t, m.ListContexts(browserID), 1)
}

func TestPool_AcquirePageReuseAndCreate(t *testing.T) {
	p, _, _ := newTestPool(t, DefaultLimits())
	ctx := context.Background()

	browserID, err := p.AcquireBrowser(ctx, driver.KindChromium, driver.LaunchOptions{})
	require.NoError(t, err)
	contextID, err := p.AcquireContext(ctx, browserID, driver.ContextOptions{})
	require.NoError(t, err)

	first, err := p.AcquirePage(ctx, contextID)
	require.NoError(t, err)
	again, err := p.AcquirePage(ctx, contextID)
	require.NoError(t, err)
	assert.Equal(t, first, again)

	_, err = p.AcquirePage(ctx, "nope")
	assert.True(t, session.IsNotFound(err))
}

func TestPool_AcquirePageReapsDeadSiblings(t *testing.T) {
	p, drv, clk := newTestPool(t, Limits{MaxPagesPerContext: 2})
	ctx := context.Background()
	m := p.Manager()

	browserID, err := p.AcquireBrowser(ctx, driver.KindChromium, driver.LaunchOptions{})
	require.NoError(t, err)
	contextID, err := p.AcquireContext(ctx, browserID, driver.ContextOptions{})
	require.NoError(t, err)

	oldest, err := m.CreatePage(ctx, contextID)
	require.NoError(t, err)
	clk.Advance(time.Second)
	newest, err := m.CreatePage(ctx, contextID)
	require.NoError(t, err)

	// Both resident pages are dead, so reuse fails; the first dead entry
	// is reaped during scanning, dropping below capacity.
	pages := drv.LastBrowser().Contexts()[0].Pages()
	for _, page := range pages {
		page.Kill()
	}
	fresh, err := p.AcquirePage(ctx, contextID)
	require.NoError(t, err)
	assert.NotEqual(t, oldest, fresh)
	assert.NotEqual(t, newest, fresh)
	assert.Len(t, m.ListPages(contextID), 1)
}

func TestPool_VictimSelectionDeterministic(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	contexts := []session.ContextInfo{
		{ID: "c", CreatedAt: t0.Add(2 * time.Second), LastUsedAt: t0.Add(10 * time.Second)},
		{ID: "a", CreatedAt: t0.Add(time.Second), LastUsedAt: t0.Add(5 * time.Second)},
		{ID: "b", CreatedAt: t0, LastUsedAt: t0.Add(5 * time.Second)},
	}
	// b ties with a on last-used but was created earlier.
	assert.Equal(t, "b", pickContextVictim(contexts))

	pages := []session.PageInfo{
		{ID: "y", CreatedAt: t0, LastUsedAt: t0},
		{ID: "x", CreatedAt: t0, LastUsedAt: t0},
	}
	// Full tie falls back to id order.
	assert.Equal(t, "x", pickPageVictim(pages))
}

func TestPool_LimitsDefaulting(t *testing.T) {
	drv := drivertest.New()
	m := session.NewManager(drv)
	p := New(m, Limits{})

	assert.Equal(t, DefaultMaxBrowsers, p.limits.MaxBrowsers)
	assert.Equal(t, DefaultMaxContextsPerBrowser, p.limits.MaxContextsPerBrowser)
	assert.Equal(t, DefaultMaxPagesPerContext, p.limits.MaxPagesPerContext)
}
