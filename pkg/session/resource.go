package session

import (
	"time"

	"github.com/entrhq/browserpool/pkg/driver"
)

// browserRecord is the manager's bookkeeping for one live browser process.
// All fields are guarded by the manager's mutex.
type browserRecord struct {
	id         string
	kind       driver.BrowserKind
	handle     driver.BrowserHandle
	createdAt  time.Time
	lastUsedAt time.Time

	// contexts is the owned set of child context ids.
	contexts map[string]struct{}

	// closing guards the teardown path against reentry: once set, every
	// other close or disconnect for this subtree is a no-op.
	closing bool
}

// contextRecord is the bookkeeping for one browsing context.
type contextRecord struct {
	id         string
	browserID  string
	handle     driver.ContextHandle
	createdAt  time.Time
	lastUsedAt time.Time

	pages   map[string]struct{}
	closing bool
}

// pageRecord is the bookkeeping for one page. URL and title are denormalized
// display fields refreshed opportunistically; they may lag the live page.
type pageRecord struct {
	id         string
	contextID  string
	handle     driver.PageHandle
	createdAt  time.Time
	lastUsedAt time.Time

	url     string
	title   string
	closing bool
}

// BrowserInfo is a read-only snapshot of a browser entry.
type BrowserInfo struct {
	ID         string
	Kind       driver.BrowserKind
	CreatedAt  time.Time
	LastUsedAt time.Time
	Live       bool
	Contexts   int
}

// ContextInfo is a read-only snapshot of a context entry.
type ContextInfo struct {
	ID         string
	BrowserID  string
	CreatedAt  time.Time
	LastUsedAt time.Time
	Live       bool
	Pages      int
}

// PageInfo is a read-only snapshot of a page entry.
type PageInfo struct {
	ID         string
	ContextID  string
	CreatedAt  time.Time
	LastUsedAt time.Time
	Live       bool
	URL        string
	Title      string
}

// Stats reports entry and liveness counts per tier.
type Stats struct {
	Browsers     int
	LiveBrowsers int
	Contexts     int
	LiveContexts int
	Pages        int
	LivePages    int
}
