// Package session tracks live browser resources across three tiers:
// browsers, the browsing contexts they own, and the pages within those
// contexts.
//
// The tiers form a strict tree. Every context belongs to exactly one
// browser and every page to exactly one context; reverse indices keep the
// parent of any id resolvable in constant time. The Manager is the sole
// owner of the tables and the only component allowed to mutate them.
//
// # Lifecycle
//
// A resource is created through the Manager, which invokes the driver and
// registers the returned handle. It is destroyed by explicit close, by its
// parent's cascading close, by the idle sweep, by pool eviction, or by the
// driver's external disconnect signal. Teardown is always bottom-up: a
// browser's pages close before their contexts, contexts before the browser
// itself, and table entries are removed only after the corresponding driver
// close has settled. A concurrent enumeration therefore never observes a
// parent whose listed children are gone.
//
// Closing is idempotent. A per-resource closing flag makes the cascade
// reentrant-safe: a disconnect signal arriving while an explicit close is in
// flight is a no-op, and a second close of an already-removed id does
// nothing.
//
// # Liveness
//
// Lookups refresh the last-used timestamp up the ownership chain, so an
// active page keeps its context and browser warm for LRU eviction. A lookup
// that finds a dead handle tears the subtree down first and then reports
// NotFound; callers never receive a handle the driver no longer backs.
package session
