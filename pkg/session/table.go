package session

import "fmt"

// table holds the three forward maps plus the child-to-parent reverse
// indices. It is a pure data structure: no locking, no policy, no driver
// calls. The manager's mutex guards every access.
//
// The reverse indices are maintained in the same call as the forward maps so
// the ownership invariant (every child's parent exists) can be checked in
// O(1) instead of scanning a tier.
type table struct {
	browsers map[string]*browserRecord
	contexts map[string]*contextRecord
	pages    map[string]*pageRecord

	// contextOwner maps context id -> owning browser id.
	contextOwner map[string]string
	// pageOwner maps page id -> owning context id.
	pageOwner map[string]string
}

func newTable() *table {
	return &table{
		browsers:     make(map[string]*browserRecord),
		contexts:     make(map[string]*contextRecord),
		pages:        make(map[string]*pageRecord),
		contextOwner: make(map[string]string),
		pageOwner:    make(map[string]string),
	}
}

// insertBrowser registers a browser record. Duplicate ids are rejected; id
// generation is collision resistant so a duplicate is always a bug.
func (t *table) insertBrowser(rec *browserRecord) error {
	if _, exists := t.browsers[rec.id]; exists {
		return invariantViolation("duplicate browser id %q", rec.id)
	}
	t.browsers[rec.id] = rec
	return nil
}

// insertContext registers a context record and links it into its owning
// browser. The owner must already exist.
func (t *table) insertContext(rec *contextRecord) error {
	if _, exists := t.contexts[rec.id]; exists {
		return invariantViolation("duplicate context id %q", rec.id)
	}
	owner, ok := t.browsers[rec.browserID]
	if !ok {
		return invariantViolation("context %q references missing browser %q", rec.id, rec.browserID)
	}
	t.contexts[rec.id] = rec
	t.contextOwner[rec.id] = rec.browserID
	owner.contexts[rec.id] = struct{}{}
	return nil
}

// insertPage registers a page record and links it into its owning context.
func (t *table) insertPage(rec *pageRecord) error {
	if _, exists := t.pages[rec.id]; exists {
		return invariantViolation("duplicate page id %q", rec.id)
	}
	owner, ok := t.contexts[rec.contextID]
	if !ok {
		return invariantViolation("page %q references missing context %q", rec.id, rec.contextID)
	}
	t.pages[rec.id] = rec
	t.pageOwner[rec.id] = rec.contextID
	owner.pages[rec.id] = struct{}{}
	return nil
}

// deleteBrowser removes a browser entry. Its owned set must already be
// empty; cascading teardown removes children first. Silent on missing id.
func (t *table) deleteBrowser(id string) {
	delete(t.browsers, id)
}

// deleteContext removes a context entry and unlinks it from its owner.
// Silent on missing id.
func (t *table) deleteContext(id string) {
	rec, ok := t.contexts[id]
	if !ok {
		return
	}
	if owner, ok := t.browsers[rec.browserID]; ok {
		delete(owner.contexts, id)
	}
	delete(t.contextOwner, id)
	delete(t.contexts, id)
}

// deletePage removes a page entry and unlinks it from its owner. Silent on
// missing id.
func (t *table) deletePage(id string) {
	rec, ok := t.pages[id]
	if !ok {
		return
	}
	if owner, ok := t.contexts[rec.contextID]; ok {
		delete(owner.pages, id)
	}
	delete(t.pageOwner, id)
	delete(t.pages, id)
}

// ownerOfContext resolves a context's owning browser record, failing with an
// invariant violation if the link is dangling.
func (t *table) ownerOfContext(rec *contextRecord) (*browserRecord, error) {
	owner, ok := t.browsers[rec.browserID]
	if !ok {
		return nil, invariantViolation("context %q references missing browser %q", rec.id, rec.browserID)
	}
	return owner, nil
}

// ownerOfPage resolves a page's owning context record.
func (t *table) ownerOfPage(rec *pageRecord) (*contextRecord, error) {
	owner, ok := t.contexts[rec.contextID]
	if !ok {
		return nil, invariantViolation("page %q references missing context %q", rec.id, rec.contextID)
	}
	return owner, nil
}

// removeBrowserSubtree deletes a browser and every context and page beneath
// it, bookkeeping only. Returns the number of entries removed. Used by the
// external-disconnect path, where the driver resources are already gone.
func (t *table) removeBrowserSubtree(id string) int {
	rec, ok := t.browsers[id]
	if !ok {
		return 0
	}
	removed := 0
	for ctxID := range rec.contexts {
		removed += t.removeContextSubtree(ctxID)
	}
	t.deleteBrowser(id)
	return removed + 1
}

// removeContextSubtree deletes a context and its pages, bookkeeping only.
func (t *table) removeContextSubtree(id string) int {
	rec, ok := t.contexts[id]
	if !ok {
		return 0
	}
	removed := 0
	for pageID := range rec.pages {
		t.deletePage(pageID)
		removed++
	}
	t.deleteContext(id)
	return removed + 1
}

// checkIntegrity walks every entry and verifies the ownership invariants.
// Test hook; not called on hot paths.
func (t *table) checkIntegrity() error {
	for id, rec := range t.contexts {
		owner, ok := t.browsers[rec.browserID]
		if !ok {
			return invariantViolation("context %q references missing browser %q", id, rec.browserID)
		}
		if _, ok := owner.contexts[id]; !ok {
			return invariantViolation("browser %q does not list owned context %q", rec.browserID, id)
		}
		if t.contextOwner[id] != rec.browserID {
			return fmt.Errorf("reverse index mismatch for context %q", id)
		}
	}
	for id, rec := range t.pages {
		owner, ok := t.contexts[rec.contextID]
		if !ok {
			return invariantViolation("page %q references missing context %q", id, rec.contextID)
		}
		if _, ok := owner.pages[id]; !ok {
			return invariantViolation("context %q does not list owned page %q", rec.contextID, id)
		}
		if t.pageOwner[id] != rec.contextID {
			return fmt.Errorf("reverse index mismatch for page %q", id)
		}
	}
	for id, rec := range t.browsers {
		for ctxID := range rec.contexts {
			if _, ok := t.contexts[ctxID]; !ok {
				return invariantViolation("browser %q lists missing context %q", id, ctxID)
			}
		}
	}
	for id, rec := range t.contexts {
		for pageID := range rec.pages {
			if _, ok := t.pages[pageID]; !ok {
				return invariantViolation("context %q lists missing page %q", id, pageID)
			}
		}
	}
	return nil
}
