// Package annot maintains the process-wide index of annotations belonging
// to loaded documents, tracks per-document modification state, and hands
// dirty annotations off to a save preparer.
package annot

import (
	"fmt"
	"sort"
	"sync"

	"docmeta-go/internal/core"
)

// docEntry holds all index state for one registered document.
type docEntry struct {
	// all maps each annotation to the page index it was registered with.
	all map[core.AnnotationHandle]int
	// pages maps a page index to the annotations on that page.
	// Maintained in lockstep with all.
	pages map[int]map[core.AnnotationHandle]struct{}
}

func newDocEntry() *docEntry {
	return &docEntry{
		all:   make(map[core.AnnotationHandle]int),
		pages: make(map[int]map[core.AnnotationHandle]struct{}),
	}
}

// Registry is the annotation registry. It holds non-owning references to
// annotation handles; the shell must unregister a document before the
// handles behind it become invalid. All methods are safe for concurrent
// use; a single mutex guards the indices, the dirty set, and the
// listener table.
type Registry struct {
	mu        sync.Mutex
	docs      map[core.DocumentHandle]*docEntry
	dirty     map[core.DocumentHandle]struct{}
	gens      map[core.DocumentHandle]uint64
	listeners map[Subscription]Listener
	nextSub   Subscription
	preparer  core.SavePreparer
	logger    core.Logger
}

// New creates an empty Registry. preparer may be nil; PrepareForSave then
// fails until SetSavePreparer is called.
func New(preparer core.SavePreparer, logger core.Logger) *Registry {
	if logger == nil {
		logger = core.NewNopLogger()
	}
	return &Registry{
		docs:      make(map[core.DocumentHandle]*docEntry),
		dirty:     make(map[core.DocumentHandle]struct{}),
		gens:      make(map[core.DocumentHandle]uint64),
		listeners: make(map[Subscription]Listener),
		preparer:  preparer,
		logger:    logger,
	}
}

// SetSavePreparer replaces the save preparer used by PrepareForSave.
func (r *Registry) SetSavePreparer(p core.SavePreparer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.preparer = p
}

// RegisterDocument makes doc known to the registry. Idempotent; nil input
// is ignored. Tracking state is also reserved implicitly on first Add.
func (r *Registry) RegisterDocument(doc core.DocumentHandle) {
	if doc == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entryFor(doc)
}

// entryFor returns the docEntry for doc, creating it if needed.
// Callers must hold r.mu.
func (r *Registry) entryFor(doc core.DocumentHandle) *docEntry {
	e, ok := r.docs[doc]
	if !ok {
		e = newDocEntry()
		r.docs[doc] = e
	}
	return e
}

// UnregisterDocument purges every index entry for doc. A removal
// notification is emitted for each of its annotations, followed by one
// aggregate AnnotationsChanged. After return no registry state references
// doc.
func (r *Registry) UnregisterDocument(doc core.DocumentHandle) {
	if doc == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.docs[doc]
	if !ok {
		delete(r.dirty, doc)
		return
	}

	for a := range e.all {
		r.emitRemoved(doc, a)
	}
	delete(r.docs, doc)
	delete(r.dirty, doc)
	delete(r.gens, doc)
	r.emitChanged(doc)

	r.logger.Debug("document unregistered", "path", doc.Path(), "annotations", len(e.all))
}

// Add inserts an annotation for doc on pageIndex and marks doc dirty.
// Returns false if the annotation is already registered for doc; the
// duplicate is a caller contract violation, logged but not an error.
func (r *Registry) Add(doc core.DocumentHandle, pageIndex int, a core.AnnotationHandle) bool {
	if doc == nil || a == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.entryFor(doc)
	if _, exists := e.all[a]; exists {
		r.logger.Warn("duplicate annotation add rejected", "path", doc.Path(), "page", pageIndex)
		return false
	}

	e.all[a] = pageIndex
	page, ok := e.pages[pageIndex]
	if !ok {
		page = make(map[core.AnnotationHandle]struct{})
		e.pages[pageIndex] = page
	}
	page[a] = struct{}{}

	r.emitAdded(doc, pageIndex, a)
	r.emitChanged(doc)
	r.markDirtyLocked(doc)
	return true
}

// Remove deletes an annotation from all indices and marks doc dirty.
// The page index is recovered from the per-document index. Returns false
// if the annotation is not registered for doc; not-found is not an error.
func (r *Registry) Remove(doc core.DocumentHandle, a core.AnnotationHandle) bool {
	if doc == nil || a == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.docs[doc]
	if !ok {
		return false
	}
	pageIndex, ok := e.all[a]
	if !ok {
		return false
	}

	delete(e.all, a)
	if page, ok := e.pages[pageIndex]; ok {
		delete(page, a)
		if len(page) == 0 {
			delete(e.pages, pageIndex)
		}
	}

	r.emitRemoved(doc, a)
	r.emitChanged(doc)
	r.markDirtyLocked(doc)
	return true
}

// ForDocument returns a snapshot of all annotations registered for doc.
func (r *Registry) ForDocument(doc core.DocumentHandle) []core.AnnotationHandle {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.docs[doc]
	if !ok {
		return nil
	}
	out := make([]core.AnnotationHandle, 0, len(e.all))
	for a := range e.all {
		out = append(out, a)
	}
	return out
}

// ForPage returns a snapshot of the annotations on one page of doc.
func (r *Registry) ForPage(doc core.DocumentHandle, pageIndex int) []core.AnnotationHandle {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.docs[doc]
	if !ok {
		return nil
	}
	page, ok := e.pages[pageIndex]
	if !ok {
		return nil
	}
	out := make([]core.AnnotationHandle, 0, len(page))
	for a := range page {
		out = append(out, a)
	}
	return out
}

// InRect returns the annotations on one page of doc whose bounding box
// intersects rect. Touching edges count as intersection.
func (r *Registry) InRect(doc core.DocumentHandle, pageIndex int, rect core.Rect) []core.AnnotationHandle {
	candidates := r.ForPage(doc, pageIndex)

	var out []core.AnnotationHandle
	for _, a := range candidates {
		if a.Bounds().Intersects(rect) {
			out = append(out, a)
		}
	}
	return out
}

// Count returns the total number of registered annotations across all
// documents.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, e := range r.docs {
		n += len(e.all)
	}
	return n
}

// CountFor returns the number of annotations registered for doc.
func (r *Registry) CountFor(doc core.DocumentHandle) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.docs[doc]
	if !ok {
		return 0
	}
	return len(e.all)
}

// ModifiedFor returns the subset of doc's annotations whose self-reported
// dirty flag is set. The registry only reads the flag; the editing layer
// maintains it.
func (r *Registry) ModifiedFor(doc core.DocumentHandle) []core.AnnotationHandle {
	all := r.ForDocument(doc)

	var out []core.AnnotationHandle
	for _, a := range all {
		if a.Dirty() {
			out = append(out, a)
		}
	}
	return out
}

// MarkModified adds doc to the dirty set. DocumentModifiedChanged is
// emitted only if doc was not already dirty.
func (r *Registry) MarkModified(doc core.DocumentHandle) {
	if doc == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.markDirtyLocked(doc)
}

// markDirtyLocked inserts doc into the dirty set, emitting the transition
// notification if it was clean. Every call bumps the document's
// generation, dirty or not, so an in-flight PrepareForSave can tell that
// a mutation landed during its callout. Callers must hold r.mu.
func (r *Registry) markDirtyLocked(doc core.DocumentHandle) {
	r.gens[doc]++
	if _, ok := r.dirty[doc]; ok {
		return
	}
	r.dirty[doc] = struct{}{}
	r.emitModifiedChanged(doc, true)
}

// IsModified reports whether doc has pending annotation changes.
func (r *Registry) IsModified(doc core.DocumentHandle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.dirty[doc]
	return ok
}

// preparedItem pairs an annotation with its page for the save handoff.
type preparedItem struct {
	page int
	a    core.AnnotationHandle
}

// PrepareForSave hands doc's dirty annotations to the save preparer.
// A clean doc returns nil immediately. The annotation snapshot is taken
// under the registry lock, but the per-annotation preparer callout runs
// without it, so saves do not block concurrent registry use. If every
// annotation prepared successfully and no add, remove, or MarkModified
// landed during the callout, the dirty flag is cleared and
// DocumentModifiedChanged(doc, false) is emitted; on partial failure the
// flag stays set and a *PrepareError is returned. A mutation racing with
// the callout leaves doc dirty after a successful return; the next
// PrepareForSave picks up the late change.
func (r *Registry) PrepareForSave(doc core.DocumentHandle) error {
	if doc == nil {
		return fmt.Errorf("nil document handle")
	}

	r.mu.Lock()
	if _, dirty := r.dirty[doc]; !dirty {
		r.mu.Unlock()
		return nil
	}
	preparer := r.preparer
	gen := r.gens[doc]
	var snapshot []preparedItem
	if e, ok := r.docs[doc]; ok {
		for a, page := range e.all {
			if a.Dirty() {
				snapshot = append(snapshot, preparedItem{page: page, a: a})
			}
		}
	}
	r.mu.Unlock()

	if preparer == nil {
		return fmt.Errorf("no save preparer configured")
	}

	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].page < snapshot[j].page })

	var failed []error
	for _, item := range snapshot {
		if err := preparer.Prepare(doc, item.page, item.a); err != nil {
			r.logger.Error("annotation save preparation failed",
				"path", doc.Path(), "page", item.page, "error", err.Error())
			failed = append(failed, err)
		}
	}

	if len(failed) > 0 {
		return &PrepareError{Path: doc.Path(), Total: len(snapshot), Failures: failed}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// A mutation during the callout bumps the generation; the late change
	// was not part of this save, so the document must stay dirty for the
	// next PrepareForSave to pick up.
	if r.gens[doc] != gen {
		return nil
	}
	if _, dirty := r.dirty[doc]; dirty {
		delete(r.dirty, doc)
		r.emitModifiedChanged(doc, false)
	}
	return nil
}

// PrepareError reports a partially failed save preparation. The document
// stays marked dirty.
type PrepareError struct {
	Path     string
	Total    int
	Failures []error
}

func (e *PrepareError) Error() string {
	return fmt.Sprintf("preparing %s for save: %d of %d annotations failed",
		e.Path, len(e.Failures), e.Total)
}
