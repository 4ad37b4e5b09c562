package testutil

import (
	"fmt"
	"sync"

	"docmeta-go/internal/core"
)

// StubDocument is a DocumentHandle for tests. Identity is pointer
// equality, so create each test document exactly once.
type StubDocument struct {
	FilePath string
}

func NewStubDocument(path string) *StubDocument {
	return &StubDocument{FilePath: path}
}

func (d *StubDocument) Path() string { return d.FilePath }

// StubAnnotation is an AnnotationHandle for tests with a settable dirty flag.
type StubAnnotation struct {
	mu     sync.Mutex
	bounds core.Rect
	dirty  bool
}

func NewStubAnnotation(bounds core.Rect, dirty bool) *StubAnnotation {
	return &StubAnnotation{bounds: bounds, dirty: dirty}
}

func (a *StubAnnotation) Bounds() core.Rect {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.bounds
}

func (a *StubAnnotation) Dirty() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dirty
}

// SetDirty flips the annotation's self-reported dirty flag, the way the
// editing layer would after a mutation or a save.
func (a *StubAnnotation) SetDirty(dirty bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.dirty = dirty
}

// ScriptedPreparer is a SavePreparer that succeeds or fails per annotation.
type ScriptedPreparer struct {
	mu sync.Mutex
	// FailFor holds annotations whose preparation should fail.
	FailFor map[core.AnnotationHandle]bool
	// Prepared records every (annotation, page) handed to Prepare, in order.
	Prepared []PreparedCall
}

// PreparedCall is one recorded Prepare invocation.
type PreparedCall struct {
	Doc        core.DocumentHandle
	PageIndex  int
	Annotation core.AnnotationHandle
}

func NewScriptedPreparer() *ScriptedPreparer {
	return &ScriptedPreparer{FailFor: make(map[core.AnnotationHandle]bool)}
}

func (p *ScriptedPreparer) Prepare(doc core.DocumentHandle, pageIndex int, a core.AnnotationHandle) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Prepared = append(p.Prepared, PreparedCall{Doc: doc, PageIndex: pageIndex, Annotation: a})
	if p.FailFor[a] {
		return fmt.Errorf("scripted preparation failure")
	}
	return nil
}

// Calls returns a snapshot of the recorded Prepare invocations.
func (p *ScriptedPreparer) Calls() []PreparedCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PreparedCall(nil), p.Prepared...)
}
