package testutil

import (
	"sync"

	"docmeta-go/internal/core"
)

// Event is one recorded registry notification.
type Event struct {
	Kind       string // "added", "removed", "changed", "modified"
	Doc        core.DocumentHandle
	PageIndex  int
	Annotation core.AnnotationHandle
	Modified   bool
}

// RecordingListener records every registry notification in order.
type RecordingListener struct {
	mu     sync.Mutex
	events []Event
}

func NewRecordingListener() *RecordingListener {
	return &RecordingListener{}
}

func (l *RecordingListener) AnnotationAdded(doc core.DocumentHandle, pageIndex int, a core.AnnotationHandle) {
	l.record(Event{Kind: "added", Doc: doc, PageIndex: pageIndex, Annotation: a})
}

func (l *RecordingListener) AnnotationRemoved(doc core.DocumentHandle, a core.AnnotationHandle) {
	l.record(Event{Kind: "removed", Doc: doc, Annotation: a})
}

func (l *RecordingListener) AnnotationsChanged(doc core.DocumentHandle) {
	l.record(Event{Kind: "changed", Doc: doc})
}

func (l *RecordingListener) DocumentModifiedChanged(doc core.DocumentHandle, modified bool) {
	l.record(Event{Kind: "modified", Doc: doc, Modified: modified})
}

func (l *RecordingListener) record(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

// Events returns a snapshot of the recorded notifications.
func (l *RecordingListener) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

// Reset discards all recorded notifications.
func (l *RecordingListener) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = nil
}

// Kinds returns just the event kinds, in delivery order.
func (l *RecordingListener) Kinds() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	kinds := make([]string, len(l.events))
	for i, e := range l.events {
		kinds[i] = e.Kind
	}
	return kinds
}
