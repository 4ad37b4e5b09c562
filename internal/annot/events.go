package annot

import "docmeta-go/internal/core"

// Listener receives registry notifications. Delivery is synchronous from
// the mutator's perspective and happens while the registry lock is held:
// listeners must not call back into the registry from a notification.
//
// Within a single mutation the order is: the specific event
// (AnnotationAdded/AnnotationRemoved) first, then the aggregate
// AnnotationsChanged, then DocumentModifiedChanged if the document's
// dirty state transitioned.
type Listener interface {
	AnnotationAdded(doc core.DocumentHandle, pageIndex int, a core.AnnotationHandle)
	AnnotationRemoved(doc core.DocumentHandle, a core.AnnotationHandle)
	AnnotationsChanged(doc core.DocumentHandle)
	DocumentModifiedChanged(doc core.DocumentHandle, modified bool)
}

// Subscription identifies a registered listener.
type Subscription int

// Subscribe registers a listener for all registry notifications.
func (r *Registry) Subscribe(l Listener) Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextSub++
	r.listeners[r.nextSub] = l
	return r.nextSub
}

// Unsubscribe removes a previously registered listener. Unknown
// subscriptions are ignored.
func (r *Registry) Unsubscribe(sub Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.listeners, sub)
}

func (r *Registry) emitAdded(doc core.DocumentHandle, pageIndex int, a core.AnnotationHandle) {
	for _, l := range r.listeners {
		l.AnnotationAdded(doc, pageIndex, a)
	}
}

func (r *Registry) emitRemoved(doc core.DocumentHandle, a core.AnnotationHandle) {
	for _, l := range r.listeners {
		l.AnnotationRemoved(doc, a)
	}
}

func (r *Registry) emitChanged(doc core.DocumentHandle) {
	for _, l := range r.listeners {
		l.AnnotationsChanged(doc)
	}
}

func (r *Registry) emitModifiedChanged(doc core.DocumentHandle, modified bool) {
	for _, l := range r.listeners {
		l.DocumentModifiedChanged(doc, modified)
	}
}
