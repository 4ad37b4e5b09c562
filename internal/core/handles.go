package core

// DocumentHandle is an opaque reference to a loaded document.
// Implementations are compared by identity: the same document must be
// represented by the same handle value for the lifetime of the load.
type DocumentHandle interface {
	// Path returns the document's file path.
	Path() string
}

// AnnotationHandle is an opaque reference to an annotation owned by a
// loaded document. The core never assumes anything about the object
// behind the handle beyond these accessors.
type AnnotationHandle interface {
	// Bounds returns the annotation's bounding box on its page.
	Bounds() Rect

	// Dirty reports whether the annotation has unsaved changes.
	// The flag is maintained by the editing layer; the core only reads it.
	Dirty() bool
}

// SavePreparer converts in-memory annotation changes into whatever
// persistent staging the underlying file format requires. The registry
// calls Prepare once per dirty annotation outside its lock; Prepare is
// expected to tolerate concurrent calls for different documents.
type SavePreparer interface {
	Prepare(doc DocumentHandle, pageIndex int, a AnnotationHandle) error
}

// SavePreparerFunc adapts a function to the SavePreparer interface.
type SavePreparerFunc func(doc DocumentHandle, pageIndex int, a AnnotationHandle) error

func (f SavePreparerFunc) Prepare(doc DocumentHandle, pageIndex int, a AnnotationHandle) error {
	return f(doc, pageIndex, a)
}
