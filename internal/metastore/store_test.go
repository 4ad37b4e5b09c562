package metastore

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"docmeta-go/internal/core"
	"docmeta-go/internal/testutil"
)

// newTestStore creates an initialized in-memory store.
func newTestStore(t *testing.T) *Store {
	t.Helper()

	s := New(core.NewNopLogger(), testutil.FixedClock())
	if err := s.Init(":memory:"); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(func() {
		s.Close()
	})
	return s
}

// writeFile creates a file with the given content and returns its path.
func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing test file: %v", err)
	}
	return path
}

func TestStore_Init(t *testing.T) {
	t.Run("creates database file and directory", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "sub", "dir", "metadata.db")

		s := New(nil, nil)
		if err := s.Init(dbPath); err != nil {
			t.Fatalf("Init() error = %v", err)
		}
		defer s.Close()

		if _, err := os.Stat(dbPath); err != nil {
			t.Errorf("database file not created: %v", err)
		}
		if !s.IsInitialized() {
			t.Error("IsInitialized() = false after Init")
		}
	})

	t.Run("is idempotent", func(t *testing.T) {
		s := newTestStore(t)

		if err := s.Init(":memory:"); err != nil {
			t.Fatalf("second Init() error = %v", err)
		}
	})

	t.Run("operations before init fail fast", func(t *testing.T) {
		s := New(nil, nil)

		if _, err := s.Retrieve("/x"); !errors.Is(err, ErrNotInitialized) {
			t.Errorf("Retrieve error = %v, want ErrNotInitialized", err)
		}
		if err := s.Remove("/x"); !errors.Is(err, ErrNotInitialized) {
			t.Errorf("Remove error = %v, want ErrNotInitialized", err)
		}
		if _, err := s.Search("q", nil); !errors.Is(err, ErrNotInitialized) {
			t.Errorf("Search error = %v, want ErrNotInitialized", err)
		}
		if _, err := s.EntryCount(); !errors.Is(err, ErrNotInitialized) {
			t.Errorf("EntryCount error = %v, want ErrNotInitialized", err)
		}
		if err := s.Begin(); !errors.Is(err, ErrNotInitialized) {
			t.Errorf("Begin error = %v, want ErrNotInitialized", err)
		}
		if err := s.Vacuum(); !errors.Is(err, ErrNotInitialized) {
			t.Errorf("Vacuum error = %v, want ErrNotInitialized", err)
		}
	})
}

func TestStore_StorePath_Retrieve(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		s := newTestStore(t)
		dir := t.TempDir()
		path := writeFile(t, dir, "x.pdf", "pdf payload")

		props := map[string]string{"title": "Alpha", "author": "Zed", "empty": ""}
		if err := s.StorePath(path, props); err != nil {
			t.Fatalf("StorePath() error = %v", err)
		}

		got, err := s.Retrieve(path)
		if err != nil {
			t.Fatalf("Retrieve() error = %v", err)
		}
		if !reflect.DeepEqual(got, props) {
			t.Errorf("Retrieve() = %v, want %v", got, props)
		}
	})

	t.Run("missing path yields empty map", func(t *testing.T) {
		s := newTestStore(t)

		got, err := s.Retrieve("/nonexistent.pdf")
		if err != nil {
			t.Fatalf("Retrieve() error = %v", err)
		}
		if len(got) != 0 {
			t.Errorf("Retrieve() = %v, want empty", got)
		}
	})

	t.Run("records the content digest", func(t *testing.T) {
		s := newTestStore(t)
		dir := t.TempDir()
		path := writeFile(t, dir, "a.txt", "abc")

		if err := s.StorePath(path, nil); err != nil {
			t.Fatalf("StorePath() error = %v", err)
		}

		var digest string
		var size int64
		err := s.db.QueryRow(`SELECT digest, size FROM files WHERE path = ?`, path).Scan(&digest, &size)
		if err != nil {
			t.Fatalf("querying file row: %v", err)
		}
		if want := testutil.SHA256Hex([]byte("abc")); digest != want {
			t.Errorf("digest = %q, want %q", digest, want)
		}
		if size != 3 {
			t.Errorf("size = %d, want 3", size)
		}
	})

	t.Run("missing file is an error", func(t *testing.T) {
		s := newTestStore(t)

		err := s.StorePath(filepath.Join(t.TempDir(), "missing.pdf"), nil)
		if err == nil {
			t.Fatal("StorePath() expected error for missing file")
		}
	})

	t.Run("empty path is invalid input", func(t *testing.T) {
		s := newTestStore(t)

		if err := s.StorePath("", nil); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("StorePath(\"\") error = %v, want ErrInvalidInput", err)
		}
	})
}

func TestStore_Upsert(t *testing.T) {
	t.Run("file id is stable across upserts of the same path", func(t *testing.T) {
		s := newTestStore(t)
		dir := t.TempDir()
		path := writeFile(t, dir, "x.pdf", "version one")

		if err := s.StorePath(path, map[string]string{"title": "One"}); err != nil {
			t.Fatalf("first StorePath() error = %v", err)
		}
		var firstID int64
		if err := s.db.QueryRow(`SELECT id FROM files WHERE path = ?`, path).Scan(&firstID); err != nil {
			t.Fatal(err)
		}

		writeFile(t, dir, "x.pdf", "version two")
		if err := s.StorePath(path, map[string]string{"title": "Two"}); err != nil {
			t.Fatalf("second StorePath() error = %v", err)
		}

		var secondID int64
		if err := s.db.QueryRow(`SELECT id FROM files WHERE path = ?`, path).Scan(&secondID); err != nil {
			t.Fatal(err)
		}
		if firstID != secondID {
			t.Errorf("file id changed across upsert: %d -> %d", firstID, secondID)
		}

		// The metadata rows must survive the upsert (a row replace would
		// cascade them away).
		got, err := s.Retrieve(path)
		if err != nil {
			t.Fatal(err)
		}
		if got["title"] != "Two" {
			t.Errorf("title = %q, want %q", got["title"], "Two")
		}
	})

	t.Run("equal keys do not accumulate", func(t *testing.T) {
		s := newTestStore(t)
		dir := t.TempDir()
		path := writeFile(t, dir, "x.pdf", "content")

		if err := s.StorePath(path, map[string]string{"title": "A", "author": "B"}); err != nil {
			t.Fatal(err)
		}
		if err := s.StorePath(path, map[string]string{"title": "C"}); err != nil {
			t.Fatal(err)
		}

		n, err := s.EntryCount()
		if err != nil {
			t.Fatal(err)
		}
		if n != 2 {
			t.Errorf("EntryCount() = %d, want 2", n)
		}

		got, _ := s.Retrieve(path)
		if got["title"] != "C" {
			t.Errorf("title = %q, want %q (overwritten)", got["title"], "C")
		}
		if got["author"] != "B" {
			t.Errorf("author = %q, want %q (preserved)", got["author"], "B")
		}
	})

	t.Run("failing key does not abort the batch", func(t *testing.T) {
		s := newTestStore(t)
		dir := t.TempDir()
		path := writeFile(t, dir, "x.pdf", "content")

		err := s.StorePath(path, map[string]string{"author": "B", "": "nameless"})
		if err == nil {
			t.Fatal("StorePath() with an empty key expected error")
		}
		var partial *PartialError
		if !errors.As(err, &partial) {
			t.Fatalf("error = %T, want *PartialError", err)
		}
		if partial.Total != 2 || len(partial.Failures) != 1 {
			t.Errorf("PartialError = %+v, want 1 of 2 failed", partial)
		}
		if partial.Failures[0].Key != "" {
			t.Errorf("failed key = %q, want empty", partial.Failures[0].Key)
		}

		// The valid key was stored regardless.
		got, _ := s.Retrieve(path)
		if got["author"] != "B" {
			t.Errorf("author = %q, want %q", got["author"], "B")
		}
		if _, ok := got[""]; ok {
			t.Error("empty key was stored")
		}
	})

	t.Run("duplicate content digest surfaces a store error", func(t *testing.T) {
		s := newTestStore(t)
		dir := t.TempDir()
		p1 := writeFile(t, dir, "one.txt", "identical bytes")
		p2 := writeFile(t, dir, "two.txt", "identical bytes")

		if err := s.StorePath(p1, nil); err != nil {
			t.Fatal(err)
		}

		err := s.StorePath(p2, nil)
		if err == nil {
			t.Fatal("StorePath() expected error for duplicate digest")
		}
		var storeErr *StoreError
		if !errors.As(err, &storeErr) {
			t.Errorf("error = %T, want *StoreError", err)
		}
	})
}

func TestStore_Remove(t *testing.T) {
	t.Run("cascades metadata", func(t *testing.T) {
		s := newTestStore(t)
		dir := t.TempDir()
		path := writeFile(t, dir, "x.pdf", "content x")
		other := writeFile(t, dir, "y.pdf", "content y")

		if err := s.StorePath(path, map[string]string{"title": "X", "author": "Zed"}); err != nil {
			t.Fatal(err)
		}
		if err := s.StorePath(other, map[string]string{"title": "Y"}); err != nil {
			t.Fatal(err)
		}

		before, err := s.EntryCount()
		if err != nil {
			t.Fatal(err)
		}

		if err := s.Remove(path); err != nil {
			t.Fatalf("Remove() error = %v", err)
		}

		got, err := s.Retrieve(path)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 0 {
			t.Errorf("Retrieve() after Remove = %v, want empty", got)
		}

		after, err := s.EntryCount()
		if err != nil {
			t.Fatal(err)
		}
		if before-after != 2 {
			t.Errorf("entry count decreased by %d, want 2", before-after)
		}

		paths, err := s.AllPaths()
		if err != nil {
			t.Fatal(err)
		}
		for _, p := range paths {
			if p == path {
				t.Errorf("AllPaths() still contains %s", path)
			}
		}

		// No orphaned metadata rows remain.
		var orphans int64
		err = s.db.QueryRow(`
			SELECT COUNT(*) FROM metadata m
			WHERE NOT EXISTS (SELECT 1 FROM files f WHERE f.id = m.file_id)`).Scan(&orphans)
		if err != nil {
			t.Fatal(err)
		}
		if orphans != 0 {
			t.Errorf("found %d orphaned metadata rows", orphans)
		}
	})

	t.Run("unknown path is not found", func(t *testing.T) {
		s := newTestStore(t)

		if err := s.Remove("/nope.pdf"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Remove() error = %v, want ErrNotFound", err)
		}
	})
}

func TestStore_Search(t *testing.T) {
	// Scenario: two documents by the same author, one title containing an
	// underscore that must match literally.
	setup := func(t *testing.T) (*Store, string, string) {
		s := newTestStore(t)
		dir := t.TempDir()
		x := writeFile(t, dir, "x.pdf", "doc x")
		y := writeFile(t, dir, "y.pdf", "doc y")

		if err := s.StorePath(x, map[string]string{"title": "Alpha_Report", "author": "Zed"}); err != nil {
			t.Fatal(err)
		}
		if err := s.StorePath(y, map[string]string{"title": "Beta", "author": "Zed"}); err != nil {
			t.Fatal(err)
		}
		return s, x, y
	}

	t.Run("key filter", func(t *testing.T) {
		s, _, _ := setup(t)

		results, err := s.Search("Zed", []string{"author"})
		if err != nil {
			t.Fatalf("Search() error = %v", err)
		}
		if len(results) != 2 {
			t.Fatalf("Search() returned %d results, want 2", len(results))
		}
		for _, r := range results {
			if r.Key != "author" {
				t.Errorf("result key = %q, want %q", r.Key, "author")
			}
		}
	})

	t.Run("underscore matches literally", func(t *testing.T) {
		s, x, _ := setup(t)

		results, err := s.Search("Alpha_Report", nil)
		if err != nil {
			t.Fatalf("Search() error = %v", err)
		}
		if len(results) != 1 {
			t.Fatalf("Search() returned %d results, want 1", len(results))
		}
		if results[0].Path != x {
			t.Errorf("result path = %q, want %q", results[0].Path, x)
		}
	})

	t.Run("wildcards are escaped", func(t *testing.T) {
		s := newTestStore(t)
		dir := t.TempDir()
		p := writeFile(t, dir, "w.pdf", "doc w")

		if err := s.StorePath(p, map[string]string{
			"percent":    "100% done",
			"underscore": "a_b",
			"backslash":  `a\b`,
			"plain":      "axb",
		}); err != nil {
			t.Fatal(err)
		}

		tests := []struct {
			query string
			want  int
		}{
			{"100% done", 1}, // literal %, not wildcard
			{"a_b", 1},       // literal _, must not match "axb"
			{`a\b`, 1},       // literal backslash
			{"0%", 1},
			{"_", 1},
			{"done!", 0},
		}
		for _, tt := range tests {
			results, err := s.Search(tt.query, nil)
			if err != nil {
				t.Fatalf("Search(%q) error = %v", tt.query, err)
			}
			if len(results) != tt.want {
				t.Errorf("Search(%q) returned %d results, want %d", tt.query, len(results), tt.want)
			}
		}
	})

	t.Run("empty query is invalid", func(t *testing.T) {
		s := newTestStore(t)

		if _, err := s.Search("", nil); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("Search(\"\") error = %v, want ErrInvalidInput", err)
		}
	})
}

func TestStore_AllKeysPathsCount(t *testing.T) {
	s := newTestStore(t)
	dir := t.TempDir()
	b := writeFile(t, dir, "b.pdf", "content b")
	a := writeFile(t, dir, "a.pdf", "content a")

	if err := s.StorePath(b, map[string]string{"title": "B", "author": "X"}); err != nil {
		t.Fatal(err)
	}
	if err := s.StorePath(a, map[string]string{"title": "A"}); err != nil {
		t.Fatal(err)
	}

	keys, err := s.AllKeys()
	if err != nil {
		t.Fatalf("AllKeys() error = %v", err)
	}
	if !reflect.DeepEqual(keys, []string{"author", "title"}) {
		t.Errorf("AllKeys() = %v, want [author title]", keys)
	}

	paths, err := s.AllPaths()
	if err != nil {
		t.Fatalf("AllPaths() error = %v", err)
	}
	if !reflect.DeepEqual(paths, []string{a, b}) {
		t.Errorf("AllPaths() = %v, want sorted [%s %s]", paths, a, b)
	}

	n, err := s.EntryCount()
	if err != nil {
		t.Fatalf("EntryCount() error = %v", err)
	}
	if n != 3 {
		t.Errorf("EntryCount() = %d, want 3", n)
	}
}

func TestStore_Transactions(t *testing.T) {
	t.Run("rollback discards batched stores", func(t *testing.T) {
		s := newTestStore(t)
		dir := t.TempDir()
		p := writeFile(t, dir, "x.pdf", "content")

		if err := s.Begin(); err != nil {
			t.Fatalf("Begin() error = %v", err)
		}
		if err := s.StorePath(p, map[string]string{"title": "T"}); err != nil {
			t.Fatalf("StorePath() in tx error = %v", err)
		}
		if err := s.Rollback(); err != nil {
			t.Fatalf("Rollback() error = %v", err)
		}

		got, err := s.Retrieve(p)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 0 {
			t.Errorf("Retrieve() after rollback = %v, want empty", got)
		}
	})

	t.Run("commit persists batched stores", func(t *testing.T) {
		s := newTestStore(t)
		dir := t.TempDir()
		p := writeFile(t, dir, "x.pdf", "content")

		if err := s.Begin(); err != nil {
			t.Fatal(err)
		}
		if err := s.StorePath(p, map[string]string{"title": "T"}); err != nil {
			t.Fatal(err)
		}
		if err := s.Commit(); err != nil {
			t.Fatalf("Commit() error = %v", err)
		}

		got, err := s.Retrieve(p)
		if err != nil {
			t.Fatal(err)
		}
		if got["title"] != "T" {
			t.Errorf("title = %q, want %q", got["title"], "T")
		}
	})

	t.Run("transactions do not nest", func(t *testing.T) {
		s := newTestStore(t)

		if err := s.Begin(); err != nil {
			t.Fatal(err)
		}
		if err := s.Begin(); err == nil {
			t.Error("nested Begin() expected error")
		}
		if err := s.Rollback(); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("commit without pending transaction is logged, not an error", func(t *testing.T) {
		s := newTestStore(t)

		if err := s.Commit(); err != nil {
			t.Errorf("Commit() without tx error = %v, want nil", err)
		}
		if err := s.Rollback(); err != nil {
			t.Errorf("Rollback() without tx error = %v, want nil", err)
		}
	})
}

func TestStore_Vacuum(t *testing.T) {
	s := newTestStore(t)

	if err := s.Vacuum(); err != nil {
		t.Fatalf("Vacuum() error = %v", err)
	}

	t.Run("refused inside open transaction", func(t *testing.T) {
		if err := s.Begin(); err != nil {
			t.Fatal(err)
		}
		defer s.Rollback()

		if err := s.Vacuum(); err == nil {
			t.Error("Vacuum() inside tx expected error")
		}
	})
}

func TestStore_BackupTo(t *testing.T) {
	s := newTestStore(t)
	dir := t.TempDir()
	p := writeFile(t, dir, "x.pdf", "content")

	if err := s.StorePath(p, map[string]string{"title": "T"}); err != nil {
		t.Fatal(err)
	}

	dest := filepath.Join(dir, "backup.db")
	if err := s.BackupTo(dest); err != nil {
		t.Fatalf("BackupTo() error = %v", err)
	}

	// The snapshot is a self-contained store.
	restored := New(nil, nil)
	if err := restored.Init(dest); err != nil {
		t.Fatalf("Init() on backup error = %v", err)
	}
	defer restored.Close()

	got, err := restored.Retrieve(p)
	if err != nil {
		t.Fatal(err)
	}
	if got["title"] != "T" {
		t.Errorf("restored title = %q, want %q", got["title"], "T")
	}
}

func TestStore_CheckMigrations(t *testing.T) {
	t.Run("fresh store is current", func(t *testing.T) {
		s := newTestStore(t)

		if err := s.CheckMigrations(); err != nil {
			t.Errorf("CheckMigrations() error = %v", err)
		}
	})

	t.Run("fails before init", func(t *testing.T) {
		s := New(nil, nil)

		if err := s.CheckMigrations(); !errors.Is(err, ErrNotInitialized) {
			t.Errorf("CheckMigrations() error = %v, want ErrNotInitialized", err)
		}
	})
}

func TestStore_Close(t *testing.T) {
	s := New(nil, nil)
	if err := s.Init(":memory:"); err != nil {
		t.Fatal(err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if s.IsInitialized() {
		t.Error("IsInitialized() = true after Close")
	}

	if _, err := s.EntryCount(); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("EntryCount() after Close error = %v, want ErrNotInitialized", err)
	}

	// Closing twice is harmless.
	if err := s.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}
