package migrate

import (
	"testing"
	"testing/fstest"
)

func TestNewPrefersExistingDirectory(t *testing.T) {
	fallback := fstest.MapFS{"00001_init.sql": {Data: []byte("-- +goose Up\n")}}
	dir := t.TempDir()

	r, err := New("postgres://localhost/db", dir, fallback, nil)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if _, ok := r.source.(fstest.MapFS); ok {
		t.Fatal("expected directory source when it exists")
	}
}

func TestNewFallsBackToEmbedded(t *testing.T) {
	fallback := fstest.MapFS{"00001_init.sql": {Data: []byte("-- +goose Up\n")}}
	r, err := New("postgres://localhost/db", "does/not/exist", fallback, nil)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if _, ok := r.source.(fstest.MapFS); !ok {
		t.Fatal("expected embedded fallback")
	}
}

func TestNewValidatesInputs(t *testing.T) {
	if _, err := New("", "", fstest.MapFS{}, nil); err == nil {
		t.Fatal("expected dsn error")
	}
	if _, err := New("postgres://localhost/db", "does/not/exist", nil, nil); err == nil {
		t.Fatal("expected missing migrations error")
	}
}
