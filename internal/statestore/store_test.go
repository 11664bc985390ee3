package statestore

import (
	"context"
	"errors"
	"testing"

	pebblestore "github.com/rzbill/maestro/internal/storage/pebble"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	if _, err := s.Get(ctx, "replicas/a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	for k, v := range map[string]string{"replicas/a": "1", "replicas/b": "2", "replicasx": "3", "other": "4"} {
		if err := s.Set(ctx, k, []byte(v)); err != nil {
			t.Fatalf("set %s: %v", k, err)
		}
	}
	if err := s.Set(ctx, "replicas/a", []byte("5")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	v, err := s.Get(ctx, "replicas/a")
	if err != nil || string(v) != "5" {
		t.Fatalf("get: %q %v", v, err)
	}
	all, err := s.List(ctx, "replicas/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 || string(all["replicas/a"]) != "5" || string(all["replicas/b"]) != "2" {
		t.Fatalf("unexpected list %v", all)
	}

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	if err := s.Set(cctx, "replicas/c", []byte("x")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestMemory(t *testing.T) {
	m := NewMemory()
	exerciseStore(t, m)
	keys := m.Keys()
	if len(keys) != 4 || keys[0] != "other" {
		t.Fatalf("unexpected keys %v", keys)
	}
}

func TestMemoryCopiesValues(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	buf := []byte("abc")
	if err := m.Set(ctx, "k", buf); err != nil {
		t.Fatalf("set: %v", err)
	}
	buf[0] = 'z'
	v, _ := m.Get(ctx, "k")
	if string(v) != "abc" {
		t.Fatalf("stored value aliased caller buffer: %s", v)
	}
}

func TestPebble(t *testing.T) {
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeNever})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	exerciseStore(t, NewPebble(db))

	// entries live under their own namespace
	if err := db.Set([]byte("replicas/z"), []byte("raw")); err != nil {
		t.Fatalf("raw set: %v", err)
	}
	all, err := NewPebble(db).List(context.Background(), "replicas/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if _, ok := all["replicas/z"]; ok {
		t.Fatalf("raw key leaked into state store")
	}
}
