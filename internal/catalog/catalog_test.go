package catalog

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/hyperjump/cavstudio/internal/storage"
)

func ids(hits []Hit) []string {
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.ID
	}
	return out
}

func TestIndex_FollowsSnapshotStore(t *testing.T) {
	idx, err := OpenMemory()
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()

	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "db.sqlite"), storage.WithObserver(idx))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	ctx := context.Background()

	if err := store.SetSnapshot(ctx, "s1", map[string]interface{}{"name": "Zebra stripes", "creatorName": "Grace", "projectId": "p1"}); err != nil {
		t.Fatal(err)
	}
	if err := store.SetSnapshot(ctx, "s2", map[string]interface{}{"name": "Round shapes", "creatorName": "Stripes McGee", "projectId": "p2"}); err != nil {
		t.Fatal(err)
	}

	hits, err := idx.Search(ctx, "stripes", 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := ids(hits); len(got) != 2 || got[0] != "s1" {
		t.Errorf("got %v, want s1 (name match) first", got)
	}

	hits, err = idx.Search(ctx, "grace", 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := ids(hits); len(got) != 1 || got[0] != "s1" {
		t.Errorf("creator search: got %v", got)
	}

	if err := store.DeleteSnapshot(ctx, "s1"); err != nil {
		t.Fatal(err)
	}
	hits, err = idx.Search(ctx, "zebra", 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 0 {
		t.Errorf("deleted snapshot still found: %v", ids(hits))
	}
}

func TestIndex_Fuzzy(t *testing.T) {
	idx, err := OpenMemory()
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()
	ctx := context.Background()
	doc := &storage.Document{ID: "s1", Data: map[string]interface{}{"name": "checkerboard"}}
	if err := idx.SnapshotChanged(ctx, doc); err != nil {
		t.Fatal(err)
	}

	hits, err := idx.Search(ctx, "chekerboard", 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 0 {
		t.Errorf("exact search matched a typo: %v", ids(hits))
	}
	hits, err = idx.Search(ctx, "chekerboard", 10, &SearchOptions{Fuzziness: 1})
	if err != nil {
		t.Fatal(err)
	}
	if got := ids(hits); len(got) != 1 || got[0] != "s1" {
		t.Errorf("fuzzy search: got %v", got)
	}

	hits, err = idx.Search(ctx, "   ", 10, nil)
	if err != nil || len(hits) != 0 {
		t.Errorf("blank query: %v %v", hits, err)
	}
}

func TestIndex_RebuildAndReopen(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.NewSQLiteStorage(filepath.Join(dir, "db.sqlite"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		if err := store.SetSnapshot(ctx, id, map[string]interface{}{"name": "concept " + id}); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.DeleteSnapshot(ctx, "c"); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(dir, "catalog")
	idx, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	n, err := idx.Rebuild(ctx, store)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("rebuild saw %d snapshots, want 3", n)
	}
	if err := idx.Close(); err != nil {
		t.Fatal(err)
	}

	idx, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()
	count, err := idx.DocCount()
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("reopened index has %d docs, want 2", count)
	}
}
