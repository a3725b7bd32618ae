package watcher

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hyperjump/cavstudio/internal/activation"
	"github.com/hyperjump/cavstudio/internal/extractor"
	"github.com/hyperjump/cavstudio/internal/models"
	"github.com/hyperjump/cavstudio/internal/workerpool"
)

type recorder struct {
	mu    sync.Mutex
	paths []string
}

func (r *recorder) ingest(_ context.Context, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)
	return nil
}

func (r *recorder) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestInbox_AddRemoveDirectories(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	w := New(nil, nil, rec.ingest)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if err := w.AddDirectory(dir, false); err != nil {
		t.Fatal(err)
	}
	if err := w.AddDirectory(dir, false); err != nil {
		t.Fatal(err)
	}
	dirs := w.Directories()
	if len(dirs) != 1 || filepath.Clean(dirs[0]) != filepath.Clean(dir) {
		t.Errorf("Directories() = %v", dirs)
	}
	if err := w.RemoveDirectory(dir); err != nil {
		t.Fatal(err)
	}
	if len(w.Directories()) != 0 {
		t.Errorf("after remove: %v", w.Directories())
	}
}

func TestInbox_DebouncesAndFiltersExtensions(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	w := New([]string{dir}, nil, rec.ingest, WithDebounce(50*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	target := filepath.Join(dir, "cat.png")
	for i := 0; i < 3; i++ {
		if err := os.WriteFile(target, []byte("partial"), 0600); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool { return len(rec.seen()) >= 1 })
	time.Sleep(200 * time.Millisecond)
	got := rec.seen()
	if len(got) != 1 || got[0] != target {
		t.Errorf("ingested %v, want only %s", got, target)
	}
}

func TestInbox_NewFolderIsIngested(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	w := New([]string{dir}, []string{".jpg"}, rec.ingest, WithDebounce(50*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	nested := filepath.Join(dir, "trip", "day1")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(nested, "beach.jpg"), []byte("jpg"), 0600); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool {
		for _, p := range rec.seen() {
			if strings.HasSuffix(p, "beach.jpg") {
				return true
			}
		}
		return false
	})
}

func TestInbox_SyncIngestsExistingFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.webp"), []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "skip.md"), []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}
	calls := 0
	w := New([]string{dir}, nil, func(context.Context, string) error {
		calls++
		if calls == 1 {
			return nil
		}
		return errors.New("boom")
	})
	w.Sync(context.Background())
	if calls != 1 {
		t.Errorf("ingest calls = %d, want 1", calls)
	}
	if c := w.Counts(); c.Ingested != 1 || c.Failed != 0 {
		t.Errorf("Counts() = %+v", c)
	}
}

func TestInbox_StartCreatesMissingRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "inbox", "new")
	w := New([]string{root}, nil, nil)
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()
	if _, err := os.Stat(root); err != nil {
		t.Errorf("root should exist after Start: %v", err)
	}
}

func TestInbox_IngestsIntoActivationStore(t *testing.T) {
	base := t.TempDir()
	inbox := filepath.Join(base, "inbox")
	pool, err := workerpool.New(2)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()
	layout := activation.Layout{StaticRoot: filepath.Join(base, "static"), UserRoot: filepath.Join(base, "media", "cav-content")}
	store := activation.NewStore(layout, pool, extractor.NewMockExtractor())

	var mu sync.Mutex
	var refs []models.ImageRef
	ingest := func(ctx context.Context, path string) error {
		ref, err := store.IngestFile(ctx, path, true)
		if err != nil {
			return err
		}
		mu.Lock()
		refs = append(refs, ref)
		mu.Unlock()
		return nil
	}
	w := New([]string{inbox}, nil, ingest, WithDebounce(50*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	img := image.NewNRGBA(image.Rect(0, 0, 300, 240))
	for y := 0; y < 240; y++ {
		for x := 0; x < 300; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 200, G: 40, B: 10, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(inbox, "red.png"), buf.Bytes(), 0600); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool { return w.Counts().Ingested == 1 })
	mu.Lock()
	defer mu.Unlock()
	if len(refs) != 1 || !refs[0].UserGenerated {
		t.Fatalf("refs = %+v", refs)
	}
	if missing := store.MissingLayers(refs[0]); len(missing) != 0 {
		t.Errorf("missing layers after ingest: %v", missing)
	}
}

func TestMatchExtension(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/a/b.png", true},
		{"/a/b.JPG", true},
		{"/a/b.jpeg", true},
		{"/a/b.txt", false},
		{"/a/b", false},
	}
	for _, tt := range tests {
		if got := matchExtension(tt.path, DefaultExtensions); got != tt.want {
			t.Errorf("matchExtension(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestInDir(t *testing.T) {
	tests := []struct {
		dir, path string
		want      bool
	}{
		{"/tmp/a", "/tmp/a", true},
		{"/tmp/a", "/tmp/a/b.png", true},
		{"/tmp/a", "/tmp/b", false},
		{"/tmp/a", "/tmp/a/../b", false},
	}
	for _, tt := range tests {
		if got := inDir(tt.dir, tt.path); got != tt.want {
			t.Errorf("inDir(%q, %q) = %v, want %v", tt.dir, tt.path, got, tt.want)
		}
	}
}
