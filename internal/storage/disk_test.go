package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDiskUsage(t *testing.T) {
	dir := t.TempDir()

	f1 := filepath.Join(dir, "f1.npy")
	if err := os.WriteFile(f1, []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}
	sub := filepath.Join(dir, "cav-content")
	if err := os.Mkdir(sub, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sub, "a"), []byte("ab"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sub, "b"), []byte("c"), 0644); err != nil {
		t.Fatal(err)
	}

	got, err := DiskUsage(
		Area{Name: "media", Path: sub},
		Area{Name: "db", Path: f1},
		Area{Name: "cavs", Path: filepath.Join(dir, "nonexistent")},
		Area{Name: "unset"},
	)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 4 {
		t.Fatalf("got %d areas, want 4", len(got))
	}
	want := []struct {
		name  string
		bytes int64
		files int64
	}{
		{"cavs", 0, 0},
		{"db", 5, 1},
		{"media", 3, 2},
		{"unset", 0, 0},
	}
	for i, w := range want {
		if got[i].Name != w.name || got[i].Bytes != w.bytes || got[i].Files != w.files {
			t.Errorf("area %d: got %+v, want %+v", i, got[i], w)
		}
	}
	if total := TotalBytes(got); total != 8 {
		t.Errorf("total: got %d, want 8", total)
	}
}
