package storage

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// Area is a named on-disk location whose size is reported.
type Area struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// AreaUsage is the size of one Area.
type AreaUsage struct {
	Area
	Bytes int64 `json:"bytes"`
	Files int64 `json:"files"`
}

// DiskUsage returns the size and file count of each area, sorted by name.
// A path may be a file or a directory (summed recursively). Missing paths
// report zero; other errors abort.
func DiskUsage(areas ...Area) ([]AreaUsage, error) {
	out := make([]AreaUsage, 0, len(areas))
	for _, a := range areas {
		u := AreaUsage{Area: a}
		if a.Path != "" {
			if err := measure(a.Path, &u); err != nil {
				return nil, err
			}
		}
		out = append(out, u)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// TotalBytes sums the sizes of usages.
func TotalBytes(usages []AreaUsage) int64 {
	var total int64
	for _, u := range usages {
		total += u.Bytes
	}
	return total
}

func measure(path string, u *AreaUsage) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if !info.IsDir() {
		u.Bytes, u.Files = info.Size(), 1
		return nil
	}
	return filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		u.Bytes += fi.Size()
		u.Files++
		return nil
	})
}
