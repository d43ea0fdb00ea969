package dataset

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

var imageExts = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
}

// Entry is an image file discovered on disk with the label taken from its
// parent directory.
type Entry struct {
	Path  string
	Label int
}

// DiscoverSamples returns every image under dir/<label>/ in lexical path
// order. Directory names must be integer labels in [0, classes).
func DiscoverSamples(dir string, classes int) ([]Entry, error) {
	entries := make([]Entry, 0)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !imageExts[strings.ToLower(filepath.Ext(d.Name()))] {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		parts := strings.Split(filepath.ToSlash(rel), "/")
		if len(parts) != 2 {
			return fmt.Errorf("%s: expected <label>/<file> layout", rel)
		}
		label, err := strconv.Atoi(parts[0])
		if err != nil || label < 0 || label >= classes {
			return fmt.Errorf("%s: directory %q is not a label in [0, %d)", rel, parts[0], classes)
		}
		entries = append(entries, Entry{Path: path, Label: label})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discover samples: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}
