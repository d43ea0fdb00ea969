package dataset

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDirectoryOrderedAcrossWorkers(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 30; i++ {
		label := i % 10
		writeFile(t, filepath.Join(dir, string(rune('0'+label)), imageName(i)), grayPNG(t, 3, 2, uint8(i)))
	}

	one, err := LoadDirectory(context.Background(), dir, LoadOptions{Width: 3, Height: 2, NumWorkers: 1})
	if err != nil {
		t.Fatalf("LoadDirectory: %v", err)
	}
	many, err := LoadDirectory(context.Background(), dir, LoadOptions{Width: 3, Height: 2, NumWorkers: 8})
	if err != nil {
		t.Fatalf("LoadDirectory: %v", err)
	}
	if len(one) != 30 || len(many) != 30 {
		t.Fatalf("expected 30 samples, got %d and %d", len(one), len(many))
	}
	for i := range one {
		if one[i].Key != many[i].Key || one[i].Label != many[i].Label || one[i].Pixels[0] != many[i].Pixels[0] {
			t.Fatalf("sample %d differs between worker counts", i)
		}
		if len(one[i].Pixels) != 6 {
			t.Fatalf("sample %d has %d pixels", i, len(one[i].Pixels))
		}
	}
}

func TestLoadDirectoryRejectsWrongSize(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "4", "a.png"), grayPNG(t, 5, 5, 1))
	if _, err := LoadDirectory(context.Background(), dir, LoadOptions{Width: 28, Height: 28, NumWorkers: 2}); err == nil {
		t.Fatal("expected size mismatch error")
	}
}

func TestLoadSplitEmptyTraining(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "training"), 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(root, "testing", "2", "a.png"), grayPNG(t, 2, 2, 9))

	split, err := LoadSplit(context.Background(), root, LoadOptions{Width: 2, Height: 2})
	if err != nil {
		t.Fatalf("LoadSplit: %v", err)
	}
	if len(split.Train) != 0 || len(split.Test) != 1 {
		t.Fatalf("unexpected split sizes %d/%d", len(split.Train), len(split.Test))
	}
	if split.Test[0].Label != 2 || split.Test[0].Pixels[0] != 9 {
		t.Fatalf("unexpected test sample %+v", split.Test[0])
	}
}

func imageName(i int) string {
	return "img-" + string(rune('a'+i/10)) + string(rune('a'+i%10)) + ".png"
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func grayPNG(t *testing.T, w, h int, value uint8) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: value})
		}
	}
	buf := &bytes.Buffer{}
	if err := png.Encode(buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}
