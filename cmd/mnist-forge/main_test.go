package main

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/unixpickle/serializer"

	"mnist-forge/internal/config"
	"mnist-forge/internal/dataset"
	"mnist-forge/internal/model"
)

type recordingBackend struct {
	trainErr error
	closed   int
}

func (r *recordingBackend) TrainStep(model.Batch, float64) (float64, error) {
	return 0, r.trainErr
}

func (r *recordingBackend) Predict(b model.Batch) ([]int, error) {
	return make([]int, b.Len()), nil
}

func (r *recordingBackend) Parameters() (serializer.Serializer, error) { return nil, nil }

func (r *recordingBackend) Close() error {
	r.closed++
	return nil
}

func useBackend(t *testing.T, be model.Backend) {
	t.Helper()
	prev := openBackend
	openBackend = func(string, model.Topology) (model.Backend, error) { return be, nil }
	t.Cleanup(func() { openBackend = prev })
}

func testConfig(t *testing.T, root string) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Model:      "softmax",
		Backend:    "linear",
		DataRoot:   root,
		BatchSize:  2,
		Epochs:     1,
		NumWorkers: 2,
		Prefetch:   true,
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	return cfg
}

func mustWritePNG(t *testing.T, path string) {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 28, 28))
	img.SetGray(3, 3, color.Gray{Y: 200})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestRunReleasesBackendWhenDataUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	be := &recordingBackend{}
	useBackend(t, be)
	cfg := testConfig(t, t.TempDir())
	cfg.DataURL = srv.URL

	err := run(context.Background(), cfg, "")
	if !errors.Is(err, dataset.ErrResourceUnavailable) {
		t.Fatalf("expected ErrResourceUnavailable, got %v", err)
	}
	if be.closed != 1 {
		t.Fatalf("backend closed %d times, want 1", be.closed)
	}
}

func TestRunReleasesBackendWhenTrainingFails(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"training/0/a.png", "training/1/b.png", "training/1/c.png", "testing/0/d.png"} {
		mustWritePNG(t, filepath.Join(root, "mnist_png", filepath.FromSlash(name)))
	}

	be := &recordingBackend{trainErr: errors.New("loss diverged")}
	useBackend(t, be)
	cfg := testConfig(t, root)

	err := run(context.Background(), cfg, "")
	if err == nil || !errors.Is(err, be.trainErr) {
		t.Fatalf("expected the training error, got %v", err)
	}
	if be.closed != 1 {
		t.Fatalf("backend closed %d times, want 1", be.closed)
	}
}
