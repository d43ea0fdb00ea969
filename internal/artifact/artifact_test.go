package artifact

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"mnist-forge/internal/backend/linear"
	"mnist-forge/internal/config"
	"mnist-forge/internal/model"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	topo := model.SoftmaxRegression(5)
	b, err := linear.Open(topo)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	params, err := b.Parameters()
	if err != nil {
		t.Fatalf("Parameters: %v", err)
	}
	want, err := params.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	path := filepath.Join(t.TempDir(), "models", "run.model")
	header := &Header{
		RunID:     "run-1",
		Backend:   linear.Kind,
		Topology:  topo,
		Epochs:    1,
		Steps:     600,
		Accuracy:  0.91,
		CreatedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	if err := Save(path, header, params); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, raw, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.RunID != "run-1" || got.Accuracy != 0.91 || !got.CreatedAt.Equal(header.CreatedAt) {
		t.Fatalf("unexpected header %+v", got)
	}
	if !reflect.DeepEqual(got.Topology, topo) {
		t.Fatalf("topology did not survive: %+v", got.Topology)
	}
	if !reflect.DeepEqual(raw, want) {
		t.Fatal("parameter payload differs")
	}
	if _, err := linear.Restore(got.Topology, raw); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	assertNoTemp(t, filepath.Dir(path))
}

type brokenParams struct{}

func (brokenParams) SerializerType() string     { return "broken" }
func (brokenParams) Serialize() ([]byte, error) { return nil, errors.New("gpu lost") }

func TestSaveFailures(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.model")
	if err := Save(path, &Header{}, brokenParams{}); !errors.Is(err, ErrWrite) {
		t.Fatalf("expected ErrWrite, got %v", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("failed save left %s behind", path)
	}

	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	b, err := linear.Open(model.SoftmaxRegression(1))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	params, err := b.Parameters()
	if err != nil {
		t.Fatalf("Parameters: %v", err)
	}
	if err := Save(filepath.Join(blocker, "run.model"), &Header{}, params); !errors.Is(err, ErrWrite) {
		t.Fatalf("expected ErrWrite under a file, got %v", err)
	}

	// the target is a directory, so the final rename fails
	target := filepath.Join(dir, "taken")
	if err := os.MkdirAll(filepath.Join(target, "child"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := Save(target, &Header{}, params); !errors.Is(err, ErrWrite) {
		t.Fatalf("expected ErrWrite on rename, got %v", err)
	}
	assertNoTemp(t, dir)
}

func TestLoadRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.model")
	if err := os.WriteFile(path, []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := Load(path); err == nil {
		t.Fatal("expected error")
	}
}

func TestName(t *testing.T) {
	cfg := &config.Config{Model: "lenet5", Backend: "anynet", Epochs: 3, BatchSize: 54, Seed: 1234}
	if got := Name(cfg); got != "mnist-lenet5-anynet-e3-b54-s1234.model" {
		t.Fatalf("Name = %s", got)
	}
}

func assertNoTemp(t *testing.T, dir string) {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, ".*.tmp-*"))
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 0 {
		t.Fatalf("temporary files left behind: %v", matches)
	}
}
