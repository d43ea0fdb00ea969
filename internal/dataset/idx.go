package dataset

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/petar/GoMNIST"
	pkgerrors "github.com/pkg/errors"
)

// DefaultIDXBaseURL serves the gzipped IDX files of the LeCun MNIST distribution.
const DefaultIDXBaseURL = "https://storage.googleapis.com/cvdf-datasets/mnist/"

var idxFiles = []string{
	"train-images-idx3-ubyte.gz",
	"train-labels-idx1-ubyte.gz",
	"t10k-images-idx3-ubyte.gz",
	"t10k-labels-idx1-ubyte.gz",
}

// EnsureIDX downloads any missing IDX file into dir from baseURL.
func EnsureIDX(ctx context.Context, dir, baseURL string, client *http.Client) error {
	if client == nil {
		client = http.DefaultClient
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create idx dir: %w", err)
	}
	for _, name := range idxFiles {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			continue
		}
		if baseURL == "" {
			return pkgerrors.Wrapf(ErrResourceUnavailable, "%s missing and no url configured", path)
		}
		url := strings.TrimSuffix(baseURL, "/") + "/" + name
		if err := download(ctx, client, url, path); err != nil {
			return err
		}
	}
	return nil
}

// LoadIDX reads the four gzipped IDX files in dir into a Split.
func LoadIDX(dir string, classes int) (Split, error) {
	for _, name := range idxFiles {
		if _, err := os.Stat(filepath.Join(dir, name)); errors.Is(err, os.ErrNotExist) {
			return Split{}, pkgerrors.Wrapf(ErrResourceUnavailable, "%s not found in %s", name, dir)
		}
	}
	train, test, err := GoMNIST.Load(dir)
	if err != nil {
		return Split{}, pkgerrors.Wrapf(ErrCorruptArchive, "read idx files in %s: %v", dir, err)
	}
	trainSamples, err := fromSet("train", train, classes)
	if err != nil {
		return Split{}, err
	}
	testSamples, err := fromSet("t10k", test, classes)
	if err != nil {
		return Split{}, err
	}
	return Split{Train: trainSamples, Test: testSamples}, nil
}

func fromSet(prefix string, set *GoMNIST.Set, classes int) ([]Sample, error) {
	if len(set.Images) != len(set.Labels) {
		return nil, pkgerrors.Wrapf(ErrCorruptArchive, "%s: %d images but %d labels",
			prefix, len(set.Images), len(set.Labels))
	}
	samples := make([]Sample, len(set.Images))
	for i, raw := range set.Images {
		if len(raw) != set.NRow*set.NCol {
			return nil, pkgerrors.Wrapf(ErrCorruptArchive, "%s[%d]: %d pixels, want %d",
				prefix, i, len(raw), set.NRow*set.NCol)
		}
		label := int(set.Labels[i])
		if label >= classes {
			return nil, pkgerrors.Wrapf(ErrCorruptArchive, "%s[%d]: label %d out of range", prefix, i, label)
		}
		pixels := make([]float64, len(raw))
		for j, p := range raw {
			pixels[j] = float64(p)
		}
		samples[i] = Sample{Key: fmt.Sprintf("%s/%05d", prefix, i), Pixels: pixels, Label: label}
	}
	return samples, nil
}
