package dataset

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Sample is one decoded image with its class label. Pixels are row-major
// depth-minor raw intensities until a Scaler is applied.
type Sample struct {
	Key    string
	Pixels []float64
	Label  int
}

// Split is a dataset partitioned into training and held-out subsets.
type Split struct {
	Train []Sample
	Test  []Sample
}

// LoadOptions configures directory loading.
type LoadOptions struct {
	Width      int
	Height     int
	Classes    int
	NumWorkers int
}

// LoadSplit loads root/training and root/testing.
func LoadSplit(ctx context.Context, root string, opts LoadOptions) (Split, error) {
	train, err := LoadDirectory(ctx, filepath.Join(root, "training"), opts)
	if err != nil {
		return Split{}, err
	}
	test, err := LoadDirectory(ctx, filepath.Join(root, "testing"), opts)
	if err != nil {
		return Split{}, err
	}
	return Split{Train: train, Test: test}, nil
}

// LoadDirectory decodes every image under dir/<label>/ using a pool of
// workers. The result is in discovery order regardless of scheduling.
func LoadDirectory(parent context.Context, dir string, opts LoadOptions) ([]Sample, error) {
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, errors.New("loader: width and height must be > 0")
	}
	if opts.Classes <= 0 {
		opts.Classes = 10
	}
	if opts.NumWorkers <= 0 {
		opts.NumWorkers = 1
	}

	entries, err := DiscoverSamples(dir, opts.Classes)
	if err != nil {
		return nil, err
	}
	samples := make([]Sample, len(entries))
	if len(entries) == 0 {
		return samples, nil
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	jobs := make(chan int, opts.NumWorkers)
	errCh := make(chan error, opts.NumWorkers)

	go func() {
		defer close(jobs)
		for i := range entries {
			select {
			case <-ctx.Done():
				return
			case jobs <- i:
			}
		}
	}()

	var wg sync.WaitGroup
	for w := 0; w < opts.NumWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				sample, err := loadEntry(entries[i], opts.Width, opts.Height)
				if err != nil {
					errCh <- err
					cancel()
					return
				}
				samples[i] = sample
			}
		}()
	}
	wg.Wait()
	close(errCh)

	if err := <-errCh; err != nil {
		return nil, err
	}
	if err := parent.Err(); err != nil {
		return nil, err
	}
	return samples, nil
}

func loadEntry(e Entry, width, height int) (Sample, error) {
	raw, err := os.ReadFile(e.Path)
	if err != nil {
		return Sample{}, fmt.Errorf("read image: %w", err)
	}
	pixels, err := decodeGray(raw, width, height)
	if err != nil {
		return Sample{}, fmt.Errorf("decode %s: %w", e.Path, err)
	}
	return Sample{Key: e.Path, Pixels: pixels, Label: e.Label}, nil
}
