package model

import (
	"errors"

	"github.com/unixpickle/serializer"
)

// ErrConfiguration marks a topology, schedule or hyperparameter that cannot be
// trained. It is always reported before the first training step.
var ErrConfiguration = errors.New("configuration error")

// ErrClosed is returned by a Backend used after Close.
var ErrClosed = errors.New("backend closed")

// Batch represents a minibatch of features and labels.
type Batch struct {
	Inputs [][]float64
	Labels []int
}

// Len returns the number of samples in the batch.
func (b Batch) Len() int {
	return len(b.Inputs)
}

// OneHot expands the integer labels into a flat, row-major one-hot matrix.
func (b Batch) OneHot(classes int) []float64 {
	out := make([]float64, len(b.Labels)*classes)
	for i, label := range b.Labels {
		if label >= 0 && label < classes {
			out[i*classes+label] = 1
		}
	}
	return out
}

// Backend is the numerical engine a Topology is realised on. Implementations
// hold native or library state and must be released with Close.
type Backend interface {
	// TrainStep applies one optimizer step and returns the batch's mean loss.
	TrainStep(batch Batch, lr float64) (float64, error)
	// Predict returns the arg-max class for every sample in the batch.
	Predict(batch Batch) ([]int, error)
	// Parameters exposes the trained parameters for persistence.
	Parameters() (serializer.Serializer, error)
	Close() error
}
