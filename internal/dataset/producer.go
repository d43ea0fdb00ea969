package dataset

import (
	"errors"
	"fmt"
	"math/rand"

	"mnist-forge/internal/model"
)

// ErrExhausted is returned by Next once every batch of the current pass has
// been produced. It is a terminal state, not a failure.
var ErrExhausted = errors.New("dataset: exhausted")

// BatchSource is a resettable, pull-based stream of batches.
type BatchSource interface {
	Next() (model.Batch, error)
	Reset() error
}

// ProducerOptions configures a Producer.
type ProducerOptions struct {
	BatchSize int
	Seed      int64
	Shuffle   bool
	// Scaler, if non-nil, is applied to every sample once at construction.
	Scaler *Scaler
}

// Producer yields fixed-size batches over an in-memory subset.
type Producer struct {
	samples   []Sample
	order     []int
	batchSize int
	shuffle   bool
	rng       *rand.Rand
	pos       int
}

// NewProducer caches (and scales) the samples and prepares the first pass.
func NewProducer(samples []Sample, opts ProducerOptions) (*Producer, error) {
	if opts.BatchSize <= 0 {
		return nil, fmt.Errorf("producer: batch size must be > 0 (got %d): %w", opts.BatchSize, model.ErrConfiguration)
	}
	cached := make([]Sample, len(samples))
	for i, s := range samples {
		cached[i] = s
		if opts.Scaler != nil {
			cached[i].Pixels = opts.Scaler.Apply(s.Pixels)
		}
	}
	p := &Producer{
		samples:   cached,
		order:     make([]int, len(cached)),
		batchSize: opts.BatchSize,
		shuffle:   opts.Shuffle,
		rng:       rand.New(rand.NewSource(opts.Seed)),
	}
	p.arrange()
	return p, nil
}

func (p *Producer) arrange() {
	for i := range p.order {
		p.order[i] = i
	}
	if p.shuffle {
		p.rng.Shuffle(len(p.order), func(i, j int) {
			p.order[i], p.order[j] = p.order[j], p.order[i]
		})
	}
	p.pos = 0
}

// Len returns the number of samples per pass.
func (p *Producer) Len() int {
	return len(p.samples)
}

// BatchSize returns the configured batch size.
func (p *Producer) BatchSize() int {
	return p.batchSize
}

// NumBatches returns ceil(Len/BatchSize).
func (p *Producer) NumBatches() int {
	return (len(p.samples) + p.batchSize - 1) / p.batchSize
}

// Next returns the next batch, or ErrExhausted at the end of the pass.
func (p *Producer) Next() (model.Batch, error) {
	if p.pos >= len(p.order) {
		return model.Batch{}, ErrExhausted
	}
	end := p.pos + p.batchSize
	if end > len(p.order) {
		end = len(p.order)
	}
	batch := model.Batch{
		Inputs: make([][]float64, 0, end-p.pos),
		Labels: make([]int, 0, end-p.pos),
	}
	for _, idx := range p.order[p.pos:end] {
		batch.Inputs = append(batch.Inputs, p.samples[idx].Pixels)
		batch.Labels = append(batch.Labels, p.samples[idx].Label)
	}
	p.pos = end
	return batch, nil
}

// Reset rewinds to the start of the subset. With shuffling enabled the next
// pass uses the next permutation from the seeded source.
func (p *Producer) Reset() error {
	p.arrange()
	return nil
}
