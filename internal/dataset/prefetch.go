package dataset

import (
	"context"

	"mnist-forge/internal/model"
)

type fetched struct {
	batch model.Batch
	err   error
}

// Prefetcher prepares the next batch of its source while the caller works on
// the current one. At most one batch is buffered.
type Prefetcher struct {
	ctx    context.Context
	src    BatchSource
	ch     chan fetched
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Prefetch wraps src in a single-slot pipeline. The pipeline stops when ctx
// is cancelled or Close is called.
func Prefetch(ctx context.Context, src BatchSource) *Prefetcher {
	p := &Prefetcher{ctx: ctx, src: src}
	p.start()
	return p
}

func (p *Prefetcher) start() {
	ctx, cancel := context.WithCancel(p.ctx)
	p.cancel = cancel
	p.ch = make(chan fetched, 1)
	p.done = make(chan struct{})
	go func(ch chan<- fetched, done chan<- struct{}) {
		defer close(done)
		defer close(ch)
		for ctx.Err() == nil {
			batch, err := p.src.Next()
			select {
			case <-ctx.Done():
				return
			case ch <- fetched{batch: batch, err: err}:
			}
			if err != nil {
				return
			}
		}
	}(p.ch, p.done)
}

func (p *Prefetcher) stop() {
	p.cancel()
	for range p.ch {
	}
	<-p.done
}

// Next returns the next prefetched batch. Source errors, including
// ErrExhausted, are passed through unchanged and repeat on later calls.
func (p *Prefetcher) Next() (model.Batch, error) {
	if err := p.ctx.Err(); err != nil {
		return model.Batch{}, err
	}
	select {
	case <-p.ctx.Done():
		return model.Batch{}, p.ctx.Err()
	case f, ok := <-p.ch:
		if !ok {
			if err := p.ctx.Err(); err != nil {
				return model.Batch{}, err
			}
			return model.Batch{}, p.err
		}
		if f.err != nil {
			p.err = f.err
		}
		return f.batch, f.err
	}
}

// Reset stops the pipeline, resets the source and restarts prefetching.
func (p *Prefetcher) Reset() error {
	p.stop()
	if err := p.src.Reset(); err != nil {
		p.err = err
		return err
	}
	p.err = nil
	p.start()
	return nil
}

// Close stops the pipeline.
func (p *Prefetcher) Close() {
	p.stop()
}
