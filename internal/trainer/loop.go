package trainer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	pkgerrors "github.com/pkg/errors"

	"mnist-forge/internal/dataset"
	"mnist-forge/internal/metrics"
	"mnist-forge/internal/model"
)

// State is the phase the loop is in.
type State int

const (
	Idle State = iota
	Training
	Evaluating
	Done
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Training:
		return "training"
	case Evaluating:
		return "evaluating"
	case Done:
		return "done"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// RunConfig captures the knobs required by the training loop.
type RunConfig struct {
	Backend  model.Backend
	Train    dataset.BatchSource
	Test     dataset.BatchSource
	Schedule model.Schedule
	Classes  int
	Epochs   int
	LogEvery int

	// OnState, if set, is called on every transition with the current epoch
	// (0 while idle).
	OnState func(state State, epoch int)
	// OnEvaluation, if set, receives the held-out result of every epoch.
	OnEvaluation func(*metrics.Evaluation)
}

// Result summarises a finished run.
type Result struct {
	Evaluations []*metrics.Evaluation
	Steps       int
}

// Final returns the last evaluation, or nil when none ran.
func (r Result) Final() *metrics.Evaluation {
	if len(r.Evaluations) == 0 {
		return nil
	}
	return r.Evaluations[len(r.Evaluations)-1]
}

func (cfg *RunConfig) validate() error {
	switch {
	case cfg.Backend == nil:
		return pkgerrors.Wrap(model.ErrConfiguration, "trainer: backend is required")
	case cfg.Train == nil || cfg.Test == nil:
		return pkgerrors.Wrap(model.ErrConfiguration, "trainer: train and test sources are required")
	case cfg.Epochs <= 0:
		return pkgerrors.Wrapf(model.ErrConfiguration, "trainer: epochs must be > 0 (got %d)", cfg.Epochs)
	case cfg.Classes <= 0:
		return pkgerrors.Wrapf(model.ErrConfiguration, "trainer: classes must be > 0 (got %d)", cfg.Classes)
	}
	if cfg.LogEvery <= 0 {
		cfg.LogEvery = 10
	}
	if err := cfg.Schedule.Validate(); err != nil {
		return err
	}
	_, err := cfg.Schedule.Rate(0)
	return err
}

// Run trains for cfg.Epochs passes over cfg.Train and evaluates on cfg.Test
// after each one. The first error aborts the run; the partial Result is
// returned alongside it.
func Run(ctx context.Context, cfg RunConfig) (Result, error) {
	var res Result
	if err := cfg.validate(); err != nil {
		return res, err
	}
	emit := func(s State, epoch int) {
		if cfg.OnState != nil {
			cfg.OnState(s, epoch)
		}
	}

	emit(Idle, 0)
	var window metrics.Window
	for epoch := 1; epoch <= cfg.Epochs; epoch++ {
		emit(Training, epoch)
		if err := cfg.Train.Reset(); err != nil {
			return res, pkgerrors.Wrapf(err, "epoch %d: reset training data", epoch)
		}
		for {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			startData := time.Now()
			batch, err := cfg.Train.Next()
			if errors.Is(err, dataset.ErrExhausted) {
				break
			}
			if err != nil {
				return res, pkgerrors.Wrapf(err, "epoch %d step %d: next batch", epoch, res.Steps)
			}
			dataTime := time.Since(startData)

			lr, err := cfg.Schedule.Rate(res.Steps)
			if err != nil {
				return res, err
			}
			startCompute := time.Now()
			loss, err := cfg.Backend.TrainStep(batch, lr)
			if err != nil {
				return res, pkgerrors.Wrapf(err, "epoch %d step %d", epoch, res.Steps)
			}
			computeTime := time.Since(startCompute)
			res.Steps++

			window.Record(batch.Len(), dataTime, computeTime, loss)
			if res.Steps%cfg.LogEvery == 0 {
				snap := window.Snapshot()
				log.Printf("epoch=%d step=%d lr=%g images_per_sec=%.1f data_ms=%.2f compute_ms=%.2f loss=%.4f mean_loss=%.4f",
					epoch,
					res.Steps,
					lr,
					snap.ImagesPerSec,
					snap.AvgDataMS,
					snap.AvgComputeMS,
					snap.LastLoss,
					snap.MeanLoss,
				)
			}
		}

		emit(Evaluating, epoch)
		eval, err := Evaluate(ctx, cfg.Backend, cfg.Test, cfg.Classes)
		if err != nil {
			return res, pkgerrors.WithMessagef(err, "epoch %d", epoch)
		}
		eval.Epoch = epoch
		res.Evaluations = append(res.Evaluations, eval)
		log.Printf("epoch=%d steps=%d eval_samples=%d accuracy=%.4f f1=%.4f",
			epoch, res.Steps, eval.Total(), eval.Accuracy(), eval.Macro(eval.F1))
		if cfg.OnEvaluation != nil {
			cfg.OnEvaluation(eval)
		}
	}
	emit(Done, cfg.Epochs)
	return res, nil
}

// Evaluate drains src once and scores b's predictions against its labels.
// Held-out batches never reach TrainStep.
func Evaluate(ctx context.Context, b model.Backend, src dataset.BatchSource, classes int) (*metrics.Evaluation, error) {
	eval := metrics.NewEvaluation(classes)
	if err := src.Reset(); err != nil {
		return nil, pkgerrors.Wrap(err, "reset held-out data")
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		batch, err := src.Next()
		if errors.Is(err, dataset.ErrExhausted) {
			return eval, nil
		}
		if err != nil {
			return nil, pkgerrors.Wrap(err, "next held-out batch")
		}
		preds, err := b.Predict(batch)
		if err != nil {
			return nil, pkgerrors.Wrap(err, "predict")
		}
		if err := eval.Add(batch.Labels, preds); err != nil {
			return nil, err
		}
	}
}
