package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/cpuid/v2"
	pkgerrors "github.com/pkg/errors"

	"mnist-forge/internal/artifact"
	"mnist-forge/internal/backend"
	"mnist-forge/internal/config"
	"mnist-forge/internal/dataset"
	"mnist-forge/internal/model"
	"mnist-forge/internal/trainer"
)

func main() {
	cfgPath := flag.String("config", "configs/lenet.yaml", "Path to YAML config")
	modelName := flag.String("model", "", "Override model preset (lenet5, softmax)")
	backendKind := flag.String("backend", "", "Override backend (anynet, linear)")
	dataRoot := flag.String("data-root", "", "Override dataset root directory")
	format := flag.String("format", "", "Override dataset format (png, idx)")
	batchSize := flag.Int("batch-size", 0, "Training batch size")
	testBatchSize := flag.Int("test-batch-size", 0, "Held-out batch size")
	epochs := flag.Int("epochs", 0, "Number of passes over the training data")
	numWorkers := flag.Int("num-workers", 0, "Number of image decoding workers")
	seed := flag.Int64("seed", 0, "PRNG seed")
	logEvery := flag.Int("log-every", 0, "Log every N steps")
	artifactDir := flag.String("artifact-dir", "", "Directory for the trained model")
	evalOnly := flag.String("evaluate", "", "Evaluate a saved model on the held-out data instead of training")

	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	cfg.ApplyOverrides(config.Overrides{
		Model:         *modelName,
		Backend:       *backendKind,
		DataRoot:      *dataRoot,
		Format:        *format,
		BatchSize:     *batchSize,
		TestBatchSize: *testBatchSize,
		Epochs:        *epochs,
		NumWorkers:    *numWorkers,
		Seed:          seedOverride(seed),
		LogEvery:      *logEvery,
		ArtifactDir:   *artifactDir,
	})

	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg, *evalOnly)
	stop()
	if err != nil {
		log.Fatalf("%v", err)
	}
}

// Backend constructors, replaced in tests.
var (
	openBackend    = backend.Open
	restoreBackend = backend.Restore
)

// run trains or evaluates according to cfg. The backend and the prefetch
// pipeline are released on every return path.
func run(ctx context.Context, cfg *config.Config, evalOnly string) error {
	runID := uuid.New().String()
	log.Printf("run_id=%s cpu=%q logical_cores=%d avx2=%v workers=%d",
		runID, cpuid.CPU.BrandName, cpuid.CPU.LogicalCores, cpuid.CPU.Supports(cpuid.AVX2), cfg.NumWorkers)

	var (
		topo model.Topology
		be   model.Backend
		kind = cfg.Backend
		err  error
	)
	if evalOnly != "" {
		header, params, err := artifact.Load(evalOnly)
		if err != nil {
			return pkgerrors.WithMessage(err, "load model")
		}
		topo, kind = header.Topology, header.Backend
		be, err = restoreBackend(kind, topo, params)
		if err != nil {
			return pkgerrors.WithMessage(err, "restore model")
		}
		log.Printf("restored run_id=%s backend=%s accuracy=%.4f", header.RunID, header.Backend, header.Accuracy)
	} else {
		topo, err = cfg.Topology()
		if err != nil {
			return pkgerrors.WithMessage(err, "invalid model")
		}
		be, err = openBackend(kind, topo)
		if err != nil {
			return pkgerrors.WithMessagef(err, "open backend %s", kind)
		}
	}
	defer func() {
		if err := be.Close(); err != nil {
			log.Printf("close backend: %v", err)
		}
	}()

	params, err := topo.ParamCount()
	if err != nil {
		return pkgerrors.WithMessage(err, "invalid model")
	}
	log.Printf("model=%s backend=%s params=%d\n%s", topo.Name, kind, params, topo)

	split, err := loadSplit(ctx, cfg, topo.Classes)
	if err != nil {
		return pkgerrors.WithMessage(err, "load dataset")
	}
	log.Printf("train_samples=%d test_samples=%d", len(split.Train), len(split.Test))

	scaler, err := dataset.FitScaler(split.Train, cfg.ScaleMin, cfg.ScaleMax)
	if err != nil {
		return pkgerrors.WithMessage(err, "fit scaler")
	}
	log.Printf("scaler min=%g max=%g range=[%g, %g]", scaler.Min, scaler.Max, scaler.Lo, scaler.Hi)

	test, err := dataset.NewProducer(split.Test, dataset.ProducerOptions{
		BatchSize: cfg.TestBatchSize,
		Scaler:    scaler,
	})
	if err != nil {
		return pkgerrors.WithMessage(err, "held-out batches")
	}

	if evalOnly != "" {
		eval, err := trainer.Evaluate(ctx, be, test, topo.Classes)
		if err != nil {
			return pkgerrors.WithMessage(err, "evaluation failed")
		}
		log.Printf("evaluation:\n%s", eval.Stats())
		return nil
	}

	trainSet, err := dataset.NewProducer(split.Train, dataset.ProducerOptions{
		BatchSize: cfg.BatchSize,
		Seed:      cfg.Seed,
		Shuffle:   cfg.Shuffle,
		Scaler:    scaler,
	})
	if err != nil {
		return pkgerrors.WithMessage(err, "training batches")
	}
	log.Printf("batches_per_epoch=%d batch_size=%d epochs=%d", trainSet.NumBatches(), cfg.BatchSize, cfg.Epochs)

	var train dataset.BatchSource = trainSet
	if cfg.Prefetch {
		p := dataset.Prefetch(ctx, trainSet)
		defer p.Close()
		train = p
	}

	start := time.Now()
	res, err := trainer.Run(ctx, trainer.RunConfig{
		Backend:  be,
		Train:    train,
		Test:     test,
		Schedule: topo.Schedule,
		Classes:  topo.Classes,
		Epochs:   cfg.Epochs,
		LogEvery: cfg.LogEvery,
		OnState: func(s trainer.State, epoch int) {
			log.Printf("state=%s epoch=%d", s, epoch)
		},
	})
	if err != nil {
		return pkgerrors.WithMessage(err, "training failed")
	}
	final := res.Final()
	log.Printf("training done steps=%d elapsed=%s", res.Steps, time.Since(start).Round(time.Millisecond))
	log.Printf("evaluation:\n%s", final.Stats())

	if cfg.ArtifactDir == "" {
		return nil
	}
	state, err := be.Parameters()
	if err != nil {
		return pkgerrors.WithMessage(err, "collect parameters")
	}
	path := filepath.Join(cfg.ArtifactDir, artifact.Name(cfg))
	header := &artifact.Header{
		RunID:     runID,
		Backend:   cfg.Backend,
		Topology:  topo,
		Epochs:    cfg.Epochs,
		Steps:     res.Steps,
		Accuracy:  final.Accuracy(),
		CreatedAt: time.Now().UTC(),
	}
	if err := artifact.Save(path, header, state); err != nil {
		return pkgerrors.WithMessage(err, "save model")
	}
	log.Printf("saved model=%s", path)
	return nil
}

func loadSplit(ctx context.Context, cfg *config.Config, classes int) (dataset.Split, error) {
	if cfg.Format == "idx" {
		url := cfg.DataURL
		if url == "" {
			url = dataset.DefaultIDXBaseURL
		}
		if err := dataset.EnsureIDX(ctx, cfg.DataRoot, url, nil); err != nil {
			return dataset.Split{}, err
		}
		return dataset.LoadIDX(cfg.DataRoot, classes)
	}
	url := cfg.DataURL
	if url == "" {
		url = dataset.DefaultURL
	}
	dir, err := dataset.Ensure(ctx, dataset.SourceOptions{
		Root:         cfg.DataRoot,
		URL:          url,
		ArchiveName:  cfg.ArchiveName,
		ExtractedDir: cfg.ExtractedDir,
	})
	if err != nil {
		return dataset.Split{}, err
	}
	return dataset.LoadSplit(ctx, dir, dataset.LoadOptions{
		Width:      cfg.Width,
		Height:     cfg.Height,
		Classes:    classes,
		NumWorkers: cfg.NumWorkers,
	})
}

// seedOverride returns seed only when -seed was passed, so -seed 0 is honoured.
func seedOverride(seed *int64) *int64 {
	var set *int64
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "seed" {
			set = seed
		}
	})
	return set
}
