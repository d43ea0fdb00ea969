package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/cpuid/v2"
	pkgerrors "github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"mnist-forge/internal/model"
)

// Config captures the runtime knobs for a training run.
type Config struct {
	Model   string `yaml:"model"`
	Backend string `yaml:"backend"`

	DataRoot     string `yaml:"data_root"`
	DataURL      string `yaml:"data_url"`
	ArchiveName  string `yaml:"archive_name"`
	ExtractedDir string `yaml:"extracted_dir"`
	Format       string `yaml:"format"`
	Width        int    `yaml:"width"`
	Height       int    `yaml:"height"`

	BatchSize     int     `yaml:"batch_size"`
	TestBatchSize int     `yaml:"test_batch_size"`
	Epochs        int     `yaml:"epochs"`
	Seed          int64   `yaml:"seed"`
	Shuffle       bool    `yaml:"shuffle"`
	ScaleMin      float64 `yaml:"scale_min"`
	ScaleMax      float64 `yaml:"scale_max"`
	NumWorkers    int     `yaml:"num_workers"`
	LogEvery      int     `yaml:"log_every"`
	Prefetch      bool    `yaml:"prefetch"`
	ArtifactDir   string  `yaml:"artifact_dir"`

	// Optional overrides of the model preset.
	LearningRates map[int]float64 `yaml:"learning_rates"`
	L2            *float64        `yaml:"l2"`
	Momentum      *float64        `yaml:"momentum"`
}

// Overrides captures CLI supplied values.
type Overrides struct {
	Model         string
	Backend       string
	DataRoot      string
	Format        string
	BatchSize     int
	TestBatchSize int
	Epochs        int
	NumWorkers    int
	// Seed is nil unless the flag was given, since 0 is a valid seed.
	Seed        *int64
	LogEvery    int
	ArtifactDir string
}

// Load reads and validates a Config from YAML. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	cfg, err := parseYAML(f)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func parseYAML(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("config is empty")
		}
		return nil, err
	}
	return cfg, nil
}

// ApplyOverrides updates cfg using any non-zero override and a set Seed.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.Model != "" {
		c.Model = o.Model
	}
	if o.Backend != "" {
		c.Backend = o.Backend
	}
	if o.DataRoot != "" {
		c.DataRoot = o.DataRoot
	}
	if o.Format != "" {
		c.Format = o.Format
	}
	if o.BatchSize > 0 {
		c.BatchSize = o.BatchSize
	}
	if o.TestBatchSize > 0 {
		c.TestBatchSize = o.TestBatchSize
	}
	if o.Epochs > 0 {
		c.Epochs = o.Epochs
	}
	if o.NumWorkers > 0 {
		c.NumWorkers = o.NumWorkers
	}
	if o.Seed != nil {
		c.Seed = *o.Seed
	}
	if o.LogEvery > 0 {
		c.LogEvery = o.LogEvery
	}
	if o.ArtifactDir != "" {
		c.ArtifactDir = o.ArtifactDir
	}
}

// Validate verifies the config is runnable and fills defaults for the
// optional knobs.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.Model == "" {
		return invalid("model must be set")
	}
	if c.Backend == "" {
		return invalid("backend must be set")
	}
	if c.DataRoot == "" {
		return invalid("data_root must be set")
	}
	switch c.Format {
	case "":
		c.Format = "png"
	case "png", "idx":
	default:
		return invalid("format must be png or idx (got %q)", c.Format)
	}
	if c.Width == 0 && c.Height == 0 {
		c.Width, c.Height = 28, 28
	}
	if c.Width <= 0 || c.Height <= 0 {
		return invalid("width and height must be > 0 (got %dx%d)", c.Width, c.Height)
	}
	if c.BatchSize <= 0 {
		return invalid("batch_size must be > 0 (got %d)", c.BatchSize)
	}
	if c.TestBatchSize < 0 {
		return invalid("test_batch_size must be >= 0 (got %d)", c.TestBatchSize)
	}
	if c.TestBatchSize == 0 {
		c.TestBatchSize = c.BatchSize
	}
	if c.Epochs <= 0 {
		return invalid("epochs must be > 0 (got %d)", c.Epochs)
	}
	if c.ScaleMin == 0 && c.ScaleMax == 0 {
		c.ScaleMax = 1
	}
	if c.ScaleMin >= c.ScaleMax {
		return invalid("scale_min must be < scale_max (got %g, %g)", c.ScaleMin, c.ScaleMax)
	}
	if c.NumWorkers < 0 {
		return invalid("num_workers must be >= 0 (got %d)", c.NumWorkers)
	}
	if c.NumWorkers == 0 {
		c.NumWorkers = defaultWorkers()
	}
	if c.LogEvery <= 0 {
		c.LogEvery = 10
	}
	_, err := c.Topology()
	return err
}

// Topology returns the model preset with the configured input shape and
// hyperparameter overrides applied, validated.
func (c *Config) Topology() (model.Topology, error) {
	topo, err := model.Preset(c.Model, c.Seed)
	if err != nil {
		return model.Topology{}, err
	}
	if c.Width > 0 && c.Height > 0 {
		topo.Input = model.Shape{Width: c.Width, Height: c.Height, Depth: 1}
	}
	if len(c.LearningRates) > 0 {
		schedule, err := model.NewSchedule(c.LearningRates)
		if err != nil {
			return model.Topology{}, pkgerrors.WithMessage(err, "learning_rates")
		}
		topo.Schedule = schedule
	}
	if c.L2 != nil {
		topo.L2 = *c.L2
	}
	if c.Momentum != nil {
		topo.Momentum = *c.Momentum
	}
	if err := topo.Validate(); err != nil {
		return model.Topology{}, err
	}
	return topo, nil
}

func defaultWorkers() int {
	if n := cpuid.CPU.LogicalCores; n > 0 {
		return n
	}
	return 1
}

func invalid(format string, args ...interface{}) error {
	return pkgerrors.Wrapf(model.ErrConfiguration, format, args...)
}
