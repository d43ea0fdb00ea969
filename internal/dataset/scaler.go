package dataset

import (
	"fmt"

	"gonum.org/v1/gonum/floats"

	"mnist-forge/internal/model"
)

// Scaler linearly rescales pixel intensities from [Min, Max] into [Lo, Hi].
// It is fit once on the training subset and reused unchanged on the held-out
// subset.
type Scaler struct {
	Min float64
	Max float64
	Lo  float64
	Hi  float64
}

// FitScaler derives Min and Max from the training samples.
func FitScaler(train []Sample, lo, hi float64) (*Scaler, error) {
	if lo >= hi {
		return nil, fmt.Errorf("scaler: output range [%g, %g] is empty: %w", lo, hi, model.ErrConfiguration)
	}
	s := &Scaler{Lo: lo, Hi: hi}
	first := true
	for _, sample := range train {
		if len(sample.Pixels) == 0 {
			continue
		}
		mn, mx := floats.Min(sample.Pixels), floats.Max(sample.Pixels)
		if first || mn < s.Min {
			s.Min = mn
		}
		if first || mx > s.Max {
			s.Max = mx
		}
		first = false
	}
	return s, nil
}

// Transform maps a single value. A degenerate fit (Max == Min) maps every
// value to Lo.
func (s *Scaler) Transform(x float64) float64 {
	span := s.Max - s.Min
	if span == 0 {
		return s.Lo
	}
	return s.Lo + (x-s.Min)/span*(s.Hi-s.Lo)
}

// Apply returns a scaled copy of pixels.
func (s *Scaler) Apply(pixels []float64) []float64 {
	out := make([]float64, len(pixels))
	span := s.Max - s.Min
	if span == 0 {
		for i := range out {
			out[i] = s.Lo
		}
		return out
	}
	copy(out, pixels)
	floats.AddConst(-s.Min, out)
	floats.Scale((s.Hi-s.Lo)/span, out)
	floats.AddConst(s.Lo, out)
	return out
}
