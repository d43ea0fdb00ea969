package dataset

import (
	"math"
	"testing"
)

func TestScalerEndpoints(t *testing.T) {
	train := []Sample{
		{Pixels: []float64{12, 40, 200}},
		{Pixels: []float64{7, 90, 230}},
	}
	for _, r := range [][2]float64{{0, 1}, {-1, 1}, {0.5, 3}} {
		s, err := FitScaler(train, r[0], r[1])
		if err != nil {
			t.Fatalf("FitScaler: %v", err)
		}
		if s.Min != 7 || s.Max != 230 {
			t.Fatalf("fit min/max = %v/%v", s.Min, s.Max)
		}
		if got := s.Transform(s.Min); got != r[0] {
			t.Fatalf("Transform(min)=%v want %v", got, r[0])
		}
		if got := s.Transform(s.Max); got != r[1] {
			t.Fatalf("Transform(max)=%v want %v", got, r[1])
		}
		out := s.Apply([]float64{7, 230})
		if math.Abs(out[0]-r[0]) > 1e-12 || math.Abs(out[1]-r[1]) > 1e-12 {
			t.Fatalf("Apply endpoints = %v, want %v", out, r)
		}
	}
}

func TestScalerFitsTrainingOnly(t *testing.T) {
	train := []Sample{{Pixels: []float64{0, 100}}}
	s, err := FitScaler(train, 0, 1)
	if err != nil {
		t.Fatalf("FitScaler: %v", err)
	}
	// held-out values outside the training range are not clamped
	if got := s.Transform(200); got != 2 {
		t.Fatalf("Transform(200)=%v want 2", got)
	}
}

func TestScalerDegenerate(t *testing.T) {
	s, err := FitScaler([]Sample{{Pixels: []float64{5, 5}}}, 0, 1)
	if err != nil {
		t.Fatalf("FitScaler: %v", err)
	}
	if got := s.Transform(5); got != 0 {
		t.Fatalf("degenerate Transform=%v", got)
	}
	for _, v := range s.Apply([]float64{5, 9}) {
		if v != 0 {
			t.Fatalf("degenerate Apply=%v", v)
		}
	}
	if _, err := FitScaler(nil, 1, 1); err == nil {
		t.Fatal("expected empty range error")
	}
}
