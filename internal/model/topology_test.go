package model

import (
	"errors"
	"testing"
)

func TestLeNet5Shapes(t *testing.T) {
	topo := LeNet5(1234)
	if err := topo.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	shapes, err := topo.Infer()
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	want := []Shape{
		{24, 24, 20},
		{12, 12, 20},
		{8, 8, 50},
		{4, 4, 50},
		{1, 1, 500},
		{1, 1, 10},
	}
	if len(shapes) != len(want) {
		t.Fatalf("expected %d shapes, got %d", len(want), len(shapes))
	}
	for i := range want {
		if shapes[i] != want[i] {
			t.Fatalf("layer %d shape=%s want %s", i, shapes[i], want[i])
		}
	}
	params, err := topo.ParamCount()
	if err != nil {
		t.Fatalf("ParamCount: %v", err)
	}
	if params != 431080 {
		t.Fatalf("expected 431080 params, got %d", params)
	}
}

func TestSoftmaxRegressionParams(t *testing.T) {
	topo := SoftmaxRegression(0)
	if err := topo.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	params, err := topo.ParamCount()
	if err != nil {
		t.Fatalf("ParamCount: %v", err)
	}
	if params != 784*10+10 {
		t.Fatalf("unexpected param count %d", params)
	}
}

func TestTopologyShapeMismatch(t *testing.T) {
	cases := map[string]func(*Topology){
		"kernel too large": func(tp *Topology) {
			tp.Input = Shape{Width: 8, Height: 8, Depth: 1}
		},
		"output not last": func(tp *Topology) {
			tp.Layers = append(tp.Layers, LayerSpec{Kind: Dense, Out: 4, Activation: ReLU})
		},
		"wrong class count": func(tp *Topology) {
			tp.Classes = 7
		},
		"softmax on hidden layer": func(tp *Topology) {
			tp.Layers[4].Activation = Softmax
		},
		"unknown kind": func(tp *Topology) {
			tp.Layers[1].Kind = "avgpool"
		},
		"zero stride": func(tp *Topology) {
			tp.Layers[0].StrideX = 0
		},
		"negative l2": func(tp *Topology) {
			tp.L2 = -1
		},
		"momentum one": func(tp *Topology) {
			tp.Momentum = 1
		},
		"unknown init": func(tp *Topology) {
			tp.WeightInit = "he"
		},
	}
	for name, mutate := range cases {
		topo := LeNet5(1)
		topo.Layers = append([]LayerSpec(nil), topo.Layers...)
		mutate(&topo)
		if err := topo.Validate(); !errors.Is(err, ErrConfiguration) {
			t.Fatalf("%s: expected configuration error, got %v", name, err)
		}
	}
}

func TestPreset(t *testing.T) {
	if _, err := Preset("lenet5", 1); err != nil {
		t.Fatalf("lenet5: %v", err)
	}
	if _, err := Preset("resnet", 1); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestBatchOneHot(t *testing.T) {
	b := Batch{Inputs: [][]float64{{0}, {0}}, Labels: []int{2, 0}}
	got := b.OneHot(3)
	want := []float64{0, 0, 1, 1, 0, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("one-hot[%d]=%v want %v", i, got[i], want[i])
		}
	}
}
