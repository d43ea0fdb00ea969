package model

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// LayerKind names the structural role of a layer.
type LayerKind string

const (
	Conv    LayerKind = "conv"
	MaxPool LayerKind = "maxpool"
	Dense   LayerKind = "dense"
	Output  LayerKind = "output"
)

// Activation names the nonlinearity applied after a layer.
type Activation string

const (
	Identity Activation = "identity"
	ReLU     Activation = "relu"
	Tanh     Activation = "tanh"
	Sigmoid  Activation = "sigmoid"
	Softmax  Activation = "softmax"
)

// WeightInit names a parameter initialization scheme.
type WeightInit string

const (
	Xavier WeightInit = "xavier"
	Zeros  WeightInit = "zeros"
)

// Shape is a row-major depth-minor tensor shape for a single sample.
type Shape struct {
	Width  int `json:"width"`
	Height int `json:"height"`
	Depth  int `json:"depth"`
}

// Size returns the number of scalars in the shape.
func (s Shape) Size() int {
	return s.Width * s.Height * s.Depth
}

func (s Shape) String() string {
	return fmt.Sprintf("%dx%dx%d", s.Width, s.Height, s.Depth)
}

// LayerSpec declares one layer. KernelW/KernelH and StrideX/StrideY apply to
// conv and maxpool layers; Out is the filter count (conv) or unit count
// (dense, output).
type LayerSpec struct {
	Kind       LayerKind  `json:"kind"`
	KernelW    int        `json:"kernel_w,omitempty"`
	KernelH    int        `json:"kernel_h,omitempty"`
	StrideX    int        `json:"stride_x,omitempty"`
	StrideY    int        `json:"stride_y,omitempty"`
	Out        int        `json:"out,omitempty"`
	Activation Activation `json:"activation,omitempty"`
}

// Topology is the full, data-independent description of a network plus its
// global hyperparameters. It is never mutated once validated.
type Topology struct {
	Name       string      `json:"name"`
	Input      Shape       `json:"input"`
	Layers     []LayerSpec `json:"layers"`
	Classes    int         `json:"classes"`
	Seed       int64       `json:"seed"`
	WeightInit WeightInit  `json:"weight_init"`
	L2         float64     `json:"l2"`
	Momentum   float64     `json:"momentum"`
	Schedule   Schedule    `json:"schedule"`
}

// Infer walks the layers and returns the output shape of every layer, in
// order. Any shape that cannot be produced fails with ErrConfiguration.
func (t Topology) Infer() ([]Shape, error) {
	if t.Input.Size() <= 0 {
		return nil, configErr("input shape %s must be positive", t.Input)
	}
	if len(t.Layers) == 0 {
		return nil, configErr("topology %q has no layers", t.Name)
	}
	if t.Classes <= 0 {
		return nil, configErr("classes must be > 0 (got %d)", t.Classes)
	}

	shapes := make([]Shape, 0, len(t.Layers))
	cur := t.Input
	for i, l := range t.Layers {
		var next Shape
		switch l.Kind {
		case Conv, MaxPool:
			if l.KernelW <= 0 || l.KernelH <= 0 || l.StrideX <= 0 || l.StrideY <= 0 {
				return nil, configErr("layer %d (%s): kernel and stride must be > 0", i, l.Kind)
			}
			if l.KernelW > cur.Width || l.KernelH > cur.Height {
				return nil, configErr("layer %d (%s): kernel %dx%d larger than input %s",
					i, l.Kind, l.KernelW, l.KernelH, cur)
			}
			next = Shape{
				Width:  1 + (cur.Width-l.KernelW)/l.StrideX,
				Height: 1 + (cur.Height-l.KernelH)/l.StrideY,
				Depth:  cur.Depth,
			}
			if l.Kind == Conv {
				if l.Out <= 0 {
					return nil, configErr("layer %d (conv): out must be > 0", i)
				}
				next.Depth = l.Out
			}
		case Dense, Output:
			if l.Out <= 0 {
				return nil, configErr("layer %d (%s): out must be > 0", i, l.Kind)
			}
			next = Shape{Width: 1, Height: 1, Depth: l.Out}
		default:
			return nil, configErr("layer %d: unknown kind %q", i, l.Kind)
		}
		if err := checkActivation(i, l); err != nil {
			return nil, err
		}
		if l.Kind == Output && i != len(t.Layers)-1 {
			return nil, configErr("layer %d: output layer must be last", i)
		}
		shapes = append(shapes, next)
		cur = next
	}

	last := t.Layers[len(t.Layers)-1]
	if last.Kind != Output {
		return nil, configErr("topology %q must end with an output layer", t.Name)
	}
	if last.Out != t.Classes {
		return nil, configErr("output layer has %d units, want %d classes", last.Out, t.Classes)
	}
	return shapes, nil
}

func checkActivation(i int, l LayerSpec) error {
	switch l.Activation {
	case "", Identity, ReLU, Tanh, Sigmoid:
		if l.Kind == Output {
			return configErr("layer %d: output activation must be %s", i, Softmax)
		}
		if l.Kind == MaxPool && l.Activation != "" && l.Activation != Identity {
			return configErr("layer %d: maxpool takes no activation", i)
		}
		return nil
	case Softmax:
		if l.Kind != Output {
			return configErr("layer %d: %s is only valid on the output layer", i, Softmax)
		}
		return nil
	default:
		return configErr("layer %d: unknown activation %q", i, l.Activation)
	}
}

// Validate checks shapes end to end and the global hyperparameters.
func (t Topology) Validate() error {
	if _, err := t.Infer(); err != nil {
		return err
	}
	switch t.WeightInit {
	case Xavier, Zeros:
	default:
		return configErr("unknown weight init %q", t.WeightInit)
	}
	if t.L2 < 0 {
		return configErr("l2 must be >= 0 (got %g)", t.L2)
	}
	if t.Momentum < 0 || t.Momentum >= 1 {
		return configErr("momentum must be in [0, 1) (got %g)", t.Momentum)
	}
	return t.Schedule.Validate()
}

// ParamCount returns the number of weights and biases the topology declares.
func (t Topology) ParamCount() (int, error) {
	shapes, err := t.Infer()
	if err != nil {
		return 0, err
	}
	count := 0
	in := t.Input
	for i, l := range t.Layers {
		switch l.Kind {
		case Conv:
			count += l.KernelW*l.KernelH*in.Depth*l.Out + l.Out
		case Dense, Output:
			count += in.Size()*l.Out + l.Out
		}
		in = shapes[i]
	}
	return count, nil
}

// String renders one line per layer with its output shape.
func (t Topology) String() string {
	shapes, err := t.Infer()
	if err != nil {
		return fmt.Sprintf("%s (invalid: %v)", t.Name, err)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s input=%s", t.Name, t.Input)
	for i, l := range t.Layers {
		fmt.Fprintf(&sb, "\n  %d %-7s", i, l.Kind)
		if l.Kind == Conv || l.Kind == MaxPool {
			fmt.Fprintf(&sb, " k=%dx%d s=%dx%d", l.KernelW, l.KernelH, l.StrideX, l.StrideY)
		}
		if l.Activation != "" {
			fmt.Fprintf(&sb, " act=%s", l.Activation)
		}
		fmt.Fprintf(&sb, " -> %s", shapes[i])
	}
	return sb.String()
}

// LeNet5 returns the LeNet-5 variant used for MNIST: identity convolutions,
// max pooling, a ReLU dense layer and a softmax output.
func LeNet5(seed int64) Topology {
	return Topology{
		Name:  "lenet5",
		Input: Shape{Width: 28, Height: 28, Depth: 1},
		Layers: []LayerSpec{
			{Kind: Conv, KernelW: 5, KernelH: 5, StrideX: 1, StrideY: 1, Out: 20, Activation: Identity},
			{Kind: MaxPool, KernelW: 2, KernelH: 2, StrideX: 2, StrideY: 2},
			{Kind: Conv, KernelW: 5, KernelH: 5, StrideX: 1, StrideY: 1, Out: 50, Activation: Identity},
			{Kind: MaxPool, KernelW: 2, KernelH: 2, StrideX: 2, StrideY: 2},
			{Kind: Dense, Out: 500, Activation: ReLU},
			{Kind: Output, Out: 10, Activation: Softmax},
		},
		Classes:    10,
		Seed:       seed,
		WeightInit: Xavier,
		L2:         0.0005,
		Momentum:   0.9,
		Schedule: mustSchedule(map[int]float64{
			0:    0.06,
			200:  0.05,
			600:  0.028,
			800:  0.006,
			1000: 0.001,
		}),
	}
}

// SoftmaxRegression returns a single-layer softmax classifier over flattened
// 28x28 images, zero-initialized and trained at a constant rate.
func SoftmaxRegression(seed int64) Topology {
	return Topology{
		Name:  "softmax",
		Input: Shape{Width: 28, Height: 28, Depth: 1},
		Layers: []LayerSpec{
			{Kind: Output, Out: 10, Activation: Softmax},
		},
		Classes:    10,
		Seed:       seed,
		WeightInit: Zeros,
		Schedule:   Constant(0.2),
	}
}

// Preset returns a named topology.
func Preset(name string, seed int64) (Topology, error) {
	switch name {
	case "lenet5":
		return LeNet5(seed), nil
	case "softmax":
		return SoftmaxRegression(seed), nil
	default:
		return Topology{}, configErr("unknown model %q", name)
	}
}

func configErr(format string, args ...interface{}) error {
	return errors.Wrapf(ErrConfiguration, format, args...)
}
