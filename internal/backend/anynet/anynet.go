// Package anynet realises a model.Topology on github.com/unixpickle/anynet.
//
// Convolution, pooling and dense layers map onto anyconv.Conv, anyconv.MaxPool
// and anynet.FC. The output layer is a log-softmax trained against a dot-product
// cost, which is cross-entropy on one-hot targets.
package anynet

import (
	"math"
	"math/rand"
	"sync"

	"github.com/pkg/errors"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet"
	"github.com/unixpickle/anynet/anyconv"
	"github.com/unixpickle/anynet/anyff"
	"github.com/unixpickle/anynet/anysgd"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvec32"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"

	"mnist-forge/internal/model"
)

// Kind is the configuration name of this backend.
const Kind = "anynet"

// Backend trains an anynet.Net with momentum SGD.
type Backend struct {
	mu       sync.Mutex
	topo     model.Topology
	creator  anyvec.Creator
	net      anynet.Net
	trainer  *anyff.Trainer
	momentum *anysgd.Momentum
	closed   bool
}

// Open validates topo and builds a freshly initialized network.
func Open(topo model.Topology) (*Backend, error) {
	if err := topo.Validate(); err != nil {
		return nil, err
	}
	c := anyvec32.CurrentCreator()
	net, err := build(c, topo, rand.New(rand.NewSource(topo.Seed)))
	if err != nil {
		return nil, err
	}
	return newBackend(c, topo, net), nil
}

// Restore rebuilds a backend from parameters produced by Parameters. The
// stored network must match topo.
func Restore(topo model.Topology, data []byte) (*Backend, error) {
	if err := topo.Validate(); err != nil {
		return nil, err
	}
	net, err := anynet.DeserializeNet(data)
	if err != nil {
		return nil, essentials.AddCtx("restore anynet parameters", err)
	}
	want, err := topo.ParamCount()
	if err != nil {
		return nil, err
	}
	if got := countParams(net); got != want {
		return nil, errors.Wrapf(model.ErrConfiguration,
			"stored network has %d parameters, topology %q declares %d", got, topo.Name, want)
	}
	return newBackend(anyvec32.CurrentCreator(), topo, net), nil
}

func newBackend(c anyvec.Creator, topo model.Topology, net anynet.Net) *Backend {
	params := net.Parameters()
	var cost anynet.Cost = anynet.DotCost{}
	if topo.L2 > 0 {
		cost = &anynet.L2Reg{Penalty: topo.L2, Params: weightsOf(net), Wrapped: cost}
	}
	b := &Backend{
		topo:    topo,
		creator: c,
		net:     net,
		trainer: &anyff.Trainer{
			Net:     net,
			Cost:    cost,
			Params:  params,
			Average: true,
		},
	}
	if topo.Momentum > 0 {
		b.momentum = &anysgd.Momentum{Momentum: topo.Momentum}
	}
	return b
}

func build(c anyvec.Creator, topo model.Topology, rng *rand.Rand) (anynet.Net, error) {
	shapes, err := topo.Infer()
	if err != nil {
		return nil, err
	}
	var net anynet.Net
	in := topo.Input
	for i, l := range topo.Layers {
		switch l.Kind {
		case model.Conv:
			conv := &anyconv.Conv{
				FilterCount:  l.Out,
				FilterWidth:  l.KernelW,
				FilterHeight: l.KernelH,
				StrideX:      l.StrideX,
				StrideY:      l.StrideY,
				InputWidth:   in.Width,
				InputHeight:  in.Height,
				InputDepth:   in.Depth,
			}
			conv.InitZero(c)
			if topo.WeightInit == model.Xavier {
				area := l.KernelW * l.KernelH
				xavier(c, conv.Filters.Vector, area*in.Depth, area*l.Out, rng)
			}
			net = append(net, conv)
		case model.MaxPool:
			if l.StrideX != l.KernelW || l.StrideY != l.KernelH {
				return nil, errors.Wrapf(model.ErrConfiguration,
					"layer %d: %s backend pools with stride equal to the kernel (got kernel %dx%d stride %dx%d)",
					i, Kind, l.KernelW, l.KernelH, l.StrideX, l.StrideY)
			}
			net = append(net, &anyconv.MaxPool{
				SpanX:       l.KernelW,
				SpanY:       l.KernelH,
				InputWidth:  in.Width,
				InputHeight: in.Height,
				InputDepth:  in.Depth,
			})
		case model.Dense, model.Output:
			fc := anynet.NewFCZero(c, in.Size(), l.Out)
			if topo.WeightInit == model.Xavier {
				xavier(c, fc.Weights.Vector, in.Size(), l.Out, rng)
			}
			net = append(net, fc)
		}
		if act, ok := activation(l.Activation); ok {
			net = append(net, act)
		}
		in = shapes[i]
	}
	return net, nil
}

func activation(a model.Activation) (anynet.Activation, bool) {
	switch a {
	case model.ReLU:
		return anynet.ReLU, true
	case model.Tanh:
		return anynet.Tanh, true
	case model.Sigmoid:
		return anynet.Sigmoid, true
	case model.Softmax:
		return anynet.LogSoftmax, true
	}
	return 0, false
}

// xavier fills vec from N(0, 2/(fanIn+fanOut)) using rng.
func xavier(c anyvec.Creator, vec anyvec.Vector, fanIn, fanOut int, rng *rand.Rand) {
	anyvec.Rand(vec, anyvec.Normal, rng)
	vec.Scale(c.MakeNumeric(math.Sqrt(2 / float64(fanIn+fanOut))))
}

// weightsOf returns the filters and dense weights of net; biases are left out
// of the L2 penalty.
func weightsOf(net anynet.Net) []*anydiff.Var {
	var out []*anydiff.Var
	for _, layer := range net {
		switch l := layer.(type) {
		case *anyconv.Conv:
			out = append(out, l.Filters)
		case *anynet.FC:
			out = append(out, l.Weights)
		}
	}
	return out
}

func countParams(net anynet.Net) int {
	n := 0
	for _, p := range net.Parameters() {
		n += p.Vector.Len()
	}
	return n
}

// TrainStep runs forward and backward passes over batch and applies one
// momentum step at learning rate lr.
func (b *Backend) TrainStep(batch model.Batch, lr float64) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, model.ErrClosed
	}
	samples, err := b.samples(batch)
	if err != nil {
		return 0, err
	}
	fetched, err := b.trainer.Fetch(samples)
	if err != nil {
		return 0, essentials.AddCtx("anynet train step", err)
	}
	grad := b.trainer.Gradient(fetched)
	loss := numeric(b.trainer.LastCost)
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		return loss, errors.Errorf("anynet train step: loss diverged (%v)", loss)
	}
	if b.momentum != nil {
		grad = b.momentum.Transform(grad)
	}
	grad.Scale(b.creator.MakeNumeric(-lr))
	grad.AddToVars()
	return loss, nil
}

func (b *Backend) samples(batch model.Batch) (anyff.SliceSampleList, error) {
	if batch.Len() == 0 {
		return nil, errors.New("anynet: empty batch")
	}
	if len(batch.Labels) != batch.Len() {
		return nil, errors.Errorf("anynet: %d inputs but %d labels", batch.Len(), len(batch.Labels))
	}
	classes := b.topo.Classes
	size := b.topo.Input.Size()
	list := make(anyff.SliceSampleList, batch.Len())
	for i, in := range batch.Inputs {
		if len(in) != size {
			return nil, errors.Errorf("anynet: sample %d has %d values, want %d", i, len(in), size)
		}
		label := batch.Labels[i]
		if label < 0 || label >= classes {
			return nil, errors.Errorf("anynet: sample %d label %d outside [0, %d)", i, label, classes)
		}
		target := make([]float64, classes)
		target[label] = 1
		list[i] = &anyff.Sample{
			Input:  b.creator.MakeVectorData(b.creator.MakeNumericList(in)),
			Output: b.creator.MakeVectorData(b.creator.MakeNumericList(target)),
		}
	}
	return list, nil
}

// Predict returns the arg-max class of every sample.
func (b *Backend) Predict(batch model.Batch) ([]int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, model.ErrClosed
	}
	if batch.Len() == 0 {
		return nil, nil
	}
	size := b.topo.Input.Size()
	flat := make([]float64, 0, batch.Len()*size)
	for i, in := range batch.Inputs {
		if len(in) != size {
			return nil, errors.Errorf("anynet: sample %d has %d values, want %d", i, len(in), size)
		}
		flat = append(flat, in...)
	}
	input := anydiff.NewConst(b.creator.MakeVectorData(b.creator.MakeNumericList(flat)))
	out := b.net.Apply(input, batch.Len()).Output()

	classes := b.topo.Classes
	preds := make([]int, batch.Len())
	for i := range preds {
		preds[i] = anyvec.MaxIndex(out.Slice(i*classes, (i+1)*classes))
	}
	return preds, nil
}

// Parameters returns the network itself, which serializes every layer.
func (b *Backend) Parameters() (serializer.Serializer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, model.ErrClosed
	}
	return b.net, nil
}

// Close drops the network. Later calls to Close are no-ops.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.net = nil
	b.trainer = nil
	b.momentum = nil
	return nil
}

func numeric(n anyvec.Numeric) float64 {
	switch v := n.(type) {
	case float32:
		return float64(v)
	case float64:
		return v
	}
	return math.NaN()
}
