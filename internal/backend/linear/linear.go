// Package linear trains a single-layer softmax classifier on gonum matrices.
package linear

import (
	"math"
	"math/rand"
	"sync"

	"github.com/pkg/errors"
	"github.com/unixpickle/serializer"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"mnist-forge/internal/model"
)

// Kind is the configuration name of this backend.
const Kind = "linear"

// Backend holds an In x Classes weight matrix and a bias vector.
type Backend struct {
	mu      sync.Mutex
	topo    model.Topology
	in      int
	classes int
	weights *mat.Dense
	biases  *mat.VecDense
	// momentum buffers, nil when the topology trains without momentum
	vw     *mat.Dense
	vb     *mat.VecDense
	closed bool
}

// Open validates topo and initializes the parameters. Only topologies made of
// a single output layer can be realised.
func Open(topo model.Topology) (*Backend, error) {
	if err := supported(topo); err != nil {
		return nil, err
	}
	in, classes := topo.Input.Size(), topo.Classes
	weights := mat.NewDense(in, classes, nil)
	if topo.WeightInit == model.Xavier {
		rng := rand.New(rand.NewSource(topo.Seed))
		scale := math.Sqrt(2 / float64(in+classes))
		raw := weights.RawMatrix().Data
		for i := range raw {
			raw[i] = rng.NormFloat64() * scale
		}
	}
	return newBackend(topo, weights, mat.NewVecDense(classes, nil)), nil
}

// Restore rebuilds a backend from parameters produced by Parameters.
func Restore(topo model.Topology, data []byte) (*Backend, error) {
	if err := supported(topo); err != nil {
		return nil, err
	}
	p, err := DeserializeParams(data)
	if err != nil {
		return nil, err
	}
	r, c := p.Weights.Dims()
	if r != topo.Input.Size() || c != topo.Classes || p.Biases.Len() != topo.Classes {
		return nil, errors.Wrapf(model.ErrConfiguration,
			"stored parameters are %dx%d+%d, topology %q needs %dx%d+%d",
			r, c, p.Biases.Len(), topo.Name, topo.Input.Size(), topo.Classes, topo.Classes)
	}
	return newBackend(topo, p.Weights, p.Biases), nil
}

func supported(topo model.Topology) error {
	if err := topo.Validate(); err != nil {
		return err
	}
	if len(topo.Layers) != 1 {
		return errors.Wrapf(model.ErrConfiguration,
			"%s backend supports a single output layer, topology %q has %d layers",
			Kind, topo.Name, len(topo.Layers))
	}
	return nil
}

func newBackend(topo model.Topology, weights *mat.Dense, biases *mat.VecDense) *Backend {
	in, classes := weights.Dims()
	b := &Backend{
		topo:    topo,
		in:      in,
		classes: classes,
		weights: weights,
		biases:  biases,
	}
	if topo.Momentum > 0 {
		b.vw = mat.NewDense(in, classes, nil)
		b.vb = mat.NewVecDense(classes, nil)
	}
	return b
}

func (b *Backend) design(batch model.Batch) (*mat.Dense, error) {
	if batch.Len() == 0 {
		return nil, errors.New("linear: empty batch")
	}
	x := mat.NewDense(batch.Len(), b.in, nil)
	for i, row := range batch.Inputs {
		if len(row) != b.in {
			return nil, errors.Errorf("linear: sample %d has %d values, want %d", i, len(row), b.in)
		}
		x.SetRow(i, row)
	}
	return x, nil
}

// probabilities returns the softmax of x*W + b, one row per sample.
func (b *Backend) probabilities(x *mat.Dense) *mat.Dense {
	var out mat.Dense
	out.Mul(x, b.weights)
	bias := b.biases.RawVector().Data
	rows, _ := out.Dims()
	for i := 0; i < rows; i++ {
		row := out.RawRowView(i)
		floats.Add(row, bias)
		floats.AddConst(-floats.Max(row), row)
		for j, v := range row {
			row[j] = math.Exp(v)
		}
		floats.Scale(1/floats.Sum(row), row)
	}
	return &out
}

// TrainStep applies one gradient step of mean cross-entropy plus the L2
// penalty on the weights.
func (b *Backend) TrainStep(batch model.Batch, lr float64) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, model.ErrClosed
	}
	x, err := b.design(batch)
	if err != nil {
		return 0, err
	}
	if len(batch.Labels) != batch.Len() {
		return 0, errors.Errorf("linear: %d inputs but %d labels", batch.Len(), len(batch.Labels))
	}
	n := float64(batch.Len())
	probs := b.probabilities(x)

	loss := 0.0
	for i, label := range batch.Labels {
		if label < 0 || label >= b.classes {
			return 0, errors.Errorf("linear: sample %d label %d outside [0, %d)", i, label, b.classes)
		}
		p := probs.At(i, label)
		loss -= math.Log(math.Max(p, 1e-12))
		probs.Set(i, label, p-1)
	}
	loss /= n
	l2 := b.topo.L2
	if l2 > 0 {
		w := b.weights.RawMatrix().Data
		loss += l2 / 2 * floats.Dot(w, w)
	}
	probs.Scale(1/n, probs)

	var gw mat.Dense
	gw.Mul(x.T(), probs)
	if l2 > 0 {
		var reg mat.Dense
		reg.Scale(l2, b.weights)
		gw.Add(&gw, &reg)
	}
	gb := mat.NewVecDense(b.classes, nil)
	for j := 0; j < b.classes; j++ {
		gb.SetVec(j, floats.Sum(mat.Col(nil, j, probs)))
	}

	stepW, stepB := &gw, gb
	if b.vw != nil {
		m := b.topo.Momentum
		b.vw.Scale(m, b.vw)
		b.vw.Add(b.vw, &gw)
		b.vb.AddScaledVec(gb, m, b.vb)
		stepW, stepB = b.vw, b.vb
	}
	var update mat.Dense
	update.Scale(lr, stepW)
	b.weights.Sub(b.weights, &update)
	b.biases.AddScaledVec(b.biases, -lr, stepB)
	return loss, nil
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
	x, err := b.design(batch)
	if err != nil {
		return nil, err
	}
	probs := b.probabilities(x)
	preds := make([]int, batch.Len())
	for i := range preds {
		preds[i] = floats.MaxIdx(probs.RawRowView(i))
	}
	return preds, nil
}

// Parameters returns a copy of the weights and biases.
func (b *Backend) Parameters() (serializer.Serializer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, model.ErrClosed
	}
	return &Params{
		Weights: mat.DenseCopyOf(b.weights),
		Biases:  mat.VecDenseCopyOf(b.biases),
	}, nil
}

// Close releases the matrices. Later calls to Close are no-ops.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.weights, b.biases, b.vw, b.vb = nil, nil, nil, nil
	return nil
}
