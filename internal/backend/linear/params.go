package linear

import (
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
	"gonum.org/v1/gonum/mat"
)

func init() {
	var p Params
	serializer.RegisterTypedDeserializer(p.SerializerType(), DeserializeParams)
	var m denseMatrix
	serializer.RegisterTypedDeserializer(m.SerializerType(), deserializeDenseMatrix)
	var v denseVector
	serializer.RegisterTypedDeserializer(v.SerializerType(), deserializeDenseVector)
}

// Params is the persisted state of a linear backend.
type Params struct {
	Weights *mat.Dense
	Biases  *mat.VecDense
}

// DeserializeParams decodes Params written by Serialize.
func DeserializeParams(d []byte) (*Params, error) {
	var w *denseMatrix
	var b *denseVector
	if err := serializer.DeserializeAny(d, &w, &b); err != nil {
		return nil, essentials.AddCtx("deserialize linear params", err)
	}
	return &Params{Weights: w.Dense, Biases: b.VecDense}, nil
}

// SerializerType returns the unique ID used to serialize Params.
func (p *Params) SerializerType() string {
	return "mnist-forge/linear.Params"
}

// Serialize encodes the weights and biases with gonum's binary format.
func (p *Params) Serialize() ([]byte, error) {
	return serializer.SerializeAny(&denseMatrix{p.Weights}, &denseVector{p.Biases})
}

type denseMatrix struct {
	*mat.Dense
}

func deserializeDenseMatrix(d []byte) (*denseMatrix, error) {
	m := &mat.Dense{}
	if err := m.UnmarshalBinary(d); err != nil {
		return nil, essentials.AddCtx("deserialize matrix", err)
	}
	return &denseMatrix{m}, nil
}

func (d *denseMatrix) SerializerType() string {
	return "mnist-forge/linear.denseMatrix"
}

func (d *denseMatrix) Serialize() ([]byte, error) {
	return d.MarshalBinary()
}

type denseVector struct {
	*mat.VecDense
}

func deserializeDenseVector(d []byte) (*denseVector, error) {
	v := &mat.VecDense{}
	if err := v.UnmarshalBinary(d); err != nil {
		return nil, essentials.AddCtx("deserialize vector", err)
	}
	return &denseVector{v}, nil
}

func (d *denseVector) SerializerType() string {
	return "mnist-forge/linear.denseVector"
}

func (d *denseVector) Serialize() ([]byte, error) {
	return d.MarshalBinary()
}
