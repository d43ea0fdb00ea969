// Package backend selects the numerical engine a topology is trained on.
package backend

import (
	"github.com/pkg/errors"

	"mnist-forge/internal/backend/anynet"
	"mnist-forge/internal/backend/linear"
	"mnist-forge/internal/model"
)

// Kinds lists the available backends.
var Kinds = []string{anynet.Kind, linear.Kind}

// Open realises topo on the named backend with fresh parameters.
func Open(kind string, topo model.Topology) (model.Backend, error) {
	switch kind {
	case anynet.Kind:
		b, err := anynet.Open(topo)
		if err != nil {
			return nil, err
		}
		return b, nil
	case linear.Kind:
		b, err := linear.Open(topo)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	return nil, unknown(kind)
}

// Restore realises topo on the named backend from persisted parameters.
func Restore(kind string, topo model.Topology, params []byte) (model.Backend, error) {
	switch kind {
	case anynet.Kind:
		b, err := anynet.Restore(topo, params)
		if err != nil {
			return nil, err
		}
		return b, nil
	case linear.Kind:
		b, err := linear.Restore(topo, params)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	return nil, unknown(kind)
}

func unknown(kind string) error {
	return errors.Wrapf(model.ErrConfiguration, "unknown backend %q (want one of %v)", kind, Kinds)
}
