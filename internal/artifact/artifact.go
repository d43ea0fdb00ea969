// Package artifact persists a trained model: a JSON header describing the
// run and topology, followed by the backend's serialized parameters.
package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"

	"mnist-forge/internal/config"
	"mnist-forge/internal/model"
)

// ErrWrite marks a failure to persist an artifact. No partial file is left
// at the target path.
var ErrWrite = errors.New("artifact: write failed")

func init() {
	var h Header
	serializer.RegisterTypedDeserializer(h.SerializerType(), deserializeHeader)
	var p payload
	serializer.RegisterTypedDeserializer(p.SerializerType(), deserializePayload)
}

// Header describes the run that produced an artifact.
type Header struct {
	RunID     string         `json:"run_id"`
	Backend   string         `json:"backend"`
	Topology  model.Topology `json:"topology"`
	Epochs    int            `json:"epochs"`
	Steps     int            `json:"steps"`
	Accuracy  float64        `json:"accuracy"`
	CreatedAt time.Time      `json:"created_at"`
}

func deserializeHeader(d []byte) (*Header, error) {
	var h Header
	if err := json.Unmarshal(d, &h); err != nil {
		return nil, essentials.AddCtx("deserialize artifact header", err)
	}
	return &h, nil
}

// SerializerType returns the unique ID used to serialize a Header.
func (h *Header) SerializerType() string {
	return "mnist-forge/artifact.Header"
}

// Serialize encodes the header as JSON.
func (h *Header) Serialize() ([]byte, error) {
	return json.Marshal(h)
}

type payload []byte

func deserializePayload(d []byte) (payload, error) {
	return append(payload(nil), d...), nil
}

func (p payload) SerializerType() string {
	return "mnist-forge/artifact.payload"
}

func (p payload) Serialize() ([]byte, error) {
	return p, nil
}

// Save writes header and params to path. The file is written to a temporary
// name in the same directory, synced and renamed into place.
func Save(path string, h *Header, params serializer.Serializer) error {
	if params == nil {
		return pkgerrors.Wrap(ErrWrite, "no parameters to save")
	}
	raw, err := params.Serialize()
	if err != nil {
		return pkgerrors.Wrapf(ErrWrite, "serialize parameters: %v", err)
	}
	blob, err := serializer.SerializeAny(h, payload(raw))
	if err != nil {
		return pkgerrors.Wrapf(ErrWrite, "serialize artifact: %v", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return pkgerrors.Wrapf(ErrWrite, "create %s: %v", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return pkgerrors.Wrapf(ErrWrite, "create temp file: %v", err)
	}
	fail := func(step string, err error) error {
		tmp.Close()
		os.Remove(tmp.Name())
		return pkgerrors.Wrapf(ErrWrite, "%s %s: %v", step, path, err)
	}
	if _, err := tmp.Write(blob); err != nil {
		return fail("write", err)
	}
	if err := tmp.Sync(); err != nil {
		return fail("sync", err)
	}
	if err := tmp.Close(); err != nil {
		return fail("close", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fail("rename into", err)
	}
	return nil
}

// Load reads an artifact and returns its header and the raw parameter bytes,
// ready for the backend's Restore.
func Load(path string) (*Header, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read artifact: %w", err)
	}
	var h *Header
	var p payload
	if err := serializer.DeserializeAny(data, &h, &p); err != nil {
		return nil, nil, essentials.AddCtx("load artifact "+path, err)
	}
	return h, []byte(p), nil
}

// Name returns the deterministic file name for a run of cfg.
func Name(cfg *config.Config) string {
	return fmt.Sprintf("mnist-%s-%s-e%d-b%d-s%d.model",
		cfg.Model, cfg.Backend, cfg.Epochs, cfg.BatchSize, cfg.Seed)
}
