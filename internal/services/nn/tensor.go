package nn

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"OmniSpectrum/pkg/util"
)

// ArtifactVersion is bumped whenever the on-disk layout changes.
const ArtifactVersion = 1

// Tensor is a dense row-major float64 array.
type Tensor struct {
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

func NewTensor(data []float64, shape ...int) Tensor {
	return Tensor{Shape: shape, Data: data}
}

// Artifact is the serialized form of one trained model.
type Artifact struct {
	Kind    string             `json:"kind"`
	Version int                `json:"version"`
	Tensors map[string]Tensor  `json:"tensors"`
	Params  map[string]float64 `json:"params,omitempty"`
}

func NewArtifact(kind string) *Artifact {
	return &Artifact{Kind: kind, Version: ArtifactVersion, Tensors: map[string]Tensor{}, Params: map[string]float64{}}
}

func (a *Artifact) Put(name string, data []float64, shape ...int) {
	a.Tensors[name] = NewTensor(append([]float64(nil), data...), shape...)
}

// Tensor returns the named tensor's data after checking its shape and that
// every value is finite.
func (a *Artifact) Tensor(name string, shape ...int) ([]float64, error) {
	t, ok := a.Tensors[name]
	if !ok {
		return nil, fmt.Errorf("%s: tensor %q missing", a.Kind, name)
	}
	if len(t.Shape) != len(shape) {
		return nil, fmt.Errorf("%s: tensor %q has rank %d, want %d", a.Kind, name, len(t.Shape), len(shape))
	}
	size := 1
	for i, d := range shape {
		if t.Shape[i] != d {
			return nil, fmt.Errorf("%s: tensor %q has shape %v, want %v", a.Kind, name, t.Shape, shape)
		}
		size *= d
	}
	if len(t.Data) != size {
		return nil, fmt.Errorf("%s: tensor %q has %d values, want %d", a.Kind, name, len(t.Data), size)
	}
	for _, v := range t.Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%s: tensor %q holds non-finite values", a.Kind, name)
		}
	}
	return t.Data, nil
}

func (a *Artifact) Param(name string) (float64, bool) {
	v, ok := a.Params[name]
	return v, ok
}

// ReadArtifact loads and checks the header of an artifact file. A missing
// file is reported with an error matching os.ErrNotExist.
func ReadArtifact(path, kind string) (*Artifact, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var a Artifact
	if err := json.Unmarshal(b, &a); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	if a.Kind != kind {
		return nil, fmt.Errorf("%s: kind %q, want %q", filepath.Base(path), a.Kind, kind)
	}
	if a.Version != ArtifactVersion {
		return nil, fmt.Errorf("%s: version %d, want %d", filepath.Base(path), a.Version, ArtifactVersion)
	}
	if a.Tensors == nil {
		return nil, errors.New(filepath.Base(path) + ": no tensors")
	}
	return &a, nil
}

// WriteArtifact stores a as JSON, replacing any previous file atomically.
func WriteArtifact(path string, a *Artifact) error {
	b, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode %s: %w", a.Kind, err)
	}
	return util.WriteFileAtomic(path, b)
}
