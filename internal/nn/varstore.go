// Package nn holds named parameters and the layers built from them. Names
// follow the dotted torchvision convention ("layer1.0.bn1.weight") so a
// VarStore can be filled from a safetensors export of a torch model.
package nn

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"strings"

	loomnn "github.com/openfluke/loom/nn"
	"k8s.io/klog/v2"

	"transfer-learning/internal/tensor"
)

var (
	// ErrMissingVariable indicates a weights file lacks a tensor the store
	// declares.
	ErrMissingVariable = errors.New("nn: missing variable")

	// ErrShapeMismatch indicates a weights file tensor has a different shape
	// than the declared variable.
	ErrShapeMismatch = errors.New("nn: variable shape mismatch")
)

type variable struct {
	value *tensor.Tensor
	param bool
}

// VarStore owns every tensor a model declares, keyed by its dotted name.
// Parameters are trainable until Freeze; buffers (batch-norm running
// statistics) never are.
type VarStore struct {
	rng  *rand.Rand
	vars map[string]*variable
}

// NewVarStore returns an empty store whose initialisers draw from a RNG
// seeded with seed.
func NewVarStore(seed int64) *VarStore {
	return &VarStore{
		rng:  rand.New(rand.NewSource(seed)),
		vars: make(map[string]*variable),
	}
}

// Root returns the path with no prefix.
func (vs *VarStore) Root() Path {
	return Path{vs: vs}
}

// Path is a name prefix inside a VarStore.
type Path struct {
	vs     *VarStore
	prefix []string
}

// Sub returns the child path name.
func (p Path) Sub(name string) Path {
	prefix := make([]string, len(p.prefix), len(p.prefix)+1)
	copy(prefix, p.prefix)
	return Path{vs: p.vs, prefix: append(prefix, name)}
}

// SubIndex returns the child path for a numbered element such as a block
// inside a layer.
func (p Path) SubIndex(i int) Path {
	return p.Sub(fmt.Sprint(i))
}

// Name returns the full dotted name of name under p.
func (p Path) Name(name string) string {
	if len(p.prefix) == 0 {
		return name
	}
	return strings.Join(p.prefix, ".") + "." + name
}

// Var declares a trainable parameter.
func (p Path) Var(name string, shape []int, fill Init) *tensor.Tensor {
	return p.add(name, shape, fill, true)
}

// Buffer declares a non-trainable tensor that is still loaded and saved.
func (p Path) Buffer(name string, shape []int, fill Init) *tensor.Tensor {
	return p.add(name, shape, fill, false)
}

func (p Path) add(name string, shape []int, fill Init, param bool) *tensor.Tensor {
	full := p.Name(name)
	if _, dup := p.vs.vars[full]; dup {
		panic(fmt.Sprintf("nn: variable %q declared twice", full))
	}
	t := tensor.New(shape...)
	if fill != nil {
		fill(p.vs.rng, t)
	}
	if param {
		t.SetRequiresGrad(true)
	}
	p.vs.vars[full] = &variable{value: t, param: param}
	return t
}

// Names returns every declared name in sorted order.
func (vs *VarStore) Names() []string {
	names := make([]string, 0, len(vs.vars))
	for name := range vs.vars {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Variables returns every declared tensor, parameters and buffers alike.
func (vs *VarStore) Variables() map[string]*tensor.Tensor {
	out := make(map[string]*tensor.Tensor, len(vs.vars))
	for name, v := range vs.vars {
		out[name] = v.value
	}
	return out
}

// TrainableVariables returns the parameters that currently require
// gradients, sorted by name.
func (vs *VarStore) TrainableVariables() []*tensor.Tensor {
	var out []*tensor.Tensor
	for _, name := range vs.Names() {
		v := vs.vars[name]
		if v.param && v.value.RequiresGrad() {
			out = append(out, v.value)
		}
	}
	return out
}

// Freeze stops gradient tracking on every parameter.
func (vs *VarStore) Freeze() {
	for _, v := range vs.vars {
		if v.param {
			v.value.SetRequiresGrad(false)
		}
	}
}

// Unfreeze re-enables gradient tracking on every parameter.
func (vs *VarStore) Unfreeze() {
	for _, v := range vs.vars {
		if v.param {
			v.value.SetRequiresGrad(true)
		}
	}
}

// NumParameters counts the elements of all parameters, frozen or not.
// Buffers are excluded.
func (vs *VarStore) NumParameters() int {
	total := 0
	for _, v := range vs.vars {
		if v.param {
			total += v.value.Size()
		}
	}
	return total
}

// Load copies values from a safetensors file into the declared variables.
// Every declared name must be present with the same shape; tensors the store
// does not declare are ignored.
func (vs *VarStore) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read weights: %w", err)
	}
	tensors, err := loomnn.LoadSafetensorsWithShapes(data)
	if err != nil {
		return fmt.Errorf("parse weights %s: %w", path, err)
	}

	for _, name := range vs.Names() {
		src, ok := tensors[name]
		if !ok {
			return fmt.Errorf("%w: %s not in %s", ErrMissingVariable, name, path)
		}
		dst := vs.vars[name].value
		if !sameShape(src.Shape, dst.Shape()) || len(src.Values) != dst.Size() {
			return fmt.Errorf("%w: %s has shape %v in %s, expected %v", ErrShapeMismatch, name, src.Shape, path, dst.Shape())
		}
		out := dst.Data()
		for i, v := range src.Values {
			out[i] = float64(v)
		}
	}

	if klog.V(2).Enabled() {
		for name := range tensors {
			if _, ok := vs.vars[name]; !ok {
				klog.V(2).InfoS("ignoring weight tensor", "name", name)
			}
		}
	}
	klog.V(1).InfoS("loaded weights", "path", path, "variables", len(vs.vars), "tensors", len(tensors))
	return nil
}

// Save writes every declared variable to a safetensors file as F32.
func (vs *VarStore) Save(path string) error {
	out := make(map[string]loomnn.TensorWithShape, len(vs.vars))
	for name, v := range vs.vars {
		values := make([]float32, v.value.Size())
		for i, x := range v.value.Data() {
			values[i] = float32(x)
		}
		out[name] = loomnn.TensorWithShape{Values: values, Shape: v.value.Shape(), DType: "F32"}
	}
	if err := loomnn.SaveSafetensors(path, out); err != nil {
		return fmt.Errorf("save weights %s: %w", path, err)
	}
	return nil
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
