// Package tensor is the numeric runtime behind the transfer-learning
// pipeline: dense float64 tensors, a small reverse-mode autograd graph and
// the convolutional kernels a ResNet backbone needs.
//
// Shape errors are programmer bugs. Operations panic with an error that
// wraps ErrShapeMismatch or ErrInvalidShape; callers that need an error
// value recover at their own boundary.
package tensor

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
)

var (
	// ErrShapeMismatch indicates incompatible tensor shapes for an operation.
	ErrShapeMismatch = errors.New("tensor: shape mismatch")

	// ErrInvalidShape indicates an invalid tensor shape.
	ErrInvalidShape = errors.New("tensor: invalid shape")

	// ErrNoGradient indicates an inference-only operation was asked to
	// record a gradient.
	ErrNoGradient = errors.New("tensor: operation does not support gradients")
)

// Tensor is a multi-dimensional array of float64 values stored in
// row-major order.
//
// Tensor is not safe for concurrent mutation.
type Tensor struct {
	data  []float64
	shape []int

	grad         []float64
	requiresGrad bool
	node         *node
}

// New creates a zero-filled tensor with the given shape.
func New(shape ...int) *Tensor {
	size := checkShape(shape)
	return &Tensor{
		data:  make([]float64, size),
		shape: copyInts(shape),
	}
}

// FromSlice wraps data in a tensor of the given shape. The tensor takes
// ownership of data.
func FromSlice(data []float64, shape ...int) *Tensor {
	size := checkShape(shape)
	if len(data) != size {
		panic(fmt.Errorf("%w: %d values for shape %v", ErrInvalidShape, len(data), shape))
	}
	return &Tensor{data: data, shape: copyInts(shape)}
}

// Full creates a tensor with every element set to value.
func Full(value float64, shape ...int) *Tensor {
	t := New(shape...)
	for i := range t.data {
		t.data[i] = value
	}
	return t
}

// RandUniform samples every element from U(lo, hi).
func RandUniform(rng *rand.Rand, lo, hi float64, shape ...int) *Tensor {
	t := New(shape...)
	for i := range t.data {
		t.data[i] = lo + (hi-lo)*rng.Float64()
	}
	return t
}

// RandNormal samples every element from N(mean, std²).
func RandNormal(rng *rand.Rand, mean, std float64, shape ...int) *Tensor {
	t := New(shape...)
	for i := range t.data {
		t.data[i] = mean + std*rng.NormFloat64()
	}
	return t
}

// Shape returns a copy of the tensor's shape.
func (t *Tensor) Shape() []int {
	return copyInts(t.shape)
}

// Dims returns the rank of the tensor.
func (t *Tensor) Dims() int {
	return len(t.shape)
}

// Size returns the total number of elements.
func (t *Tensor) Size() int {
	return len(t.data)
}

// Data returns the underlying storage. Writes are visible to the tensor.
func (t *Tensor) Data() []float64 {
	return t.data
}

// At returns the element at the given indices.
func (t *Tensor) At(indices ...int) float64 {
	return t.data[t.flatIndex(indices)]
}

// Set stores value at the given indices.
func (t *Tensor) Set(value float64, indices ...int) {
	t.data[t.flatIndex(indices)] = value
}

// Item returns the value of a single-element tensor.
func (t *Tensor) Item() float64 {
	if len(t.data) != 1 {
		panic(fmt.Errorf("%w: Item on tensor of shape %v", ErrInvalidShape, t.shape))
	}
	return t.data[0]
}

// Grad returns the accumulated gradient, or nil when the tensor does not
// track one.
func (t *Tensor) Grad() []float64 {
	return t.grad
}

// RequiresGrad reports whether gradients flow into this tensor.
func (t *Tensor) RequiresGrad() bool {
	return t.requiresGrad
}

// SetRequiresGrad marks a leaf tensor as trainable (or not) and returns it.
func (t *Tensor) SetRequiresGrad(requires bool) *Tensor {
	t.requiresGrad = requires
	if requires && t.grad == nil {
		t.grad = make([]float64, len(t.data))
	}
	if !requires {
		t.grad = nil
	}
	return t
}

// ZeroGrad clears the gradient buffer.
func (t *Tensor) ZeroGrad() {
	for i := range t.grad {
		t.grad[i] = 0
	}
}

// Clone returns a deep copy of the values. The copy is a leaf with the same
// requires-grad flag and a zeroed gradient.
func (t *Tensor) Clone() *Tensor {
	out := New(t.shape...)
	copy(out.data, t.data)
	return out.SetRequiresGrad(t.requiresGrad)
}

// Detach returns a view that shares data but is cut off from the graph.
func (t *Tensor) Detach() *Tensor {
	return &Tensor{data: t.data, shape: copyInts(t.shape)}
}

// Reshape returns a view with a new shape and the same element count.
// One dimension may be -1 and is inferred. The view is detached from the
// graph.
func (t *Tensor) Reshape(shape ...int) *Tensor {
	shape = copyInts(shape)
	infer := -1
	known := 1
	for i, d := range shape {
		switch {
		case d == -1 && infer < 0:
			infer = i
		case d <= 0:
			panic(fmt.Errorf("%w: cannot reshape to %v", ErrInvalidShape, shape))
		default:
			known *= d
		}
	}
	if infer >= 0 {
		if known == 0 || len(t.data)%known != 0 {
			panic(fmt.Errorf("%w: cannot reshape size %d to %v", ErrInvalidShape, len(t.data), shape))
		}
		shape[infer] = len(t.data) / known
		known *= shape[infer]
	}
	if known != len(t.data) {
		panic(fmt.Errorf("%w: cannot reshape size %d to %v", ErrInvalidShape, len(t.data), shape))
	}
	return &Tensor{data: t.data, shape: shape}
}

// FlatView reshapes to [N, -1], keeping the leading dimension.
func (t *Tensor) FlatView() *Tensor {
	if len(t.shape) == 0 {
		panic(fmt.Errorf("%w: FlatView on scalar", ErrInvalidShape))
	}
	return t.Reshape(t.shape[0], -1)
}

// Narrow returns rows [start, start+length) along dimension 0 as a view.
func (t *Tensor) Narrow(start, length int) *Tensor {
	if start < 0 || length <= 0 || start+length > t.shape[0] {
		panic(fmt.Errorf("%w: narrow [%d,%d) of dim %d", ErrInvalidShape, start, start+length, t.shape[0]))
	}
	row := len(t.data) / t.shape[0]
	shape := copyInts(t.shape)
	shape[0] = length
	return &Tensor{data: t.data[start*row : (start+length)*row], shape: shape}
}

// Cat concatenates tensors along dimension 0. All trailing dimensions must
// match.
func Cat(ts []*Tensor) *Tensor {
	if len(ts) == 0 {
		panic(fmt.Errorf("%w: Cat of no tensors", ErrInvalidShape))
	}
	rows := 0
	for _, t := range ts {
		if !shapeEqual(t.shape[1:], ts[0].shape[1:]) {
			panic(fmt.Errorf("%w: cannot concatenate %v and %v", ErrShapeMismatch, ts[0].shape, t.shape))
		}
		rows += t.shape[0]
	}
	shape := copyInts(ts[0].shape)
	shape[0] = rows
	out := New(shape...)
	offset := 0
	for _, t := range ts {
		offset += copy(out.data[offset:], t.data)
	}
	return out
}

// String describes the tensor without its values.
func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v, size=%d)", t.shape, len(t.data))
}

// AllClose reports whether a and b have equal shapes and element-wise
// differences within tol.
func AllClose(a, b *Tensor, tol float64) bool {
	if !shapeEqual(a.shape, b.shape) {
		return false
	}
	for i := range a.data {
		if math.Abs(a.data[i]-b.data[i]) > tol {
			return false
		}
	}
	return true
}

func (t *Tensor) flatIndex(indices []int) int {
	if len(indices) != len(t.shape) {
		panic(fmt.Errorf("%w: expected %d indices, got %d", ErrInvalidShape, len(t.shape), len(indices)))
	}
	idx := 0
	stride := 1
	for i := len(indices) - 1; i >= 0; i-- {
		if indices[i] < 0 || indices[i] >= t.shape[i] {
			panic(fmt.Errorf("%w: index[%d]=%d out of bounds [0,%d)", ErrInvalidShape, i, indices[i], t.shape[i]))
		}
		idx += indices[i] * stride
		stride *= t.shape[i]
	}
	return idx
}

func checkShape(shape []int) int {
	if len(shape) == 0 {
		panic(fmt.Errorf("%w: shape cannot be empty", ErrInvalidShape))
	}
	size := 1
	for i, d := range shape {
		if d <= 0 {
			panic(fmt.Errorf("%w: shape[%d] must be positive, got %d", ErrInvalidShape, i, d))
		}
		size *= d
	}
	return size
}

func shapeEqual(a, b []int) bool {
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

func copyInts(s []int) []int {
	out := make([]int, len(s))
	copy(out, s)
	return out
}
