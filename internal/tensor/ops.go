package tensor

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// dense views a 2D tensor's storage as a gonum matrix without copying.
func dense(t *Tensor) *mat.Dense {
	return mat.NewDense(t.shape[0], t.shape[1], t.data)
}

func denseOf(rows, cols int, data []float64) *mat.Dense {
	return mat.NewDense(rows, cols, data)
}

func require2D(op string, ts ...*Tensor) {
	for _, t := range ts {
		if len(t.shape) != 2 {
			panic(fmt.Errorf("%w: %s requires 2D tensors, got %v", ErrInvalidShape, op, t.shape))
		}
	}
}

// MatMul computes a @ b for a (M, K) and b (K, N).
//
// Backward:
//
//	∂L/∂A = ∂L/∂C @ Bᵀ
//	∂L/∂B = Aᵀ @ ∂L/∂C
func MatMul(a, b *Tensor) *Tensor {
	require2D("MatMul", a, b)
	m, k := a.shape[0], a.shape[1]
	if b.shape[0] != k {
		panic(fmt.Errorf("%w: cannot multiply %v by %v", ErrShapeMismatch, a.shape, b.shape))
	}
	n := b.shape[1]

	out := New(m, n)
	dense(out).Mul(dense(a), dense(b))

	record(out, func(out *Tensor) {
		gradC := denseOf(m, n, out.grad)
		if a.requiresGrad {
			gA := make([]float64, m*k)
			denseOf(m, k, gA).Mul(gradC, dense(b).T())
			a.accumulate(gA)
		}
		if b.requiresGrad {
			gB := make([]float64, k*n)
			denseOf(k, n, gB).Mul(dense(a).T(), gradC)
			b.accumulate(gB)
		}
	}, a, b)
	return out
}

// Transpose returns the transpose of a 2D tensor as a new tensor.
func Transpose(a *Tensor) *Tensor {
	require2D("Transpose", a)
	m, n := a.shape[0], a.shape[1]
	out := New(n, m)
	dense(out).Copy(dense(a).T())

	record(out, func(out *Tensor) {
		g := make([]float64, m*n)
		denseOf(m, n, g).Copy(denseOf(n, m, out.grad).T())
		a.accumulate(g)
	}, a)
	return out
}

// Add performs element-wise addition of equally shaped tensors.
func Add(a, b *Tensor) *Tensor {
	if !shapeEqual(a.shape, b.shape) {
		panic(fmt.Errorf("%w: cannot add %v and %v", ErrShapeMismatch, a.shape, b.shape))
	}
	out := New(a.shape...)
	floats.AddTo(out.data, a.data, b.data)

	record(out, func(out *Tensor) {
		a.accumulate(out.grad)
		b.accumulate(out.grad)
	}, a, b)
	return out
}

// AddRowVector adds the vector v (C) to every row of x (N, C).
func AddRowVector(x, v *Tensor) *Tensor {
	require2D("AddRowVector", x)
	rows, cols := x.shape[0], x.shape[1]
	if len(v.shape) != 1 || v.shape[0] != cols {
		panic(fmt.Errorf("%w: cannot add vector %v to rows of %v", ErrShapeMismatch, v.shape, x.shape))
	}
	out := New(rows, cols)
	for r := 0; r < rows; r++ {
		floats.AddTo(out.data[r*cols:(r+1)*cols], x.data[r*cols:(r+1)*cols], v.data)
	}

	record(out, func(out *Tensor) {
		x.accumulate(out.grad)
		if v.requiresGrad {
			g := make([]float64, cols)
			for r := 0; r < rows; r++ {
				floats.Add(g, out.grad[r*cols:(r+1)*cols])
			}
			v.accumulate(g)
		}
	}, x, v)
	return out
}

// Scale multiplies all elements by a scalar.
func Scale(a *Tensor, scalar float64) *Tensor {
	out := New(a.shape...)
	floats.ScaleTo(out.data, scalar, a.data)

	record(out, func(out *Tensor) {
		g := make([]float64, len(out.grad))
		floats.ScaleTo(g, scalar, out.grad)
		a.accumulate(g)
	}, a)
	return out
}

// ReLU applies max(0, x) element-wise.
func ReLU(x *Tensor) *Tensor {
	out := New(x.shape...)
	for i, v := range x.data {
		out.data[i] = math.Max(0, v)
	}

	record(out, func(out *Tensor) {
		g := make([]float64, len(x.data))
		for i, v := range x.data {
			if v > 0 {
				g[i] = out.grad[i]
			}
		}
		x.accumulate(g)
	}, x)
	return out
}

