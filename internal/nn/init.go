package nn

import (
	"math"
	"math/rand"

	"transfer-learning/internal/tensor"
)

// Init fills a freshly declared tensor in place.
type Init func(rng *rand.Rand, t *tensor.Tensor)

var (
	// Zeros leaves the tensor at zero.
	Zeros Init = Const(0)

	// Ones sets every element to one.
	Ones Init = Const(1)
)

// Const sets every element to v.
func Const(v float64) Init {
	return func(_ *rand.Rand, t *tensor.Tensor) {
		data := t.Data()
		for i := range data {
			data[i] = v
		}
	}
}

// Uniform samples from U(lo, hi).
func Uniform(lo, hi float64) Init {
	return func(rng *rand.Rand, t *tensor.Tensor) {
		data := t.Data()
		for i := range data {
			data[i] = lo + (hi-lo)*rng.Float64()
		}
	}
}

// KaimingUniform samples from U(-b, b) with b = sqrt(1/fan_in), where fan_in
// is the product of every dimension after the first.
func KaimingUniform(rng *rand.Rand, t *tensor.Tensor) {
	bound := 1 / math.Sqrt(float64(fanIn(t.Shape())))
	Uniform(-bound, bound)(rng, t)
}

func fanIn(shape []int) int {
	n := 1
	for _, d := range shape[1:] {
		n *= d
	}
	return n
}
