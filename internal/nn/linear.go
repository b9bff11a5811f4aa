package nn

import (
	"math"

	"transfer-learning/internal/tensor"
)

// LinearConfig controls how a Linear layer is initialised.
type LinearConfig struct {
	WsInit Init
	// BsInit defaults to U(-1/sqrt(in), 1/sqrt(in)) when nil.
	BsInit Init
	Bias   bool
}

// DefaultLinearConfig matches torch's nn.Linear initialisation.
func DefaultLinearConfig() LinearConfig {
	return LinearConfig{WsInit: KaimingUniform, Bias: true}
}

// Linear computes x @ Wsᵀ + Bs.
type Linear struct {
	Ws *tensor.Tensor
	Bs *tensor.Tensor
}

// NewLinear declares weight [out, in] and bias [out] under p.
func NewLinear(p Path, in, out int, cfg LinearConfig) *Linear {
	l := &Linear{Ws: p.Var("weight", []int{out, in}, cfg.WsInit)}
	if cfg.Bias {
		bsInit := cfg.BsInit
		if bsInit == nil {
			bound := 1 / math.Sqrt(float64(in))
			bsInit = Uniform(-bound, bound)
		}
		l.Bs = p.Var("bias", []int{out}, bsInit)
	}
	return l
}

// Forward maps x [N, in] to [N, out].
func (l *Linear) Forward(x *tensor.Tensor) *tensor.Tensor {
	y := tensor.MatMul(x, tensor.Transpose(l.Ws))
	if l.Bs != nil {
		y = tensor.AddRowVector(y, l.Bs)
	}
	return y
}

// ForwardT implements ModuleT.
func (l *Linear) ForwardT(x *tensor.Tensor, _ bool) *tensor.Tensor {
	return l.Forward(x)
}
