package nn

import "transfer-learning/internal/tensor"

// ConvConfig controls a Conv2D layer.
type ConvConfig struct {
	Stride  int
	Padding int
	Bias    bool
	WsInit  Init
}

// DefaultConvConfig is a stride-1, unpadded convolution with bias.
func DefaultConvConfig() ConvConfig {
	return ConvConfig{Stride: 1, Bias: true, WsInit: KaimingUniform}
}

// Conv2D is a square-kernel 2D convolution.
type Conv2D struct {
	Ws      *tensor.Tensor
	Bs      *tensor.Tensor
	Stride  int
	Padding int
}

// NewConv2D declares weight [out, in, k, k] and, when configured, bias
// [out] under p.
func NewConv2D(p Path, in, out, k int, cfg ConvConfig) *Conv2D {
	if cfg.Stride <= 0 {
		cfg.Stride = 1
	}
	if cfg.WsInit == nil {
		cfg.WsInit = KaimingUniform
	}
	c := &Conv2D{
		Ws:      p.Var("weight", []int{out, in, k, k}, cfg.WsInit),
		Stride:  cfg.Stride,
		Padding: cfg.Padding,
	}
	if cfg.Bias {
		c.Bs = p.Var("bias", []int{out}, Zeros)
	}
	return c
}

// ForwardT implements ModuleT.
func (c *Conv2D) ForwardT(x *tensor.Tensor, _ bool) *tensor.Tensor {
	return tensor.Conv2D(x, c.Ws, c.Bs, c.Stride, c.Padding)
}
