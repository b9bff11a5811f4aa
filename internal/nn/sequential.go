package nn

import "transfer-learning/internal/tensor"

// ModuleT is a layer whose behaviour may depend on train mode.
type ModuleT interface {
	ForwardT(x *tensor.Tensor, train bool) *tensor.Tensor
}

// FuncT adapts a function to ModuleT.
type FuncT func(x *tensor.Tensor, train bool) *tensor.Tensor

// ForwardT implements ModuleT.
func (f FuncT) ForwardT(x *tensor.Tensor, train bool) *tensor.Tensor {
	return f(x, train)
}

// SequentialT applies its layers in order.
type SequentialT struct {
	layers []ModuleT
}

// SeqT returns an empty SequentialT.
func SeqT() *SequentialT {
	return &SequentialT{}
}

// Add appends a layer.
func (s *SequentialT) Add(m ModuleT) *SequentialT {
	s.layers = append(s.layers, m)
	return s
}

// AddFn appends a mode-independent function.
func (s *SequentialT) AddFn(fn func(x *tensor.Tensor) *tensor.Tensor) *SequentialT {
	return s.Add(FuncT(func(x *tensor.Tensor, _ bool) *tensor.Tensor { return fn(x) }))
}

// Len returns the number of layers.
func (s *SequentialT) Len() int {
	return len(s.layers)
}

// ForwardT implements ModuleT.
func (s *SequentialT) ForwardT(x *tensor.Tensor, train bool) *tensor.Tensor {
	for _, m := range s.layers {
		x = m.ForwardT(x, train)
	}
	return x
}
