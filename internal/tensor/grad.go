package tensor

import (
	"fmt"
	"sync/atomic"
)

// noGradDepth counts open NoGrad scopes. Recording is active only at zero.
var noGradDepth atomic.Int32

// NoGrad runs fn with gradient recording disabled and returns its result.
// Scopes nest, and the previous mode is restored even if fn panics.
func NoGrad[T any](fn func() T) T {
	noGradDepth.Add(1)
	defer noGradDepth.Add(-1)
	return fn()
}

// GradEnabled reports whether operations currently record a graph.
func GradEnabled() bool {
	return noGradDepth.Load() == 0
}

// node links an op output to the inputs it was computed from.
type node struct {
	inputs   []*Tensor
	backward func(out *Tensor)
}

// record attaches a backward function to out when grad mode is on and any
// input requires a gradient. It reports whether a node was attached.
func record(out *Tensor, backward func(out *Tensor), inputs ...*Tensor) bool {
	if !GradEnabled() || !anyRequiresGrad(inputs) {
		return false
	}
	out.requiresGrad = true
	out.grad = make([]float64, len(out.data))
	out.node = &node{inputs: inputs, backward: backward}
	return true
}

// inferenceOnly panics when an op without a backward pass would have to
// record one.
func inferenceOnly(op string, inputs ...*Tensor) {
	if GradEnabled() && anyRequiresGrad(inputs) {
		panic(fmt.Errorf("%w: %s", ErrNoGradient, op))
	}
}

func anyRequiresGrad(ts []*Tensor) bool {
	for _, t := range ts {
		if t != nil && t.requiresGrad {
			return true
		}
	}
	return false
}

// Backward propagates gradients from a single-element tensor to every leaf
// that requires them. Leaf gradients accumulate across calls until ZeroGrad.
func (t *Tensor) Backward() {
	if len(t.data) != 1 {
		panic(fmt.Errorf("%w: Backward needs a scalar, got shape %v", ErrInvalidShape, t.shape))
	}
	if !t.requiresGrad {
		panic(fmt.Errorf("%w: Backward on a tensor outside the graph", ErrNoGradient))
	}

	order := topoSort(t)
	for _, n := range order {
		if n.node != nil {
			n.ZeroGrad()
		}
	}
	t.grad[0] = 1
	for i := len(order) - 1; i >= 0; i-- {
		n := order[i]
		if n.node != nil {
			n.node.backward(n)
		}
	}
}

// topoSort returns the graph reachable from root with inputs before outputs.
func topoSort(root *Tensor) []*Tensor {
	var order []*Tensor
	visited := make(map[*Tensor]bool)
	var visit func(t *Tensor)
	visit = func(t *Tensor) {
		if visited[t] {
			return
		}
		visited[t] = true
		if t.node != nil {
			for _, in := range t.node.inputs {
				if in != nil && in.requiresGrad {
					visit(in)
				}
			}
		}
		order = append(order, t)
	}
	visit(root)
	return order
}

// accumulate adds g into t's gradient when t tracks one.
func (t *Tensor) accumulate(g []float64) {
	if !t.requiresGrad {
		return
	}
	for i := range t.grad {
		t.grad[i] += g[i]
	}
}
