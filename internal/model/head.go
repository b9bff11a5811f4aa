package model

import (
	"fmt"

	"k8s.io/klog/v2"

	"transfer-learning/internal/nn"
	"transfer-learning/internal/tensor"
)

// Head is a linear classifier trained with SGD on precomputed embeddings.
type Head struct {
	vs         *nn.VarStore
	linear     *nn.Linear
	opt        *nn.SGD
	inputSize  int
	numClasses int
}

// NewHead builds a freshly initialised [inputSize -> numClasses] layer with
// its own optimizer.
func NewHead(inputSize, numClasses int, lr float64, sgd nn.SGDConfig, seed int64) (*Head, error) {
	if inputSize <= 0 || numClasses <= 0 {
		return nil, fmt.Errorf("head: invalid size %d -> %d", inputSize, numClasses)
	}
	vs := nn.NewVarStore(seed)
	linear := nn.NewLinear(vs.Root(), inputSize, numClasses, nn.DefaultLinearConfig())
	opt, err := sgd.Build(vs, lr)
	if err != nil {
		return nil, fmt.Errorf("head: %w", err)
	}
	return &Head{
		vs:         vs,
		linear:     linear,
		opt:        opt,
		inputSize:  inputSize,
		numClasses: numClasses,
	}, nil
}

// VarStore exposes the head parameters.
func (h *Head) VarStore() *nn.VarStore { return h.vs }

// Forward returns logits [N, numClasses] for embeddings [N, inputSize].
func (h *Head) Forward(x *tensor.Tensor) *tensor.Tensor {
	return h.linear.Forward(x)
}

// TrainStep executes one full-batch SGD step and returns the loss.
func (h *Head) TrainStep(batch Batch) float64 {
	loss := tensor.CrossEntropyForLogits(h.Forward(batch.Inputs), batch.Labels)
	h.opt.BackwardStep(loss)
	return loss.Item()
}

// Accuracy returns the fraction of batch classified correctly.
func (h *Head) Accuracy(batch Batch) float64 {
	return tensor.NoGrad(func() float64 {
		return tensor.AccuracyForLogits(h.Forward(batch.Inputs), batch.Labels).Item()
	})
}

// Embed runs a frozen backbone over images in chunks of batchSize with
// gradient recording disabled and concatenates the results.
func Embed(backbone nn.ModuleT, images *tensor.Tensor, batchSize int) *tensor.Tensor {
	n := images.Shape()[0]
	if batchSize <= 0 || batchSize > n {
		batchSize = n
	}
	return tensor.NoGrad(func() *tensor.Tensor {
		chunks := make([]*tensor.Tensor, 0, (n+batchSize-1)/batchSize)
		for start := 0; start < n; start += batchSize {
			size := min(batchSize, n-start)
			chunks = append(chunks, backbone.ForwardT(images.Narrow(start, size), false))
			klog.V(1).InfoS("embedded batch", "start", start, "size", size, "total", n)
		}
		return tensor.Cat(chunks)
	})
}
