package model

import "transfer-learning/internal/tensor"

// Batch pairs inputs [N, D] with class labels [N].
type Batch struct {
	Inputs *tensor.Tensor
	Labels *tensor.Tensor
}

// Model defines the minimal training functionality the trainer drives.
type Model interface {
	TrainStep(batch Batch) float64
	Accuracy(batch Batch) float64
}
