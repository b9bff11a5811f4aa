package nn

import "transfer-learning/internal/tensor"

const (
	batchNormEps      = 1e-5
	batchNormMomentum = 0.1
)

// BatchNorm2D normalises each channel of an [N C H W] input.
type BatchNorm2D struct {
	Ws          *tensor.Tensor
	Bs          *tensor.Tensor
	RunningMean *tensor.Tensor
	RunningVar  *tensor.Tensor
	Eps         float64
	Momentum    float64
}

// NewBatchNorm2D declares weight, bias, running_mean and running_var for c
// channels under p.
func NewBatchNorm2D(p Path, c int) *BatchNorm2D {
	return &BatchNorm2D{
		Ws:          p.Var("weight", []int{c}, Ones),
		Bs:          p.Var("bias", []int{c}, Zeros),
		RunningMean: p.Buffer("running_mean", []int{c}, Zeros),
		RunningVar:  p.Buffer("running_var", []int{c}, Ones),
		Eps:         batchNormEps,
		Momentum:    batchNormMomentum,
	}
}

// ForwardT normalises with the running statistics, or in train mode with
// the batch statistics while folding them into the running ones.
func (bn *BatchNorm2D) ForwardT(x *tensor.Tensor, train bool) *tensor.Tensor {
	if !train {
		return tensor.BatchNorm2D(x, bn.Ws, bn.Bs, bn.RunningMean, bn.RunningVar, bn.Eps)
	}

	mean, variance := tensor.BatchStats(x)
	shape := x.Shape()
	count := float64(shape[0] * shape[2] * shape[3])
	correction := 1.0
	if count > 1 {
		correction = count / (count - 1)
	}
	rm, rv := bn.RunningMean.Data(), bn.RunningVar.Data()
	for c, m := range mean.Data() {
		rm[c] = (1-bn.Momentum)*rm[c] + bn.Momentum*m
		rv[c] = (1-bn.Momentum)*rv[c] + bn.Momentum*variance.Data()[c]*correction
	}
	return tensor.BatchNorm2D(x, bn.Ws, bn.Bs, mean, variance, bn.Eps)
}
