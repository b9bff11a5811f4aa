package tensor

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// targetsOf validates a label tensor [N] against logits [N, C] and returns
// the class indices.
func targetsOf(op string, logits, targets *Tensor) []int {
	require2D(op, logits)
	batch, classes := logits.shape[0], logits.shape[1]
	if len(targets.shape) != 1 || targets.shape[0] != batch {
		panic(fmt.Errorf("%w: %s targets %v for logits %v", ErrShapeMismatch, op, targets.shape, logits.shape))
	}
	idx := make([]int, batch)
	for i, v := range targets.data {
		label := int(v)
		if float64(label) != v || label < 0 || label >= classes {
			panic(fmt.Errorf("%w: %s target %v outside [0,%d)", ErrInvalidShape, op, v, classes))
		}
		idx[i] = label
	}
	return idx
}

// CrossEntropyForLogits returns the mean over the batch of
// -log softmax(logits)[target] as a single-element tensor.
//
// Backward: ∂L/∂logits = (softmax(logits) - onehot(targets)) / N.
func CrossEntropyForLogits(logits, targets *Tensor) *Tensor {
	labels := targetsOf("CrossEntropyForLogits", logits, targets)
	batch, classes := logits.shape[0], logits.shape[1]

	probs := make([]float64, batch*classes)
	total := 0.0
	for b := 0; b < batch; b++ {
		row := logits.data[b*classes : (b+1)*classes]
		p := probs[b*classes : (b+1)*classes]
		maxLogit := floats.Max(row)
		sum := 0.0
		for i, v := range row {
			p[i] = math.Exp(v - maxLogit)
			sum += p[i]
		}
		floats.Scale(1/sum, p)
		logSumExp := maxLogit + math.Log(sum)
		total += logSumExp - row[labels[b]]
	}

	out := FromSlice([]float64{total / float64(batch)}, 1)
	record(out, func(out *Tensor) {
		g := make([]float64, len(probs))
		scale := out.grad[0] / float64(batch)
		for b := 0; b < batch; b++ {
			for c := 0; c < classes; c++ {
				v := probs[b*classes+c]
				if c == labels[b] {
					v -= 1
				}
				g[b*classes+c] = v * scale
			}
		}
		logits.accumulate(g)
	}, logits)
	return out
}

// Argmax returns the index of the largest value in each row of a 2D tensor.
// Ties resolve to the lowest index.
func Argmax(x *Tensor) []int {
	require2D("Argmax", x)
	rows, cols := x.shape[0], x.shape[1]
	out := make([]int, rows)
	for r := 0; r < rows; r++ {
		out[r] = floats.MaxIdx(x.data[r*cols : (r+1)*cols])
	}
	return out
}

// AccuracyForLogits returns the fraction of rows whose argmax equals the
// target, as a single-element tensor in [0, 1].
func AccuracyForLogits(logits, targets *Tensor) *Tensor {
	labels := targetsOf("AccuracyForLogits", logits, targets)
	correct := 0
	for i, p := range Argmax(logits) {
		if p == labels[i] {
			correct++
		}
	}
	return FromSlice([]float64{float64(correct) / float64(len(labels))}, 1)
}
