package nn

import (
	"math"
	"math/rand"
	"testing"

	"transfer-learning/internal/tensor"
)

func TestKaimingUniformBounds(t *testing.T) {
	x := tensor.New(8, 3, 3, 3)
	KaimingUniform(rand.New(rand.NewSource(1)), x)
	bound := 1 / math.Sqrt(27)
	for _, v := range x.Data() {
		if math.Abs(v) > bound {
			t.Fatalf("value %f outside ±%f", v, bound)
		}
	}
}

func TestLinearForward(t *testing.T) {
	vs := NewVarStore(1)
	l := NewLinear(vs.Root(), 3, 2, DefaultLinearConfig())
	copy(l.Ws.Data(), []float64{1, 0, 0, 0, 1, 1})
	copy(l.Bs.Data(), []float64{0.5, -0.5})

	y := l.Forward(tensor.FromSlice([]float64{1, 2, 3, 4, 5, 6}, 2, 3))
	want := []float64{1.5, 4.5, 4.5, 10.5}
	for i, v := range want {
		if math.Abs(y.Data()[i]-v) > 1e-12 {
			t.Fatalf("y[%d]=%f want %f", i, y.Data()[i], v)
		}
	}
	if !y.RequiresGrad() {
		t.Fatalf("output should track gradients of trainable weights")
	}
}

func TestLinearWithoutBias(t *testing.T) {
	vs := NewVarStore(1)
	cfg := DefaultLinearConfig()
	cfg.Bias = false
	l := NewLinear(vs.Root(), 4, 2, cfg)
	if l.Bs != nil {
		t.Fatalf("expected no bias")
	}
	if got := len(vs.Names()); got != 1 {
		t.Fatalf("expected one variable, got %d", got)
	}
}

func TestConv2DLayerShape(t *testing.T) {
	vs := NewVarStore(1)
	conv := NewConv2D(vs.Root(), 3, 4, 3, ConvConfig{Stride: 2, Padding: 1})
	vs.Freeze()
	y := conv.ForwardT(tensor.New(2, 3, 8, 8), false)
	if got := y.Shape(); got[0] != 2 || got[1] != 4 || got[2] != 4 || got[3] != 4 {
		t.Fatalf("expected [2 4 4 4], got %v", got)
	}
	if conv.Bs != nil {
		t.Fatalf("bias should be off unless configured")
	}
}

func TestBatchNormTrainUpdatesRunningStats(t *testing.T) {
	vs := NewVarStore(1)
	bn := NewBatchNorm2D(vs.Root(), 1)
	vs.Freeze()

	x := tensor.FromSlice([]float64{1, 3, 5, 7}, 1, 1, 2, 2)
	y := bn.ForwardT(x, true)

	if got := bn.RunningMean.At(0); math.Abs(got-0.4) > 1e-12 {
		t.Fatalf("running mean: expected 0.4, got %f", got)
	}
	// batch variance 5, unbiased 20/3
	if got, want := bn.RunningVar.At(0), 0.9+0.1*20.0/3; math.Abs(got-want) > 1e-12 {
		t.Fatalf("running var: expected %f, got %f", want, got)
	}
	sum := 0.0
	for _, v := range y.Data() {
		sum += v
	}
	if math.Abs(sum) > 1e-9 {
		t.Fatalf("train-mode output should be centred, sum=%f", sum)
	}
}

func TestBatchNormEvalUsesRunningStats(t *testing.T) {
	vs := NewVarStore(1)
	bn := NewBatchNorm2D(vs.Root(), 1)
	vs.Freeze()

	x := tensor.FromSlice([]float64{1, 3, 5, 7}, 1, 1, 2, 2)
	y := bn.ForwardT(x, false)
	for i, v := range x.Data() {
		if want := v / math.Sqrt(1+batchNormEps); math.Abs(y.Data()[i]-want) > 1e-12 {
			t.Fatalf("y[%d]=%f want %f", i, y.Data()[i], want)
		}
	}
	if bn.RunningMean.At(0) != 0 {
		t.Fatalf("eval mode must not touch running stats")
	}
}

func TestSequentialT(t *testing.T) {
	seq := SeqT().
		AddFn(func(x *tensor.Tensor) *tensor.Tensor { return tensor.Scale(x, 2) }).
		Add(FuncT(func(x *tensor.Tensor, train bool) *tensor.Tensor {
			if train {
				return tensor.Scale(x, 10)
			}
			return x
		}))
	if seq.Len() != 2 {
		t.Fatalf("expected 2 layers, got %d", seq.Len())
	}

	x := tensor.FromSlice([]float64{1}, 1)
	if got := seq.ForwardT(x, false).Item(); got != 2 {
		t.Fatalf("eval: expected 2, got %f", got)
	}
	if got := seq.ForwardT(x, true).Item(); got != 20 {
		t.Fatalf("train: expected 20, got %f", got)
	}
}
