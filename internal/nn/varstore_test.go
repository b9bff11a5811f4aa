package nn

import (
	"errors"
	"math"
	"path/filepath"
	"testing"

	loomnn "github.com/openfluke/loom/nn"
)

func TestPathNames(t *testing.T) {
	vs := NewVarStore(1)
	root := vs.Root()
	root.Var("w", []int{2}, Zeros)
	root.Sub("layer1").SubIndex(0).Sub("bn1").Buffer("running_mean", []int{3}, Zeros)

	names := vs.Names()
	want := []string{"layer1.0.bn1.running_mean", "w"}
	if len(names) != len(want) {
		t.Fatalf("expected %v, got %v", want, names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, names)
		}
	}
}

func TestDuplicateVariablePanics(t *testing.T) {
	vs := NewVarStore(1)
	vs.Root().Var("w", []int{1}, Zeros)
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on duplicate name")
		}
	}()
	vs.Root().Var("w", []int{1}, Zeros)
}

func TestFreezeAndTrainableVariables(t *testing.T) {
	vs := NewVarStore(1)
	p := vs.Root()
	p.Var("a", []int{2, 2}, Ones)
	p.Var("b", []int{2}, Ones)
	p.Buffer("stats", []int{2}, Zeros)

	if got := len(vs.TrainableVariables()); got != 2 {
		t.Fatalf("expected 2 trainable variables, got %d", got)
	}
	if got := vs.NumParameters(); got != 6 {
		t.Fatalf("expected 6 parameters, got %d", got)
	}

	vs.Freeze()
	if got := len(vs.TrainableVariables()); got != 0 {
		t.Fatalf("expected no trainable variables after freeze, got %d", got)
	}
	if got := vs.NumParameters(); got != 6 {
		t.Fatalf("freeze should not change the parameter count, got %d", got)
	}

	vs.Unfreeze()
	if got := len(vs.TrainableVariables()); got != 2 {
		t.Fatalf("expected 2 trainable variables after unfreeze, got %d", got)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weights.safetensors")

	src := NewVarStore(7)
	NewLinear(src.Root().Sub("fc"), 4, 3, DefaultLinearConfig())
	NewBatchNorm2D(src.Root().Sub("bn"), 2)
	if err := src.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	dst := NewVarStore(99)
	NewLinear(dst.Root().Sub("fc"), 4, 3, DefaultLinearConfig())
	NewBatchNorm2D(dst.Root().Sub("bn"), 2)
	if err := dst.Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}

	want := src.Variables()
	for name, got := range dst.Variables() {
		for i, v := range got.Data() {
			if math.Abs(v-want[name].Data()[i]) > 1e-6 {
				t.Fatalf("%s[%d]: expected %f, got %f", name, i, want[name].Data()[i], v)
			}
		}
	}
}

func TestLoadIgnoresExtraTensors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weights.safetensors")
	err := loomnn.SaveSafetensors(path, map[string]loomnn.TensorWithShape{
		"w":         {Values: []float32{1, 2}, Shape: []int{2}, DType: "F32"},
		"fc.weight": {Values: []float32{3}, Shape: []int{1}, DType: "F32"},
	})
	if err != nil {
		t.Fatalf("SaveSafetensors: %v", err)
	}

	vs := NewVarStore(1)
	w := vs.Root().Var("w", []int{2}, Zeros)
	if err := vs.Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if w.At(0) != 1 || w.At(1) != 2 {
		t.Fatalf("unexpected values %v", w.Data())
	}
}

func TestLoadErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weights.safetensors")
	err := loomnn.SaveSafetensors(path, map[string]loomnn.TensorWithShape{
		"w": {Values: []float32{1, 2, 3}, Shape: []int{3}, DType: "F32"},
	})
	if err != nil {
		t.Fatalf("SaveSafetensors: %v", err)
	}

	cases := []struct {
		name    string
		declare func(p Path)
		want    error
	}{
		{name: "missing", declare: func(p Path) { p.Var("v", []int{3}, Zeros) }, want: ErrMissingVariable},
		{name: "shape", declare: func(p Path) { p.Var("w", []int{1, 3}, Zeros) }, want: ErrShapeMismatch},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			vs := NewVarStore(1)
			tc.declare(vs.Root())
			if err := vs.Load(path); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	vs := NewVarStore(1)
	vs.Root().Var("w", []int{1}, Zeros)
	if err := vs.Load(filepath.Join(t.TempDir(), "absent.safetensors")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
