package resnet

import (
	"math/rand"
	"strings"
	"testing"

	"transfer-learning/internal/nn"
	"transfer-learning/internal/tensor"
)

func TestResNet18Parameters(t *testing.T) {
	vs := nn.NewVarStore(1)
	ResNet18NoFinalLayer(vs.Root())

	if got, want := vs.NumParameters(), 11176512; got != want {
		t.Fatalf("expected %d parameters, got %d", want, got)
	}

	vars := vs.Variables()
	for _, name := range []string{
		"conv1.weight",
		"bn1.running_var",
		"layer1.1.conv2.weight",
		"layer2.0.downsample.0.weight",
		"layer4.1.bn2.bias",
	} {
		if _, ok := vars[name]; !ok {
			t.Fatalf("missing variable %s", name)
		}
	}
	for name := range vars {
		if strings.HasPrefix(name, "fc.") || strings.HasPrefix(name, "layer1.0.downsample") {
			t.Fatalf("unexpected variable %s", name)
		}
	}
	if got := vars["layer3.0.downsample.0.weight"].Shape(); got[0] != 256 || got[1] != 128 || got[2] != 1 {
		t.Fatalf("unexpected downsample shape %v", got)
	}
}

func TestResNet18Embeddings(t *testing.T) {
	vs := nn.NewVarStore(1)
	net := ResNet18NoFinalLayer(vs.Root())
	vs.Freeze()

	x := tensor.RandNormal(rand.New(rand.NewSource(2)), 0, 1, 2, 3, 32, 32)
	y := tensor.NoGrad(func() *tensor.Tensor { return net.ForwardT(x, false) })
	if got := y.Shape(); len(got) != 2 || got[0] != 2 || got[1] != EmbeddingDim {
		t.Fatalf("expected [2 %d], got %v", EmbeddingDim, got)
	}
	for _, v := range y.Data() {
		if v < 0 {
			t.Fatalf("pooled ReLU features must be non-negative, got %f", v)
		}
	}
}

func TestBackbone(t *testing.T) {
	vs := nn.NewVarStore(1)
	if _, err := Backbone("resnet34", vs.Root()); err != nil {
		t.Fatalf("resnet34: %v", err)
	}
	if _, ok := vs.Variables()["layer3.5.conv1.weight"]; !ok {
		t.Fatalf("resnet34 should have six blocks in layer3")
	}
	if _, err := Backbone("vgg16", nn.NewVarStore(1).Root()); err == nil {
		t.Fatalf("expected error for unknown architecture")
	}
}
