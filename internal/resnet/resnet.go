// Package resnet builds ResNet backbones with torchvision parameter names
// and without the final fully connected layer.
package resnet

import (
	"fmt"

	"transfer-learning/internal/nn"
	"transfer-learning/internal/tensor"
)

// EmbeddingDim is the width of the pooled features of every BasicBlock
// ResNet.
const EmbeddingDim = 512

// Architectures lists the names Backbone accepts.
var Architectures = []string{"resnet18", "resnet34"}

func conv(p nn.Path, in, out, k, stride, padding int) *nn.Conv2D {
	return nn.NewConv2D(p, in, out, k, nn.ConvConfig{Stride: stride, Padding: padding})
}

// basicBlock is two 3x3 convolutions with an identity (or 1x1 projected)
// shortcut.
func basicBlock(p nn.Path, in, out, stride int) nn.ModuleT {
	conv1 := conv(p.Sub("conv1"), in, out, 3, stride, 1)
	bn1 := nn.NewBatchNorm2D(p.Sub("bn1"), out)
	conv2 := conv(p.Sub("conv2"), out, out, 3, 1, 1)
	bn2 := nn.NewBatchNorm2D(p.Sub("bn2"), out)

	var downsample nn.ModuleT
	if stride != 1 || in != out {
		ds := p.Sub("downsample")
		downsample = nn.SeqT().
			Add(conv(ds.SubIndex(0), in, out, 1, stride, 0)).
			Add(nn.NewBatchNorm2D(ds.SubIndex(1), out))
	}

	return nn.FuncT(func(x *tensor.Tensor, train bool) *tensor.Tensor {
		y := tensor.ReLU(bn1.ForwardT(conv1.ForwardT(x, train), train))
		y = bn2.ForwardT(conv2.ForwardT(y, train), train)
		shortcut := x
		if downsample != nil {
			shortcut = downsample.ForwardT(x, train)
		}
		return tensor.ReLU(tensor.Add(y, shortcut))
	})
}

func layer(p nn.Path, in, out, blocks, stride int) *nn.SequentialT {
	seq := nn.SeqT().Add(basicBlock(p.SubIndex(0), in, out, stride))
	for i := 1; i < blocks; i++ {
		seq.Add(basicBlock(p.SubIndex(i), out, out, 1))
	}
	return seq
}

func basicNoFinalLayer(p nn.Path, blocks [4]int) *nn.SequentialT {
	conv1 := conv(p.Sub("conv1"), 3, 64, 7, 2, 3)
	bn1 := nn.NewBatchNorm2D(p.Sub("bn1"), 64)

	return nn.SeqT().
		Add(conv1).
		Add(bn1).
		AddFn(tensor.ReLU).
		AddFn(func(x *tensor.Tensor) *tensor.Tensor { return tensor.MaxPool2D(x, 3, 2, 1) }).
		Add(layer(p.Sub("layer1"), 64, 64, blocks[0], 1)).
		Add(layer(p.Sub("layer2"), 64, 128, blocks[1], 2)).
		Add(layer(p.Sub("layer3"), 128, 256, blocks[2], 2)).
		Add(layer(p.Sub("layer4"), 256, 512, blocks[3], 2)).
		AddFn(func(x *tensor.Tensor) *tensor.Tensor {
			return tensor.AdaptiveAvgPool2D(x, 1, 1).FlatView()
		})
}

// ResNet18NoFinalLayer declares ResNet-18 under p and returns a module
// mapping [N 3 H W] images to [N 512] embeddings.
func ResNet18NoFinalLayer(p nn.Path) nn.ModuleT {
	return basicNoFinalLayer(p, [4]int{2, 2, 2, 2})
}

// ResNet34NoFinalLayer is the 34-layer variant.
func ResNet34NoFinalLayer(p nn.Path) nn.ModuleT {
	return basicNoFinalLayer(p, [4]int{3, 4, 6, 3})
}

// Backbone builds the named architecture.
func Backbone(arch string, p nn.Path) (nn.ModuleT, error) {
	switch arch {
	case "resnet18":
		return ResNet18NoFinalLayer(p), nil
	case "resnet34":
		return ResNet34NoFinalLayer(p), nil
	default:
		return nil, fmt.Errorf("unknown architecture %q (want one of %v)", arch, Architectures)
	}
}
