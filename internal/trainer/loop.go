package trainer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/gomlx/exceptions"
	"k8s.io/klog/v2"

	"transfer-learning/internal/dataset"
	"transfer-learning/internal/metrics"
	"transfer-learning/internal/model"
	"transfer-learning/internal/nn"
	"transfer-learning/internal/resnet"
	"transfer-learning/internal/tensor"
)

// RunConfig captures the knobs required by the pipeline.
type RunConfig struct {
	WeightsPath string
	DatasetDir  string
	Arch        string

	Epochs       int
	LearningRate float64
	Momentum     float64
	WeightDecay  float64

	ImageSize  int
	BatchSize  int
	NumWorkers int
	LogEvery   int
	Seed       int64

	// Out receives the dataset line and one accuracy line per epoch.
	// Defaults to os.Stdout.
	Out io.Writer
}

// Run loads the dataset and the pretrained backbone, extracts embeddings
// once and trains a linear head on them for cfg.Epochs epochs.
func Run(ctx context.Context, cfg RunConfig) error {
	if cfg.Epochs <= 0 {
		return errors.New("trainer: epochs must be > 0")
	}
	if cfg.LearningRate <= 0 {
		return errors.New("trainer: learning rate must be > 0")
	}
	if cfg.LogEvery <= 0 {
		cfg.LogEvery = 50
	}
	if cfg.Arch == "" {
		cfg.Arch = "resnet18"
	}
	out := cfg.Out
	if out == nil {
		out = os.Stdout
	}

	start := time.Now()
	ds, err := dataset.LoadFromDir(ctx, cfg.DatasetDir, dataset.Options{
		ImageSize:  cfg.ImageSize,
		NumWorkers: cfg.NumWorkers,
	})
	if err != nil {
		return err
	}
	klog.InfoS("dataset loaded", "dir", cfg.DatasetDir, "classes", ds.Labels, "elapsed", time.Since(start))
	if _, err := fmt.Fprintln(out, ds); err != nil {
		return fmt.Errorf("write output: %w", err)
	}

	vs := nn.NewVarStore(cfg.Seed)
	backbone, err := resnet.Backbone(cfg.Arch, vs.Root())
	if err != nil {
		return err
	}
	if err := vs.Load(cfg.WeightsPath); err != nil {
		return fmt.Errorf("load %s: %w", cfg.Arch, err)
	}
	vs.Freeze()

	start = time.Now()
	trainEmb, testEmb, err := embedSplits(backbone, ds, cfg.BatchSize)
	if err != nil {
		return err
	}
	klog.InfoS("features extracted", "train", trainEmb.Shape(), "test", testEmb.Shape(), "elapsed", time.Since(start))
	if err := ctx.Err(); err != nil {
		return err
	}

	head, err := model.NewHead(resnet.EmbeddingDim, ds.Labels, cfg.LearningRate, nn.SGDConfig{
		Momentum:    cfg.Momentum,
		WeightDecay: cfg.WeightDecay,
	}, cfg.Seed)
	if err != nil {
		return err
	}
	return trainHead(ctx, head, cfg, out,
		model.Batch{Inputs: trainEmb, Labels: ds.TrainLabels},
		model.Batch{Inputs: testEmb, Labels: ds.TestLabels},
	)
}

// embedSplits runs the frozen backbone over both splits and checks the
// embedding width.
func embedSplits(backbone nn.ModuleT, ds *dataset.Dataset, batchSize int) (train, test *tensor.Tensor, err error) {
	err = exceptions.TryCatch[error](func() {
		train = model.Embed(backbone, ds.TrainImages, batchSize)
		test = model.Embed(backbone, ds.TestImages, batchSize)
	})
	if err != nil {
		return nil, nil, fmt.Errorf("extract features: %w", err)
	}
	for _, emb := range []*tensor.Tensor{train, test} {
		if shape := emb.Shape(); len(shape) != 2 || shape[1] != resnet.EmbeddingDim {
			return nil, nil, fmt.Errorf("extract features: got shape %v, want [N %d]", shape, resnet.EmbeddingDim)
		}
	}
	return train, test, nil
}

func trainHead(ctx context.Context, mdl model.Model, cfg RunConfig, out io.Writer, train, test model.Batch) error {
	samples := train.Inputs.Shape()[0]
	var window metrics.Window

	for epoch := 1; epoch <= cfg.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		startCompute := time.Now()
		loss := mdl.TrainStep(train)
		acc := mdl.Accuracy(test)
		computeTime := time.Since(startCompute)

		if _, err := fmt.Fprintf(out, "%d %.2f%%\n", epoch, 100*acc); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
		window.Record(samples, 0, computeTime, loss, acc)

		if epoch%cfg.LogEvery == 0 {
			snap := window.Snapshot()
			klog.InfoS("training",
				"epoch", epoch,
				"epochs_per_sec", fmt.Sprintf("%.1f", snap.StepsPerSec),
				"compute_ms", fmt.Sprintf("%.2f", snap.AvgComputeMS),
				"loss", fmt.Sprintf("%.4f", snap.LastLoss),
				"accuracy", fmt.Sprintf("%.4f", snap.LastAccuracy),
			)
		}
	}
	return nil
}
