// Package cli wires the transfer-learning command line to the trainer.
package cli

import (
	"context"
	"errors"
	goflag "flag"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"k8s.io/klog/v2"

	"transfer-learning/internal/config"
	"transfer-learning/internal/tensor"
	"transfer-learning/internal/trainer"
)

const (
	ExitSuccess = 0
	ExitFailure = 1
	ExitUsage   = 2
)

const usageLine = "usage: transfer-learning resnet18.safetensors dataset-path"

// UsageError reports a malformed invocation. An empty Message means the
// positional argument count was wrong.
type UsageError struct {
	Message string
}

func (e *UsageError) Error() string {
	if e == nil || e.Message == "" {
		return usageLine
	}
	return e.Message
}

type flags struct {
	configPath  string
	arch        string
	epochs      int
	lr          float64
	momentum    float64
	weightDecay float64
	seed        int64
	imageSize   int
	batchSize   int
	numWorkers  int
	logEvery    int
}

// NewRootCommand builds the command. Pipeline output goes to stdout.
func NewRootCommand(stdout io.Writer) *cobra.Command {
	f := &flags{}
	cmd := &cobra.Command{
		Use:   "transfer-learning [flags] <weights-file> <dataset-dir>",
		Short: "Train a linear head on frozen ResNet embeddings",
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) != 2 {
				return &UsageError{}
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cmd.Flags(), f, args[0], args[1], stdout)
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &UsageError{Message: err.Error()}
	})

	fs := cmd.Flags()
	fs.StringVar(&f.configPath, "config", "", "Path to YAML config")
	fs.StringVar(&f.arch, "arch", "", "Backbone architecture (resnet18 or resnet34)")
	fs.IntVar(&f.epochs, "epochs", 0, "Number of training epochs")
	fs.Float64Var(&f.lr, "lr", 0, "SGD learning rate")
	fs.Float64Var(&f.momentum, "momentum", 0, "SGD momentum")
	fs.Float64Var(&f.weightDecay, "weight-decay", 0, "SGD weight decay")
	fs.Int64Var(&f.seed, "seed", 0, "PRNG seed for the head initialisation")
	fs.IntVar(&f.imageSize, "image-size", 0, "Side of the square input images")
	fs.IntVar(&f.batchSize, "batch-size", 0, "Images per backbone forward pass")
	fs.IntVar(&f.numWorkers, "num-workers", 0, "Number of image decoding and kernel workers")
	fs.IntVar(&f.logEvery, "log-every", 0, "Log progress every N epochs")

	klogFlags := goflag.NewFlagSet("klog", goflag.ContinueOnError)
	klog.InitFlags(klogFlags)
	cmd.PersistentFlags().AddGoFlagSet(klogFlags)
	return cmd
}

func run(ctx context.Context, fs *pflag.FlagSet, f *flags, weights, datasetDir string, stdout io.Writer) error {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return err
	}
	overrides := config.Overrides{
		Arch:         f.arch,
		Epochs:       f.epochs,
		LearningRate: f.lr,
		Seed:         f.seed,
		ImageSize:    f.imageSize,
		BatchSize:    f.batchSize,
		NumWorkers:   f.numWorkers,
		LogEvery:     f.logEvery,
	}
	if fs.Changed("momentum") {
		overrides.Momentum = &f.momentum
	}
	if fs.Changed("weight-decay") {
		overrides.WeightDecay = &f.weightDecay
	}
	cfg.ApplyOverrides(overrides)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	tensor.SetComputeConfig(tensor.ComputeConfig{Workers: cfg.NumWorkers})
	klog.V(1).InfoS("config", "arch", cfg.Arch, "epochs", cfg.Epochs, "lr", cfg.LearningRate,
		"image_size", cfg.ImageSize, "batch_size", cfg.BatchSize, "workers", cfg.NumWorkers, "seed", cfg.Seed)

	return trainer.Run(ctx, trainer.RunConfig{
		WeightsPath:  weights,
		DatasetDir:   datasetDir,
		Arch:         cfg.Arch,
		Epochs:       cfg.Epochs,
		LearningRate: cfg.LearningRate,
		Momentum:     cfg.Momentum,
		WeightDecay:  cfg.WeightDecay,
		ImageSize:    cfg.ImageSize,
		BatchSize:    cfg.BatchSize,
		NumWorkers:   cfg.NumWorkers,
		LogEvery:     cfg.LogEvery,
		Seed:         cfg.Seed,
		Out:          stdout,
	})
}

// Execute runs the command with args and returns the process exit code.
// Errors are printed to stderr exactly once.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := NewRootCommand(stdout)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return ExitSuccess
	}
	var usageErr *UsageError
	if errors.As(err, &usageErr) {
		if usageErr.Message != "" {
			fmt.Fprintf(stderr, "Error: %s\n", usageErr.Message)
		}
		fmt.Fprintln(stderr, usageLine)
		return ExitUsage
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return ExitFailure
}
