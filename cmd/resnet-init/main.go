// Command resnet-init writes a randomly initialised ResNet backbone to a
// safetensors file with the parameter names transfer-learning expects.
package main

import (
	"fmt"
	"os"

	"github.com/gomlx/exceptions"
	"github.com/janpfeifer/must"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"transfer-learning/internal/nn"
	"transfer-learning/internal/resnet"
)

func main() {
	var (
		arch string
		seed int64
		out  string
	)
	cmd := &cobra.Command{
		Use:          "resnet-init",
		Short:        "Write random ResNet backbone weights",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			return exceptions.TryCatch[error](func() {
				vs := nn.NewVarStore(seed)
				must.M1(resnet.Backbone(arch, vs.Root()))
				must.M(vs.Save(out))
				klog.InfoS("wrote weights", "arch", arch, "path", out, "parameters", vs.NumParameters())
			})
		},
	}
	cmd.Flags().StringVar(&arch, "arch", "resnet18", fmt.Sprintf("Architecture, one of %v", resnet.Architectures))
	cmd.Flags().Int64Var(&seed, "seed", 42, "PRNG seed")
	cmd.Flags().StringVar(&out, "out", "resnet18.safetensors", "Output path")

	err := cmd.Execute()
	klog.Flush()
	if err != nil {
		os.Exit(1)
	}
}
