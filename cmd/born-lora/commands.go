package main

import (
	"fmt"
	"math/rand/v2"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/born-ml/born-lora/internal/dataset"
	"github.com/born-ml/born-lora/internal/experiment"
)

func newRunCmd(a *app) *cobra.Command {
	var (
		synthetic bool
		digit     int
		rank      int
		alpha     float32
		outDir    string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Train the baseline, fine-tune adapters and compare",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			flags := cmd.Flags()
			if flags.Changed("synthetic") {
				a.cfg.Data.Synthetic = synthetic
			}
			if flags.Changed("digit") {
				a.cfg.FineTune.Digit = digit
			}
			if flags.Changed("rank") {
				a.cfg.LoRA.Rank = rank
			}
			if flags.Changed("alpha") {
				a.cfg.LoRA.Alpha = alpha
			}
			if flags.Changed("output") {
				a.cfg.Output.Dir = outDir
			}

			r, err := experiment.NewRunner(a.cfg, a.logger, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			out, err := r.Run(cmd.Context())
			if err != nil {
				return err
			}
			if out.RunID != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Run: %s\n", out.RunID)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&synthetic, "synthetic", false, "use generated data instead of MNIST files")
	cmd.Flags().IntVar(&digit, "digit", 9, "digit the adapters are fine-tuned on")
	cmd.Flags().IntVar(&rank, "rank", 1, "adapter rank")
	cmd.Flags().Float32Var(&alpha, "alpha", 1, "adapter alpha, the update is scaled by alpha/rank")
	cmd.Flags().StringVarP(&outDir, "output", "o", "", "directory for checkpoints, plot and run database")
	return cmd
}

func newParamsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "params",
		Short: "Print parameter counts with and without adapters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := experiment.NewRunner(a.cfg, a.logger, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			_, _, err = r.DescribeParameters()
			return err
		},
	}
}

func newEvalCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "eval",
		Short: "Evaluate saved checkpoints with adapters enabled and disabled",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := experiment.NewRunner(a.cfg, a.logger, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			_, _, err = r.EvaluateCheckpoints(cmd.Context())
			return err
		},
	}
}

func newSynthCmd(a *app) *cobra.Command {
	var trainN, testN int
	cmd := &cobra.Command{
		Use:   "synth <dir>",
		Short: "Write a synthetic dataset as MNIST IDX files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := args[0]
			splits := []struct {
				split dataset.Split
				n     int
			}{{dataset.Train, trainN}, {dataset.Test, testN}}

			for i, s := range splits {
				d := dataset.Synthetic(s.n, rand.NewPCG(a.cfg.Seed, uint64(100+i)))
				if err := d.WriteIDX(dir, s.split); err != nil {
					return err
				}
				a.logger.Info("wrote split", zap.String("split", s.split.String()), zap.Int("samples", d.Len()), zap.String("dir", dir))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&trainN, "train", 2000, "training samples")
	cmd.Flags().IntVar(&testN, "test", 500, "test samples")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		// No configuration or logger is needed to print the version.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "born-lora %s\n", version)
		},
	}
}
