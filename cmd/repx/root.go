package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/repx-run/repx/internal/config"
)

var (
	labPath       string
	resourcesPath string
	verbosity     int
	targetFlag    string
	schedulerFlag string

	logger *slog.Logger
	cfg    *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "repx",
	Short:         "A focused job runner for repx labs.",
	Long:          "repx reads a repx lab definition and submits its jobs to a target's scheduler.",
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger = config.NewLogger(cmd.ErrOrStderr(), config.VerbosityLevel(verbosity))

		loaded, err := config.Load("")
		if err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&labPath, "lab", "./result", "path to the lab.json to operate on")
	rootCmd.PersistentFlags().StringVar(&resourcesPath, "resources", "", "path to a resources.toml file for execution requirements")
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "increase verbosity (-v for info, -vv for debug)")
	rootCmd.PersistentFlags().StringVar(&targetFlag, "target", "", "the target to submit jobs to (must be defined in config.toml)")
	rootCmd.PersistentFlags().StringVar(&schedulerFlag, "scheduler", "", "override the target's configured scheduler: 'slurm' or 'local'")
}

func newRootCmd() *cobra.Command {
	return rootCmd
}
