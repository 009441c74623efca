package main

import (
	"github.com/spf13/cobra"

	"github.com/repx-run/repx/internal/execute"
	"github.com/repx-run/repx/internal/model"
	"github.com/repx-run/repx/internal/runtimedriver"
	"github.com/repx-run/repx/internal/store"
	"github.com/repx-run/repx/internal/transport"
)

var (
	execJobID         string
	execRuntime       string
	execImageTag      string
	execBasePath      string
	execExecPath      string
	execHostToolsDir  string
	execMountPaths    []string
	execMountHostPath bool
)

var internalExecuteCmd = &cobra.Command{
	Use:    "internal-execute",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE:   runInternalExecute,
}

func init() {
	internalExecuteCmd.Flags().StringVar(&execJobID, "job-id", "", "the id of the job to execute")
	internalExecuteCmd.Flags().StringVar(&execRuntime, "runtime", "native", "native, bwrap, podman, or docker")
	internalExecuteCmd.Flags().StringVar(&execImageTag, "image-tag", "", "image reference, required for non-native runtimes")
	internalExecuteCmd.Flags().StringVar(&execBasePath, "base-path", "", "the target's store base path")
	internalExecuteCmd.Flags().StringVar(&execExecPath, "executable-path", "", "the job's payload executable")
	internalExecuteCmd.Flags().StringVar(&execHostToolsDir, "host-tools-dir", "", "directory holding the staged sandboxing/container binaries")
	internalExecuteCmd.Flags().StringArrayVar(&execMountPaths, "mount-paths", nil, "extra host paths bind-mounted read-only (repeatable)")
	internalExecuteCmd.Flags().BoolVar(&execMountHostPath, "mount-host-paths", false, "expose the native host filesystem inside the sandbox (impure mode)")
	rootCmd.AddCommand(internalExecuteCmd)
}

func runInternalExecute(cmd *cobra.Command, args []string) error {
	st, err := store.NewFilesystem(execBasePath)
	if err != nil {
		return err
	}

	req := execute.Request{
		JobID:          model.JobId(execJobID),
		Runtime:        model.RuntimeKind(execRuntime),
		ImageTag:       execImageTag,
		BasePath:       execBasePath,
		ExecutablePath: execExecPath,
		HostToolsDir:   execHostToolsDir,
		MountPaths:     execMountPaths,
		MountHostPaths: execMountHostPath,
	}

	return execute.Run(cmd.Context(), st, runtimedriver.NewDefaultRegistry(), transport.NewLocal(), req)
}
