package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/smazurov/framesnap/cmd"
	"github.com/smazurov/framesnap/internal/version"
)

func main() {
	root := &cobra.Command{
		Use:     "framesnap",
		Short:   "Single-shot still capture for V4L2 cameras",
		Version: version.String(),
	}
	root.SetVersionTemplate(fmt.Sprintf("framesnap %s (commit %s, built %s)\n",
		version.Version, version.GitCommit, version.BuildDate))

	captureCmd := cmd.CreateCaptureCmd()
	root.AddCommand(captureCmd)
	root.AddCommand(cmd.CreateDevicesCmd())
	root.AddCommand(cmd.CreateFormatsCmd())

	// Bare invocation captures with defaults, matching the common case
	// of snapping a frame from the first camera.
	root.RunE = func(c *cobra.Command, args []string) error {
		captureCmd.Run(captureCmd, args)
		return nil
	}
	root.Flags().AddFlagSet(captureCmd.Flags())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
