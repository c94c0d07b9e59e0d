// Command hello-va-detect runs an SSD detection network over a video and writes
// the annotated frames to an MJPG AVI file. Frames are decoded into VA-API
// surfaces and resized there, then staged through host memory into the
// network input.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "hello-va-detect <path_to_model> <path_to_video>",
		Short: "Detect objects in a video on the GPU",
		Long: `Decode a video into VA-API surfaces, run an SSD detection network on the
GPU through the OpenVINO execution provider and write the annotated frames.

The video path may be synthetic://N to run N generated frames.`,
		Args:          cobra.ExactArgs(2),
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			summary, output, err := run(cmd.Context(), configPath, args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), summary.String())
			if output != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Output written to %s\n", output)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "YAML configuration file")
	return cmd
}
