package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/smazurov/framesnap/internal/capture"
	"github.com/smazurov/framesnap/internal/config"
	"github.com/smazurov/framesnap/internal/logging"
)

// CreateCaptureCmd creates the capture command.
func CreateCaptureCmd() *cobra.Command {
	opts := capture.DefaultOptions()
	var logLevel string
	var logJSON bool

	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Capture a single still image",
		Long: `Captures one frame from a V4L2 camera using a single memory-mapped ` +
			`buffer and writes it to the output file. The device is opened, the format ` +
			`negotiated, one buffer streamed through, and everything released again.`,
		Run: func(cmd *cobra.Command, _ []string) {
			if err := config.LoadConfig(&opts, cmd); err != nil {
				os.Stderr.WriteString(err.Error() + "\n")
				os.Exit(1)
			}

			loggingConfig := config.LoadLoggingConfig(opts.Config)
			if cmd.Flags().Changed("log-level") {
				loggingConfig.Level = logLevel
			}
			if logJSON {
				loggingConfig.Format = "json"
			}
			logging.Initialize(loggingConfig)

			logger := logging.GetLogger("capture")

			result, err := capture.Run(cmd.Context(), opts, logger)
			if err != nil {
				logger.Error("Capture failed", "device", opts.Device, "error", err)
				os.Exit(1)
			}

			logger.Info("Capture complete",
				"device", result.DevicePath,
				"output", result.OutputPath,
				"bytes", result.BytesWritten,
				"sequence", result.Frame.Sequence)
		},
	}

	cmd.Flags().StringVarP(&opts.Config, "config", "c", "", "Path to configuration file")
	cmd.Flags().StringVarP(&opts.Device, "device", "d", opts.Device, "Device path or stable ID")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", opts.Output, "Output file path")
	cmd.Flags().IntVar(&opts.Width, "width", opts.Width, "Frame width in pixels")
	cmd.Flags().IntVar(&opts.Height, "height", opts.Height, "Frame height in pixels")
	cmd.Flags().StringVar(&opts.PixelFormat, "pixel-format", opts.PixelFormat, "Pixel format name or FourCC (mjpeg, yuyv, ...)")
	cmd.Flags().StringVar(&opts.Colorspace, "colorspace", opts.Colorspace, "Requested colorspace (rec709, srgb, ...)")
	cmd.Flags().IntVar(&opts.TimeoutMs, "timeout-ms", opts.TimeoutMs, "Frame wait timeout in ms, 0 blocks forever")
	cmd.Flags().IntVar(&opts.WaitMs, "wait-ms", opts.WaitMs, "How long to wait for the device node to appear, in ms")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Logging level (debug, info, warn, error)")
	cmd.Flags().BoolVar(&logJSON, "log-json", false, "Use JSON log format")

	return cmd
}
