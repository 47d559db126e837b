package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/smazurov/framesnap/internal/devices"
	"github.com/smazurov/framesnap/pkg/linuxav/v4l2"
)

// CreateFormatsCmd creates the formats command.
func CreateFormatsCmd() *cobra.Command {
	var showFramerates bool

	cmd := &cobra.Command{
		Use:   "formats [device]",
		Short: "Show supported formats for a device",
		Long:  `Enumerates the pixel formats and resolutions a capture device supports.`,
		Args:  cobra.MaximumNArgs(1),
		Run: func(_ *cobra.Command, args []string) {
			device := "/dev/video0"
			if len(args) == 1 {
				device = args[0]
			}

			devicePath, err := devices.ResolveDevicePath(device)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%v\n", err)
				os.Exit(1)
			}

			formats, err := v4l2.GetFormats(devicePath)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Failed to enumerate formats: %v\n", err)
				os.Exit(1)
			}

			for _, format := range formats {
				label := fmt.Sprintf("%s (%s)", v4l2.FormatFourCC(format.PixelFormat), format.FormatName)
				if format.Emulated {
					label += " [emulated]"
				}
				fmt.Println(label)

				resolutions, err := v4l2.GetResolutions(devicePath, format.PixelFormat)
				if err != nil {
					fmt.Fprintf(os.Stderr, "  failed to enumerate resolutions: %v\n", err)
					continue
				}

				for _, res := range resolutions {
					line := fmt.Sprintf("  %dx%d", res.Width, res.Height)
					if showFramerates {
						rates, err := v4l2.GetFramerates(devicePath, format.PixelFormat, res.Width, res.Height)
						if err == nil && len(rates) > 0 {
							var fps []string
							for _, r := range rates {
								fps = append(fps, fmt.Sprintf("%g", r.FPS()))
							}
							line += " @ " + strings.Join(fps, ", ") + " fps"
						}
					}
					fmt.Println(line)
				}
			}
		},
	}

	cmd.Flags().BoolVar(&showFramerates, "framerates", false, "Also show supported framerates")

	return cmd
}
