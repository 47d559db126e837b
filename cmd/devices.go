package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/smazurov/framesnap/pkg/linuxav/v4l2"
)

// CreateDevicesCmd creates the devices command.
func CreateDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List video capture devices",
		Long:  `Lists every V4L2 video capture device on the system with its stable ID.`,
		Run: func(_ *cobra.Command, _ []string) {
			devices, err := v4l2.FindDevices()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Failed to list devices: %v\n", err)
				os.Exit(1)
			}

			if len(devices) == 0 {
				fmt.Println("No video capture devices found")
				return
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PATH\tNAME\tID")
			for _, d := range devices {
				fmt.Fprintf(w, "%s\t%s\t%s\n", d.DevicePath, d.DeviceName, d.DeviceID)
			}
			w.Flush()
		},
	}
}
