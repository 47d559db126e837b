// Package devices resolves stable device identifiers to /dev paths and
// waits for devices to appear.
package devices

import (
	"fmt"
	"os"
	"strings"

	"github.com/smazurov/framesnap/pkg/linuxav/v4l2"
)

// ResolveDevicePath converts a device ID to a usable /dev path.
// Full paths are passed through unchanged; stable IDs are looked up
// under /dev/v4l/by-id/ and /dev/v4l/by-path/.
func ResolveDevicePath(deviceID string) (string, error) {
	if strings.HasPrefix(deviceID, "/dev/") {
		return deviceID, nil
	}

	// Try by-id first (for USB devices)
	if strings.HasPrefix(deviceID, "usb-") {
		devicePath := "/dev/v4l/by-id/" + deviceID
		if _, err := os.Stat(devicePath); err == nil {
			return devicePath, nil
		}
	}

	// Try by-path (for platform devices and USB devices without by-id)
	if strings.HasPrefix(deviceID, "platform-") || strings.HasPrefix(deviceID, "usb-") {
		devicePath := "/dev/v4l/by-path/" + deviceID
		if _, err := os.Stat(devicePath); err == nil {
			return devicePath, nil
		}
	}

	// Synthetic IDs (platform devices without udev symlinks) resolve by
	// scanning the devices themselves.
	if path, err := v4l2.GetDevicePathByID(deviceID); err == nil {
		return path, nil
	}

	return "", fmt.Errorf("no stable symlink found for device ID: %s", deviceID)
}
