package sysinit

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	defaultPortScanAttempts = 100
	defaultPortScanInterval = 100 * time.Millisecond

	// guestAgentPortName is the fixed virtio-serial port name assigned to
	// the QEMU Guest Agent channel.
	guestAgentPortName = "org.qemu.guest_agent.0"

	virtioPortsGlob = "/sys/class/virtio-ports/*/name"
)

// FindGuestAgentPort scans /sys/class/virtio-ports/*/name for
// guestAgentPortName and returns the corresponding /dev/vport* path,
// retrying up to attempts times with a sleep of interval between tries —
// the virtio-serial sysfs entries can appear slightly after /sys is
// mounted.
func FindGuestAgentPort(attempts int, interval time.Duration) (string, error) {
	return findPort(virtioPortsGlob, guestAgentPortName, attempts, interval)
}

func findPort(glob, name string, attempts int, interval time.Duration) (string, error) {
	var lastErr error
	for i := 0; i < attempts; i++ {
		path, err := scanPortsOnce(glob, name)
		if err == nil {
			return path, nil
		}
		lastErr = err
		time.Sleep(interval)
	}
	return "", fmt.Errorf("port %q not found after %d attempts: %w", name, attempts, lastErr)
}

// scanPortsOnce evaluates glob (a pattern like
// "/sys/class/virtio-ports/*/name") once and returns the /dev path
// sibling to whichever match's contents equal name. glob is a parameter
// rather than always virtioPortsGlob so tests can point it at a fake
// sysfs tree.
func scanPortsOnce(glob, name string) (string, error) {
	matches, err := filepath.Glob(glob)
	if err != nil {
		return "", fmt.Errorf("glob virtio ports: %w", err)
	}
	for _, nameFile := range matches {
		data, err := os.ReadFile(nameFile)
		if err != nil {
			continue
		}
		if strings.TrimSpace(string(data)) != name {
			continue
		}
		portDir := filepath.Base(filepath.Dir(nameFile))
		return filepath.Join("/dev", portDir), nil
	}
	return "", fmt.Errorf("no virtio-port named %q under %s", name, glob)
}
