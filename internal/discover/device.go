package discover

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"reflect"
	"strings"

	"github.com/hashicorp/go-hclog"
)

// CommandRunner runs an external command and returns its standard output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs commands with os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// ADBDevice is one line of `adb devices -l`.
type ADBDevice struct {
	Serial string
	State  string
	Model  string
	Device string
}

// ADBResolver resolves Android device serials from target display names.
type ADBResolver struct {
	logger hclog.Logger
	path   string
	run    CommandRunner
}

// NewADBResolver creates a resolver calling the adb binary at path.
func NewADBResolver(logger hclog.Logger, path string, run CommandRunner) (*ADBResolver, error) {
	if logger == nil || reflect.ValueOf(logger).IsNil() {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if path == "" {
		path = "adb"
	}
	if run == nil {
		run = ExecRunner
	}
	return &ADBResolver{
		logger: logger.Named("adb"),
		path:   path,
		run:    run,
	}, nil
}

// ResolveDevice returns the serial of the attached device matching displayName.
// When nothing matches but exactly one device is attached, that device is returned.
func (r *ADBResolver) ResolveDevice(ctx context.Context, displayName string) (string, error) {
	out, err := r.run(ctx, r.path, "devices", "-l")
	if err != nil {
		return "", fmt.Errorf("adb devices failed: %w", err)
	}

	devices := ParseADBDevices(out)
	if len(devices) == 0 {
		return "", fmt.Errorf("no android devices attached")
	}

	want := normalizeDeviceName(displayName)
	for _, d := range devices {
		if want != "" && (normalizeDeviceName(d.Model) == want || normalizeDeviceName(d.Device) == want) {
			return d.Serial, nil
		}
	}
	if len(devices) == 1 {
		r.logger.Debug("Falling back to the only attached device", "name", displayName, "serial", devices[0].Serial)
		return devices[0].Serial, nil
	}
	return "", fmt.Errorf("no attached device matches '%s'", displayName)
}

// ParseADBDevices parses `adb devices -l` output, keeping devices in the "device" state.
func ParseADBDevices(out []byte) []ADBDevice {
	var devices []ADBDevice

	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 || fields[1] != "device" {
			continue
		}

		d := ADBDevice{Serial: fields[0], State: fields[1]}
		for _, f := range fields[2:] {
			k, v, ok := strings.Cut(f, ":")
			if !ok {
				continue
			}
			switch k {
			case "model":
				d.Model = v
			case "device":
				d.Device = v
			}
		}
		devices = append(devices, d)
	}
	return devices
}

func normalizeDeviceName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(s)
}
