package capture

import (
	"encoding/hex"
	"runtime"
	"strings"

	"github.com/gen2brain/malgo"

	"github.com/tphakala/threatwatch/internal/errors"
)

// DeviceInfo describes one capture device
type DeviceInfo struct {
	Index   int
	Name    string
	ID      string
	Default bool
}

func backendForPlatform() malgo.Backend {
	switch runtime.GOOS {
	case "linux":
		return malgo.BackendAlsa
	case "windows":
		return malgo.BackendWasapi
	case "darwin":
		return malgo.BackendCoreaudio
	default:
		return malgo.BackendNull
	}
}

// ListDevices enumerates the capture devices of the platform backend.
func ListDevices() ([]DeviceInfo, error) {
	mctx, err := malgo.InitContext([]malgo.Backend{backendForPlatform()}, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, deviceError(err, "init_context")
	}
	defer func() {
		_ = mctx.Uninit()
		mctx.Free()
	}()

	infos, err := mctx.Devices(malgo.Capture)
	if err != nil {
		return nil, deviceError(err, "enumerate_devices")
	}
	return describeDevices(infos), nil
}

func describeDevices(infos []malgo.DeviceInfo) []DeviceInfo {
	devices := make([]DeviceInfo, 0, len(infos))
	for i := range infos {
		// miniaudio's null device
		if strings.Contains(infos[i].Name(), "Discard all samples") {
			continue
		}
		id, err := hexToASCII(infos[i].ID.String())
		if err != nil {
			id = infos[i].ID.String()
		}
		devices = append(devices, DeviceInfo{
			Index:   i,
			Name:    infos[i].Name(),
			ID:      id,
			Default: infos[i].IsDefault == 1,
		})
	}
	return devices
}

// selectDevice picks a device by exact name, decoded ID, or name substring.
// An empty name, "default" or "sysdefault" picks the system default, falling
// back to the first device.
func selectDevice(devices []DeviceInfo, want string) (DeviceInfo, error) {
	if len(devices) == 0 {
		return DeviceInfo{}, errors.Newf("no capture devices found").
			Component("capture").
			Category(errors.CategoryAudioSource).
			Build()
	}

	switch want {
	case "", "default", "sysdefault":
		for _, d := range devices {
			if d.Default {
				return d, nil
			}
		}
		return devices[0], nil
	}

	for _, d := range devices {
		if d.Name == want || d.ID == want {
			return d, nil
		}
	}
	for _, d := range devices {
		if strings.Contains(d.Name, want) || strings.Contains(d.ID, want) {
			return d, nil
		}
	}
	return DeviceInfo{}, errors.Newf("no capture device matches %q", want).
		Component("capture").
		Category(errors.CategoryNotFound).
		Context("device", want).
		Context("available", len(devices)).
		Build()
}

func hexToASCII(hexStr string) (string, error) {
	b, err := hex.DecodeString(hexStr)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(b), "\x00"), nil
}

// permissionMarkers are the substrings platform backends use when the OS
// refuses microphone access.
var permissionMarkers = []string{
	"access denied",
	"permission denied",
	"not permitted",
	"operation not permitted",
	"access is denied",
}

func isPermissionDenied(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, m := range permissionMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// deviceError classifies a backend failure, mapping denied access onto
// errors.CategoryPermission.
func deviceError(err error, operation string) error {
	category := errors.CategoryAudioSource
	if isPermissionDenied(err) {
		category = errors.CategoryPermission
	}
	return errors.New(err).
		Component("capture").
		Category(category).
		Context("operation", operation).
		Context("backend", runtime.GOOS).
		Build()
}
