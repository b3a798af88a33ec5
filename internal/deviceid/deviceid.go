// Package deviceid provides persistent device ID management
package deviceid

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const (
	// ConfigDir is the directory for classlink state under the home directory
	ConfigDir = ".classlink"
	// DeviceIDFile is the filename for the device ID
	DeviceIDFile = "device_id"
)

// Resolve returns override when set, otherwise the id persisted at path,
// creating one on first use. An empty path falls back to ~/.classlink/device_id.
func Resolve(override, path string) (string, error) {
	if id := strings.TrimSpace(override); id != "" {
		return id, nil
	}
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return "", err
		}
		path = p
	}
	return GetOrCreate(path)
}

// GetOrCreate returns the device ID stored at path, creating one if it doesn't exist
func GetOrCreate(path string) (string, error) {
	deviceID, err := Get(path)
	if err != nil {
		return "", err
	}
	if deviceID != "" {
		return deviceID, nil
	}

	deviceID = uuid.New().String()

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return "", fmt.Errorf("failed to create device id directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(deviceID), 0600); err != nil {
		return "", fmt.Errorf("failed to write device id: %w", err)
	}

	return deviceID, nil
}

// Get returns the device ID if it exists, or empty string if not
func Get(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// DefaultPath returns ~/.classlink/device_id
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigDir, DeviceIDFile), nil
}
