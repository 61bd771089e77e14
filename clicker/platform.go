package clicker

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// Version is the clicker release this client is built against. Downloaded
// binaries are cached under this version string.
const Version = "0.1.2"

// PlatformIdentifier returns the platform string used to name release
// artifacts, e.g. "darwin-arm64" or "linux-x64".
func PlatformIdentifier() (string, error) {
	var osID string
	switch runtime.GOOS {
	case "linux":
		osID = "linux"
	case "darwin":
		osID = "darwin"
	case "windows":
		osID = "win32"
	default:
		return "", fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}

	var archID string
	switch runtime.GOARCH {
	case "amd64":
		archID = "x64"
	case "arm64":
		archID = "arm64"
	default:
		return "", fmt.Errorf("unsupported architecture: %s", runtime.GOARCH)
	}

	return osID + "-" + archID, nil
}

// BinaryName returns the clicker executable name for the current platform.
func BinaryName() string {
	if runtime.GOOS == "windows" {
		return "clicker.exe"
	}
	return "clicker"
}

// CacheDir returns the per-user cache directory for vibium:
//
//	macOS:   ~/Library/Caches/vibium
//	Linux:   $XDG_CACHE_HOME/vibium or ~/.cache/vibium
//	Windows: %LOCALAPPDATA%\vibium
func CacheDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("finding home dir: %w", err)
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Caches", "vibium"), nil
	case "windows":
		if localAppData := os.Getenv("LOCALAPPDATA"); localAppData != "" {
			return filepath.Join(localAppData, "vibium"), nil
		}
		return filepath.Join(home, "AppData", "Local", "vibium"), nil
	default:
		if xdgCache := os.Getenv("XDG_CACHE_HOME"); xdgCache != "" {
			return filepath.Join(xdgCache, "vibium"), nil
		}
		return filepath.Join(home, ".cache", "vibium"), nil
	}
}
