package util

import (
	"os"
	"path/filepath"
)

// GetDataDir returns the data directory path
func GetDataDir() string {
	if envDir := os.Getenv("PYBBLE_DIR"); envDir != "" {
		return envDir
	}

	home, err := os.UserHomeDir()
	if err != nil {
		panic(err)
	}
	return filepath.Join(home, ".pybble-data")
}

// GetAdvDir returns the directory where simulated advertisements are published
func GetAdvDir() string {
	advDir := filepath.Join(GetDataDir(), "adv")
	// Ensure the directory exists
	if err := os.MkdirAll(advDir, 0755); err != nil {
		panic(err)
	}
	return advDir
}
