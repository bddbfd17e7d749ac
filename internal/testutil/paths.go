package testutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// FindProjectRoot returns the bn-loader module root, the nearest directory
// holding go.mod above the calling source file. The integration harness
// builds cmd/bn-loader from there.
func FindProjectRoot() (string, error) {
	_, filename, _, ok := runtime.Caller(1)
	if !ok {
		return "", errors.New("no caller information")
	}
	return findUp(filepath.Dir(filename), "go.mod")
}

// findUp returns the first of dir and its parents that contains name.
func findUp(dir, name string) (string, error) {
	start := dir
	for {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("%s not found above %s", name, start)
		}
		dir = parent
	}
}
