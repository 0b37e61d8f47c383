// Package testutil provides synthetic photos, LUT files and watermark assets
// for tests.
package testutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// GetProjectRoot returns the project root directory by finding go.mod.
func GetProjectRoot() (string, error) {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		return "", errors.New("failed to get caller information")
	}
	dir := filepath.Dir(filename)

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", fmt.Errorf("could not find go.mod file starting from %s", filepath.Dir(filename))
}

// ModelPath returns <root>/models/face/<filename> and skips the test when the
// model or the ONNX Runtime library is not installed.
func ModelPath(t *testing.T, filename string) string {
	t.Helper()
	root, err := GetProjectRoot()
	if err != nil {
		t.Skipf("project root not found: %v", err)
	}
	for _, p := range []string{
		filepath.Join(root, "models", "face", filename),
		filepath.Join(root, "models", filename),
	} {
		if FileExists(p) {
			return p
		}
	}
	t.Skipf("face model %s not installed", filename)
	return ""
}

// FileExists checks if a regular file exists.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// DirExists checks if a directory exists.
func DirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
