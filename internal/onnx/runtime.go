// Package onnx locates and initializes the ONNX Runtime shared library.
package onnx

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/yalue/onnxruntime_go"
)

const (
	libLinux   = "libonnxruntime.so"
	libDarwin  = "libonnxruntime.dylib"
	libWindows = "onnxruntime.dll"
)

var initMu sync.Mutex

func libraryName(goos string) (string, error) {
	switch goos {
	case "linux":
		return libLinux, nil
	case "darwin":
		return libDarwin, nil
	case "windows":
		return libWindows, nil
	default:
		return "", fmt.Errorf("unsupported operating system: %s", goos)
	}
}

// candidatePaths lists where the runtime library is searched, in order.
func candidatePaths(explicit string) ([]string, error) {
	if explicit != "" {
		return []string{explicit}, nil
	}
	name, err := libraryName(runtime.GOOS)
	if err != nil {
		return nil, err
	}
	paths := []string{
		filepath.Join("/usr/local/lib", name),
		filepath.Join("/usr/lib", name),
		filepath.Join("/opt/onnxruntime/lib", name),
	}
	if root, err := findProjectRoot(); err == nil {
		paths = append(paths, filepath.Join(root, "onnxruntime", "lib", name))
	}
	return paths, nil
}

// ResolveLibraryPath returns the first existing runtime library path. An
// explicit path is used as is and must exist.
func ResolveLibraryPath(explicit string) (string, error) {
	paths, err := candidatePaths(explicit)
	if err != nil {
		return "", err
	}
	for _, p := range paths {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, nil
		}
	}
	return "", fmt.Errorf("ONNX Runtime library not found (searched %v)", paths)
}

// Initialize points onnxruntime_go at the shared library and creates the
// process-wide environment. Repeated calls are no-ops.
func Initialize(libraryPath string) error {
	initMu.Lock()
	defer initMu.Unlock()

	if onnxruntime_go.IsInitialized() {
		return nil
	}
	path, err := ResolveLibraryPath(libraryPath)
	if err != nil {
		return err
	}
	onnxruntime_go.SetSharedLibraryPath(path)
	if err := onnxruntime_go.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX Runtime: %w", err)
	}
	return nil
}

// Shutdown destroys the runtime environment. Call once at process exit.
func Shutdown() error {
	initMu.Lock()
	defer initMu.Unlock()
	if !onnxruntime_go.IsInitialized() {
		return nil
	}
	return onnxruntime_go.DestroyEnvironment()
}

func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New("could not find project root")
		}
		dir = parent
	}
}
