package models

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Face detection models.
const (
	// FaceDetectorRFB320 is the Ultra-Light-Fast RFB face detector with a 320x240 input.
	FaceDetectorRFB320 = "version-RFB-320.onnx"
	// FaceDetectorSlim320 is the slimmer variant of the same family.
	FaceDetectorSlim320 = "version-slim-320.onnx"
)

// TypeFace is the subdirectory holding face detection models.
const TypeFace = "face"

// DefaultModelsDir is used when neither config nor environment name a directory.
const DefaultModelsDir = "models"

// EnvModelsDir overrides the models directory.
const EnvModelsDir = "EVENTSHOT_MODELS_DIR"

// ModelInfo describes a bundled model.
type ModelInfo struct {
	Name        string
	Type        string
	Filename    string
	InputWidth  int
	InputHeight int
	Description string
}

// ListAvailableModels returns the face models the detector understands.
func ListAvailableModels() []ModelInfo {
	return []ModelInfo{
		{
			Name:        "rfb-320",
			Type:        TypeFace,
			Filename:    FaceDetectorRFB320,
			InputWidth:  320,
			InputHeight: 240,
			Description: "Ultra-light RFB face detector, best recall",
		},
		{
			Name:        "slim-320",
			Type:        TypeFace,
			Filename:    FaceDetectorSlim320,
			InputWidth:  320,
			InputHeight: 240,
			Description: "Ultra-light slim face detector, fastest",
		},
	}
}

// GetModelsDir resolves the models directory.
// Priority: explicit value, environment variable, project root + default.
func GetModelsDir(modelsDir string) string {
	if modelsDir != "" {
		return modelsDir
	}
	if envDir := os.Getenv(EnvModelsDir); envDir != "" {
		return envDir
	}
	if root, err := findProjectRoot(); err == nil {
		return filepath.Join(root, DefaultModelsDir)
	}
	return DefaultModelsDir
}

// ResolveModelPath returns <dir>/face/<filename> when it exists and falls
// back to the flat <dir>/<filename> layout otherwise.
func ResolveModelPath(modelsDir, filename string) string {
	base := GetModelsDir(modelsDir)
	organized := filepath.Join(base, TypeFace, filename)
	if _, err := os.Stat(organized); err == nil {
		return organized
	}
	return filepath.Join(base, filename)
}

// ValidateModelExists checks that a model file is present and not a directory.
func ValidateModelExists(modelPath string) error {
	info, err := os.Stat(modelPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("model file not found: %s", modelPath)
		}
		return fmt.Errorf("cannot access model file %s: %w", modelPath, err)
	}
	if info.IsDir() {
		return fmt.Errorf("model path is a directory: %s", modelPath)
	}
	return nil
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
			return "", errors.New("could not find project root (go.mod not found)")
		}
		dir = parent
	}
}
