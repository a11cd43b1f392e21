package manager

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// ScratchProvider creates and removes task-exclusive temporary directories.
type ScratchProvider interface {
	Create() (string, error)
	Release(dir string) error
}

// TempScratch creates directories under Root (os.TempDir when empty).
type TempScratch struct {
	Root string
}

// Create makes a fresh directory.
func (s TempScratch) Create() (string, error) {
	if s.Root != "" {
		if err := os.MkdirAll(s.Root, 0o755); err != nil {
			return "", fmt.Errorf("create scratch root: %w", err)
		}
	}
	dir, err := os.MkdirTemp(s.Root, "hunyuan3d-*")
	if err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}
	return dir, nil
}

// Release removes dir and everything in it. A missing dir is not an error.
func (s TempScratch) Release(dir string) error {
	if dir == "" {
		return nil
	}
	if err := os.RemoveAll(dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// writeArtifact writes the decoded model payload into the scratch dir.
func writeArtifact(dir, taskID string, data []byte) (string, error) {
	path := filepath.Join(dir, artifactName(taskID))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// removeFile deletes path, tolerating a file that is already gone.
func removeFile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// checkInput verifies that the input image exists and is a regular file.
func checkInput(path string) error {
	if path == "" {
		return errors.New("input path is empty")
	}
	fi, err := os.Stat(path)
	if err != nil {
		return err
	}
	if fi.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	return nil
}
