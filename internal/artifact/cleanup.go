// Package artifact manages generated audio files: writing, and the deferred
// deletion that keeps the output directory from accumulating.
package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/book-expert/logger"
)

// File and directory permissions.
const (
	filePermissions = 0o600
	dirPermissions  = 0o750
)

// Write stores audio bytes under dir with the given name, creating the
// directory when needed, and returns the full path.
func Write(dir, name string, audio []byte) (string, error) {
	err := os.MkdirAll(dir, dirPermissions)
	if err != nil {
		return "", fmt.Errorf("failed to create artifact directory: %w", err)
	}

	path := filepath.Join(dir, name)

	err = os.WriteFile(path, audio, filePermissions)
	if err != nil {
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}

	return path, nil
}

// DeleteAfter removes the file once the delay has elapsed, if it still
// exists. The removal is idempotent; filesystem errors beyond a missing file
// are only logged. The caller does not wait.
func DeleteAfter(path string, delay time.Duration, log *logger.Logger) {
	go func() {
		time.Sleep(delay)
		Remove(path, log)
	}()
}

// Remove deletes the file now, treating a missing file as already done.
func Remove(path string, log *logger.Logger) {
	err := os.Remove(path)

	switch {
	case err == nil:
		log.Info("Artifact deleted: %s", path)
	case os.IsNotExist(err):
		// Already gone; deletion is idempotent.
	default:
		log.Error("Failed to delete artifact %s: %v", path, err)
	}
}
