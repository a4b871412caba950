// Package artifact_test tests artifact writing and deferred deletion.
package artifact_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/voxkit/tts-bot/internal/artifact"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "artifact-test.log")
	require.NoError(t, err)

	return log
}

func TestWrite_CreatesDirectoryAndFile(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "output")

	path, err := artifact.Write(dir, "voice.mp3", []byte("mp3-data"))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("mp3-data"), data)
}

func TestDeleteAfter_RemovesFileOnceDelayElapses(t *testing.T) {
	t.Parallel()

	log := newTestLogger(t)

	path, err := artifact.Write(t.TempDir(), "voice.mp3", []byte("mp3-data"))
	require.NoError(t, err)

	artifact.DeleteAfter(path, 20*time.Millisecond, log)

	// Still present before the delay elapses.
	_, statErr := os.Stat(path)
	require.NoError(t, statErr)

	assert.Eventually(t, func() bool {
		_, err := os.Stat(path)

		return os.IsNotExist(err)
	}, time.Second, 10*time.Millisecond)
}

func TestRemove_MissingFileIsIdempotent(t *testing.T) {
	t.Parallel()

	log := newTestLogger(t)

	path := filepath.Join(t.TempDir(), "never-written.mp3")

	// Must not panic or log an error for a file that is already gone.
	artifact.Remove(path, log)
	artifact.Remove(path, log)
}
