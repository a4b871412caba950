package session_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/logger"
	"github.com/voxkit/tts-bot/internal/inworld"
	"github.com/voxkit/tts-bot/internal/retry"
	"github.com/voxkit/tts-bot/internal/session"
	"github.com/voxkit/tts-bot/internal/stats"
)

type mockCloner struct {
	mu       sync.Mutex
	requests []inworld.CloneRequest
	voiceID  string
	err      error
	block    chan struct{}
}

func (m *mockCloner) CloneVoice(_ context.Context, req inworld.CloneRequest) (string, int, error) {
	if m.block != nil {
		<-m.block
	}

	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.err != nil {
		return "", 0, m.err
	}

	return m.voiceID, 0, nil
}

type mockBinder struct {
	mu    sync.Mutex
	bound map[int64]string
}

func newMockBinder() *mockBinder {
	return &mockBinder{bound: make(map[int64]string)}
}

func (m *mockBinder) SetVoice(userID int64, voiceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.bound[userID] = voiceID

	return nil
}

func (m *mockBinder) get(userID int64) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	voiceID, ok := m.bound[userID]

	return voiceID, ok
}

func newTestManager(t *testing.T, cloner *mockCloner, binder *mockBinder) *session.Manager {
	t.Helper()

	log, err := logger.New(t.TempDir(), "session-test.log")
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	executor := retry.NewExecutorWithSleep(
		stats.New(), log, func(context.Context, time.Duration) error { return nil },
	)
	policy := retry.Policy{MaxAttempts: 1, BackoffBase: 2.0, Unit: time.Millisecond}

	return session.NewManager(cloner, nil, executor, policy, binder, 5*time.Second, log)
}

func stageFile(t *testing.T, dir, name string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("ogg-bytes"), 0o600))

	return path
}

func TestFullCloneFlow(t *testing.T) {
	t.Parallel()

	cloner := &mockCloner{voiceID: "voice-xyz"}
	binder := newMockBinder()
	manager := newTestManager(t, cloner, binder)

	const userID int64 = 42

	manager.Start(userID)

	step, active := manager.Active(userID)
	require.True(t, active)
	assert.Equal(t, session.StepName, step)

	name, err := manager.SubmitName(userID, "My Voice!!")
	require.NoError(t, err)
	assert.Equal(t, "MyVoice", name)

	lang, err := manager.SelectLanguage(userID, "pt")
	require.NoError(t, err)
	assert.Equal(t, "PT_BR", lang.ProviderTag)

	dir := t.TempDir()

	count, err := manager.SubmitAudio(userID, stageFile(t, dir, "a.ogg"))
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	second := stageFile(t, dir, "b.ogg")

	count, err = manager.SubmitAudio(userID, second)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	voiceID, err := manager.Finish(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, "voice-xyz", voiceID)

	require.Len(t, cloner.requests, 1)
	assert.Equal(t, "MyVoice", cloner.requests[0].DisplayName)
	assert.Equal(t, "PT_BR", cloner.requests[0].LanguageTag)
	assert.Len(t, cloner.requests[0].Samples, 2)

	bound, ok := binder.get(userID)
	require.True(t, ok)
	assert.Equal(t, "voice-xyz", bound)

	_, active = manager.Active(userID)
	assert.False(t, active)

	assert.NoFileExists(t, second)
}

func TestSubmitNameSanitization(t *testing.T) {
	t.Parallel()

	manager := newTestManager(t, &mockCloner{}, newMockBinder())

	const userID int64 = 7

	manager.Start(userID)

	_, err := manager.SubmitName(userID, "!!")
	require.ErrorIs(t, err, session.ErrNameTooShort)

	// The rejection leaves the session waiting for a name.
	step, active := manager.Active(userID)
	require.True(t, active)
	assert.Equal(t, session.StepName, step)

	name, err := manager.SubmitName(userID, "a_very_long_voice_name_indeed")
	require.NoError(t, err)
	assert.Len(t, name, 20)
}

func TestWrongStepRejections(t *testing.T) {
	t.Parallel()

	manager := newTestManager(t, &mockCloner{}, newMockBinder())

	const userID int64 = 8

	manager.Start(userID)

	_, err := manager.SubmitAudio(userID, "/tmp/nope.ogg")
	require.ErrorIs(t, err, session.ErrWrongStep)

	_, err = manager.SelectLanguage(userID, "en")
	require.ErrorIs(t, err, session.ErrWrongStep)

	_, err = manager.Finish(context.Background(), userID)
	require.ErrorIs(t, err, session.ErrWrongStep)

	// Still at the name step after every rejection.
	step, active := manager.Active(userID)
	require.True(t, active)
	assert.Equal(t, session.StepName, step)
}

func TestNoSession(t *testing.T) {
	t.Parallel()

	manager := newTestManager(t, &mockCloner{}, newMockBinder())

	_, err := manager.SubmitName(99, "Voice")
	require.ErrorIs(t, err, session.ErrNoSession)

	err = manager.Cancel(99)
	require.ErrorIs(t, err, session.ErrNoSession)
}

func TestUnsupportedLanguage(t *testing.T) {
	t.Parallel()

	manager := newTestManager(t, &mockCloner{}, newMockBinder())

	const userID int64 = 9

	manager.Start(userID)

	_, err := manager.SubmitName(userID, "Voice")
	require.NoError(t, err)

	_, err = manager.SelectLanguage(userID, "xx")
	require.ErrorIs(t, err, session.ErrUnsupportedLanguage)

	step, active := manager.Active(userID)
	require.True(t, active)
	assert.Equal(t, session.StepLanguage, step)
}

func TestFinishWithoutAudio(t *testing.T) {
	t.Parallel()

	manager := newTestManager(t, &mockCloner{}, newMockBinder())

	const userID int64 = 10

	manager.Start(userID)

	_, err := manager.SubmitName(userID, "Voice")
	require.NoError(t, err)

	_, err = manager.SelectLanguage(userID, "en")
	require.NoError(t, err)

	_, err = manager.Finish(context.Background(), userID)
	require.ErrorIs(t, err, session.ErrNoAudioStaged)

	// The session survives; the user can still add audio.
	step, active := manager.Active(userID)
	require.True(t, active)
	assert.Equal(t, session.StepAudio, step)
}

func TestCancelRemovesStagedFiles(t *testing.T) {
	t.Parallel()

	manager := newTestManager(t, &mockCloner{}, newMockBinder())

	const userID int64 = 11

	manager.Start(userID)

	_, err := manager.SubmitName(userID, "Voice")
	require.NoError(t, err)

	_, err = manager.SelectLanguage(userID, "en")
	require.NoError(t, err)

	staged := stageFile(t, t.TempDir(), "take.ogg")

	_, err = manager.SubmitAudio(userID, staged)
	require.NoError(t, err)

	require.NoError(t, manager.Cancel(userID))

	assert.NoFileExists(t, staged)

	_, active := manager.Active(userID)
	assert.False(t, active)
}

func TestRestartDiscardsPreviousSession(t *testing.T) {
	t.Parallel()

	manager := newTestManager(t, &mockCloner{}, newMockBinder())

	const userID int64 = 12

	manager.Start(userID)

	_, err := manager.SubmitName(userID, "First")
	require.NoError(t, err)

	_, err = manager.SelectLanguage(userID, "en")
	require.NoError(t, err)

	staged := stageFile(t, t.TempDir(), "old.ogg")

	_, err = manager.SubmitAudio(userID, staged)
	require.NoError(t, err)

	manager.Start(userID)

	assert.NoFileExists(t, staged)

	step, active := manager.Active(userID)
	require.True(t, active)
	assert.Equal(t, session.StepName, step)
}

func TestCloneFailureDiscardsSession(t *testing.T) {
	t.Parallel()

	cloner := &mockCloner{err: &retry.StatusError{Code: 401, Body: "expired"}}
	binder := newMockBinder()
	manager := newTestManager(t, cloner, binder)

	const userID int64 = 13

	manager.Start(userID)

	_, err := manager.SubmitName(userID, "Voice")
	require.NoError(t, err)

	_, err = manager.SelectLanguage(userID, "en")
	require.NoError(t, err)

	staged := stageFile(t, t.TempDir(), "take.ogg")

	_, err = manager.SubmitAudio(userID, staged)
	require.NoError(t, err)

	_, err = manager.Finish(context.Background(), userID)
	require.Error(t, err)

	assert.NoFileExists(t, staged)

	_, active := manager.Active(userID)
	assert.False(t, active)

	_, bound := binder.get(userID)
	assert.False(t, bound)
}

func TestCancelDuringFinishDiscardsResult(t *testing.T) {
	t.Parallel()

	cloner := &mockCloner{voiceID: "voice-late", block: make(chan struct{})}
	binder := newMockBinder()
	manager := newTestManager(t, cloner, binder)

	const userID int64 = 14

	manager.Start(userID)

	_, err := manager.SubmitName(userID, "Voice")
	require.NoError(t, err)

	_, err = manager.SelectLanguage(userID, "en")
	require.NoError(t, err)

	_, err = manager.SubmitAudio(userID, stageFile(t, t.TempDir(), "take.ogg"))
	require.NoError(t, err)

	finishErr := make(chan error, 1)

	go func() {
		_, err := manager.Finish(context.Background(), userID)
		finishErr <- err
	}()

	// Let the finish goroutine enter the clone call, then cancel.
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, manager.Cancel(userID))

	close(cloner.block)

	select {
	case err := <-finishErr:
		require.ErrorIs(t, err, session.ErrCancelledDuringClone)
	case <-time.After(2 * time.Second):
		t.Fatal("finish did not return after cancel")
	}

	_, bound := binder.get(userID)
	assert.False(t, bound)
}
