// Package session drives the multi-step voice cloning workflow. Each user
// has at most one live session, advanced by successive independent messages:
// Name, then Language, then one or more Audio uploads, then Finish.
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/voxkit/tts-bot/internal/catalog"
	"github.com/voxkit/tts-bot/internal/inworld"
	"github.com/voxkit/tts-bot/internal/retry"
)

// Step is the current position inside the cloning workflow. There are no
// backward transitions except via cancel or restart.
type Step int

const (
	// StepName waits for the voice name.
	StepName Step = iota
	// StepLanguage waits for the language selection.
	StepLanguage
	// StepAudio accumulates reference recordings.
	StepAudio
)

// String returns the user-facing step name.
func (s Step) String() string {
	switch s {
	case StepName:
		return "name"
	case StepLanguage:
		return "language"
	case StepAudio:
		return "audio"
	default:
		return "unknown"
	}
}

// Name constraints.
const (
	maxNameLength = 20
	minNameLength = 2
)

const cloneDescription = "Voice cloned from user recordings"

// Static errors.
var (
	// ErrNoSession signals the user is not in a cloning flow, so the
	// caller can route the message elsewhere.
	ErrNoSession = errors.New("no cloning session in progress")
	// ErrWrongStep rejects an event the current step does not accept.
	ErrWrongStep = errors.New("not expected at this step")
	// ErrNameTooShort rejects names that sanitize below two characters.
	ErrNameTooShort = errors.New("name must keep at least 2 letters, digits or underscores")
	// ErrUnsupportedLanguage rejects codes outside the fixed set.
	ErrUnsupportedLanguage = errors.New("unsupported language")
	// ErrNoAudioStaged rejects finishing before any recording was added.
	ErrNoAudioStaged = errors.New("add at least one audio recording before finishing")
	// ErrCancelledDuringClone reports a finish whose session was cancelled
	// while the clone call was in flight; the result is discarded.
	ErrCancelledDuringClone = errors.New("session was cancelled during cloning")
)

// Cloner is the slice of the TTS client the workflow needs.
type Cloner interface {
	CloneVoice(ctx context.Context, req inworld.CloneRequest) (string, int, error)
}

// Refresher brings an expired credential back to life before the clone
// call. May be nil.
type Refresher interface {
	EnsureFresh(ctx context.Context) error
}

// VoiceBinder records the created voice as the user's active voice.
type VoiceBinder interface {
	SetVoice(userID int64, voiceID string) error
}

type state struct {
	step        Step
	name        string
	languageTag string
	stagedFiles []string
	generation  uint64
}

// Manager owns the per-user session map.
type Manager struct {
	mu         sync.Mutex
	sessions   map[int64]*state
	generation uint64

	cloner       Cloner
	refresher    Refresher
	executor     *retry.Executor
	policy       retry.Policy
	binder       VoiceBinder
	cloneTimeout time.Duration
	log          *logger.Logger
}

// NewManager creates an empty session map.
func NewManager(
	cloner Cloner,
	refresher Refresher,
	executor *retry.Executor,
	policy retry.Policy,
	binder VoiceBinder,
	cloneTimeout time.Duration,
	log *logger.Logger,
) *Manager {
	return &Manager{
		sessions:     make(map[int64]*state),
		cloner:       cloner,
		refresher:    refresher,
		executor:     executor,
		policy:       policy,
		binder:       binder,
		cloneTimeout: cloneTimeout,
		log:          log,
	}
}

// Start begins a new session for the user, discarding any existing one and
// its staged files first.
func (m *Manager) Start(userID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.sessions[userID]; ok {
		m.removeFiles(existing.stagedFiles)
	}

	m.generation++
	m.sessions[userID] = &state{step: StepName, generation: m.generation}

	m.log.Info("Clone session started for user %d", userID)
}

// Active reports whether the user has a session and at which step.
func (m *Manager) Active(userID int64) (Step, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[userID]
	if !ok {
		return 0, false
	}

	return session.step, true
}

// SubmitName stores the sanitized voice name and advances to the language
// step. Rejections leave the session unchanged.
func (m *Manager) SubmitName(userID int64, raw string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[userID]
	if !ok {
		return "", ErrNoSession
	}

	if session.step != StepName {
		return "", fmt.Errorf("name %w (expecting %s)", ErrWrongStep, session.step)
	}

	name := sanitizeName(raw)
	if len(name) < minNameLength {
		return "", ErrNameTooShort
	}

	session.name = name
	session.step = StepLanguage

	return name, nil
}

// SelectLanguage stores the provider tag for a supported language code and
// advances to the audio step.
func (m *Manager) SelectLanguage(userID int64, code string) (catalog.Language, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[userID]
	if !ok {
		return catalog.Language{}, ErrNoSession
	}

	if session.step != StepLanguage {
		return catalog.Language{}, fmt.Errorf("language %w (expecting %s)", ErrWrongStep, session.step)
	}

	lang, supported := catalog.LookupLanguage(code)
	if !supported {
		return catalog.Language{}, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, code)
	}

	session.languageTag = lang.ProviderTag
	session.step = StepAudio

	return lang, nil
}

// SubmitAudio stages one reference recording. The step does not change;
// recordings accumulate until Finish.
func (m *Manager) SubmitAudio(userID int64, path string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[userID]
	if !ok {
		return 0, ErrNoSession
	}

	if session.step != StepAudio {
		return 0, fmt.Errorf("audio %w (expecting %s)", ErrWrongStep, session.step)
	}

	session.stagedFiles = append(session.stagedFiles, path)

	return len(session.stagedFiles), nil
}

// Finish performs the clone call with the accumulated name, language tag and
// recordings. On success the created voice becomes the user's active voice.
// In both outcomes the staged files are deleted and the session discarded.
//
// A Cancel issued while the clone call is in flight is honored: the result
// is discarded and no bookkeeping runs.
func (m *Manager) Finish(ctx context.Context, userID int64) (string, error) {
	m.mu.Lock()

	session, ok := m.sessions[userID]
	if !ok {
		m.mu.Unlock()

		return "", ErrNoSession
	}

	if session.step != StepAudio {
		m.mu.Unlock()

		return "", fmt.Errorf("finish %w (expecting %s)", ErrWrongStep, session.step)
	}

	if len(session.stagedFiles) == 0 {
		m.mu.Unlock()

		return "", ErrNoAudioStaged
	}

	name := session.name
	languageTag := session.languageTag
	files := append([]string(nil), session.stagedFiles...)
	generation := session.generation

	m.mu.Unlock()

	samples, err := loadSamples(files)
	if err != nil {
		m.discard(userID, generation)

		return "", err
	}

	cloneCtx, cancel := context.WithTimeout(ctx, m.cloneTimeout)
	defer cancel()

	if m.refresher != nil {
		refreshErr := m.refresher.EnsureFresh(cloneCtx)
		if refreshErr != nil {
			m.discard(userID, generation)

			return "", refreshErr
		}
	}

	voiceID, cloneErr := retry.Do(cloneCtx, m.executor, m.policy, retry.ClassifyStatus,
		func(ctx context.Context) (string, int, error) {
			return m.cloner.CloneVoice(ctx, inworld.CloneRequest{
				DisplayName: name,
				LanguageTag: languageTag,
				Description: cloneDescription,
				Samples:     samples,
			})
		})

	// The user may have cancelled while the call was in flight; in that
	// case the session (and its files) are already gone and the result is
	// dropped on the floor.
	if !m.discard(userID, generation) {
		m.log.Warn("Clone finished for user %d after cancel, discarding result", userID)

		return "", ErrCancelledDuringClone
	}

	if cloneErr != nil {
		return "", cloneErr
	}

	bindErr := m.binder.SetVoice(userID, voiceID)
	if bindErr != nil {
		m.log.Error("Failed to bind cloned voice %s to user %d: %v", voiceID, userID, bindErr)
	}

	m.log.Info("Voice %s cloned for user %d", voiceID, userID)

	return voiceID, nil
}

// Cancel discards the session and its staged files from any non-idle state.
func (m *Manager) Cancel(userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[userID]
	if !ok {
		return ErrNoSession
	}

	m.removeFiles(session.stagedFiles)
	delete(m.sessions, userID)

	m.log.Info("Clone session cancelled for user %d", userID)

	return nil
}

// discard removes the session and its files if it is still the same session
// that started the finish. It reports whether the session was still live.
func (m *Manager) discard(userID int64, generation uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[userID]
	if !ok || session.generation != generation {
		return false
	}

	m.removeFiles(session.stagedFiles)
	delete(m.sessions, userID)

	return true
}

func (m *Manager) removeFiles(paths []string) {
	for _, path := range paths {
		err := os.Remove(path)
		if err != nil && !os.IsNotExist(err) {
			m.log.Warn("Failed to remove staged file %s: %v", path, err)
		}
	}
}

func loadSamples(paths []string) ([]inworld.CloneSample, error) {
	samples := make([]inworld.CloneSample, 0, len(paths))

	for _, path := range paths {
		audio, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read staged recording %s: %w", path, err)
		}

		samples = append(samples, inworld.CloneSample{
			Title: filepath.Base(path),
			Audio: audio,
		})
	}

	return samples, nil
}

// sanitizeName keeps letters, digits and underscores and truncates to the
// maximum length.
func sanitizeName(raw string) string {
	var builder strings.Builder

	for _, r := range raw {
		if builder.Len() >= maxNameLength {
			break
		}

		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			builder.WriteRune(r)
		}
	}

	return builder.String()
}
