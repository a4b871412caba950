package bot_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/logger"
	"github.com/voxkit/tts-bot/internal/bot"
	"github.com/voxkit/tts-bot/internal/catalog"
	"github.com/voxkit/tts-bot/internal/core"
	"github.com/voxkit/tts-bot/internal/credential"
	"github.com/voxkit/tts-bot/internal/inworld"
	"github.com/voxkit/tts-bot/internal/retry"
	"github.com/voxkit/tts-bot/internal/session"
	"github.com/voxkit/tts-bot/internal/stats"
	"github.com/voxkit/tts-bot/internal/userstate"
)

const maxTestTextChars = 50

type mockDelivery struct {
	mu       sync.Mutex
	texts    []string
	progress []int
}

func (m *mockDelivery) DeliverArtifact(context.Context, int64, string, string) error {
	return nil
}

func (m *mockDelivery) DeliverText(_ context.Context, _ int64, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.texts = append(m.texts, message)

	return nil
}

func (m *mockDelivery) ReportProgress(_ context.Context, _ int64, position int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.progress = append(m.progress, position)

	return nil
}

func (m *mockDelivery) lastText(t *testing.T) string {
	t.Helper()

	m.mu.Lock()
	defer m.mu.Unlock()

	require.NotEmpty(t, m.texts)

	return m.texts[len(m.texts)-1]
}

type mockEnqueuer struct {
	mu    sync.Mutex
	jobs  []core.Job
	depth int
	err   error
}

func (m *mockEnqueuer) Enqueue(_ context.Context, job core.Job) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return 0, m.err
	}

	m.jobs = append(m.jobs, job)

	return m.depth, nil
}

type mockLister struct {
	voices []core.Voice
}

func (m *mockLister) ListVoices(context.Context, string) ([]core.Voice, int, error) {
	return m.voices, 0, nil
}

type mockCloner struct {
	voiceID string
}

func (m *mockCloner) CloneVoice(context.Context, inworld.CloneRequest) (string, int, error) {
	return m.voiceID, 0, nil
}

type fixture struct {
	handlers *bot.Handlers
	delivery *mockDelivery
	enqueuer *mockEnqueuer
	prefs    *userstate.Store
}

func newFixture(t *testing.T, voices []core.Voice) *fixture {
	t.Helper()

	log, err := logger.New(t.TempDir(), "bot-test.log")
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	counters := stats.New()
	executor := retry.NewExecutorWithSleep(
		counters, log, func(context.Context, time.Duration) error { return nil },
	)
	policy := retry.Policy{MaxAttempts: 1, BackoffBase: 2.0, Unit: time.Millisecond}

	prefs, err := userstate.Open("", userstate.Preferences{
		VoiceID:      "default-voice",
		ModelID:      "inworld-tts-1",
		SpeakingRate: 1.0,
		Pitch:        0.0,
	}, log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = prefs.Close() })

	sessions := session.NewManager(
		&mockCloner{voiceID: "cloned-1"}, nil, executor, policy, prefs, 5*time.Second, log,
	)
	cache := catalog.New(&mockLister{voices: voices}, nil, executor, policy, time.Minute, log)
	cred := credential.NewManager(credential.Config{}, "", "", log)
	delivery := &mockDelivery{}
	enqueuer := &mockEnqueuer{}

	handlers := bot.New(sessions, cache, cred, prefs, enqueuer, counters, delivery,
		bot.Options{MaxTextChars: maxTestTextChars}, log)

	return &fixture{
		handlers: handlers,
		delivery: delivery,
		enqueuer: enqueuer,
		prefs:    prefs,
	}
}

func TestTextMessageEnqueuesGeneration(t *testing.T) {
	t.Parallel()

	fix := newFixture(t, nil)
	fix.enqueuer.depth = 2

	err := fix.handlers.OnTextMessage(context.Background(), 1, "hello world")
	require.NoError(t, err)

	require.Len(t, fix.enqueuer.jobs, 1)
	job := fix.enqueuer.jobs[0]
	assert.Equal(t, int64(1), job.RequesterID)
	assert.Equal(t, "hello world", job.Text)
	assert.Equal(t, "default-voice", job.VoiceID)
	assert.Equal(t, "inworld-tts-1", job.ModelID)

	require.Len(t, fix.delivery.progress, 1)
	assert.Equal(t, 2, fix.delivery.progress[0])
}

func TestTextMessageTruncatesLongText(t *testing.T) {
	t.Parallel()

	fix := newFixture(t, nil)

	long := strings.Repeat("a", maxTestTextChars+10)

	err := fix.handlers.OnTextMessage(context.Background(), 1, long)
	require.NoError(t, err)

	require.Len(t, fix.enqueuer.jobs, 1)
	assert.Len(t, fix.enqueuer.jobs[0].Text, maxTestTextChars)
	assert.Contains(t, fix.delivery.texts[0], "shortened")
}

func TestEmptyTextIsNotEnqueued(t *testing.T) {
	t.Parallel()

	fix := newFixture(t, nil)

	err := fix.handlers.OnTextMessage(context.Background(), 1, "   ")
	require.NoError(t, err)

	assert.Empty(t, fix.enqueuer.jobs)
	assert.Contains(t, fix.delivery.lastText(t), "Send me some text")
}

func TestCloneFlowThroughHandlers(t *testing.T) {
	t.Parallel()

	fix := newFixture(t, nil)
	ctx := context.Background()

	const userID int64 = 5

	require.NoError(t, fix.handlers.OnCommand(ctx, userID, "clone", ""))
	assert.Contains(t, fix.delivery.lastText(t), "send me a name")

	// Text now feeds the session instead of generating speech.
	require.NoError(t, fix.handlers.OnTextMessage(ctx, userID, "My Voice!!"))
	assert.Empty(t, fix.enqueuer.jobs)
	assert.Contains(t, fix.delivery.lastText(t), `"MyVoice"`)

	require.NoError(t, fix.handlers.OnButtonPress(ctx, userID, "lang:pt"))
	assert.Contains(t, fix.delivery.lastText(t), "recordings")

	staged := filepath.Join(t.TempDir(), "take.ogg")
	require.NoError(t, os.WriteFile(staged, []byte("ogg"), 0o600))

	require.NoError(t, fix.handlers.OnAudioUpload(ctx, userID, staged))
	assert.Contains(t, fix.delivery.lastText(t), "Recording 1 staged")

	require.NoError(t, fix.handlers.OnCommand(ctx, userID, "finish", ""))
	assert.Contains(t, fix.delivery.lastText(t), `"cloned-1"`)

	// The cloned voice is now the user's active voice.
	assert.Equal(t, "cloned-1", fix.prefs.Get(userID).VoiceID)
}

func TestRejectedNameKeepsPrompting(t *testing.T) {
	t.Parallel()

	fix := newFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, fix.handlers.OnCommand(ctx, 6, "clone", ""))
	require.NoError(t, fix.handlers.OnTextMessage(ctx, 6, "!!"))

	assert.Contains(t, fix.delivery.lastText(t), "will not work")
}

func TestAudioUploadOutsideSession(t *testing.T) {
	t.Parallel()

	fix := newFixture(t, nil)

	err := fix.handlers.OnAudioUpload(context.Background(), 7, "/tmp/ignored.ogg")
	require.NoError(t, err)

	assert.Contains(t, fix.delivery.lastText(t), "/clone")
}

func TestVoiceButtonStoresPreference(t *testing.T) {
	t.Parallel()

	fix := newFixture(t, nil)

	err := fix.handlers.OnButtonPress(context.Background(), 8, "voice:ashley")
	require.NoError(t, err)

	assert.Equal(t, "ashley", fix.prefs.Get(8).VoiceID)
	assert.Contains(t, fix.delivery.lastText(t), "ashley")
}

func TestVoicesCommand(t *testing.T) {
	t.Parallel()

	fix := newFixture(t, []core.Voice{
		{VoiceID: "ashley", DisplayName: "Ashley", Languages: []string{"EN_US"}},
		{VoiceID: "joao", DisplayName: "Joao", Languages: []string{"PT_BR"}},
	})

	err := fix.handlers.OnCommand(context.Background(), 9, "voices", "")
	require.NoError(t, err)

	listing := fix.delivery.lastText(t)
	assert.Contains(t, listing, "Ashley")
	assert.Contains(t, listing, "voice:joao")
}

func TestVoicesCommandEmptyCatalog(t *testing.T) {
	t.Parallel()

	fix := newFixture(t, nil)

	err := fix.handlers.OnCommand(context.Background(), 10, "voices", "")
	require.NoError(t, err)

	assert.Contains(t, fix.delivery.lastText(t), "No voices")
}

func TestTokenCommand(t *testing.T) {
	t.Parallel()

	fix := newFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, fix.handlers.OnCommand(ctx, 11, "token", ""))
	assert.Contains(t, fix.delivery.lastText(t), "Usage")

	require.NoError(t, fix.handlers.OnCommand(ctx, 11, "token", "garbage"))
	assert.Contains(t, fix.delivery.lastText(t), "does not look like")

	require.NoError(t, fix.handlers.OnCommand(ctx, 11, "token", makeJWT(t, time.Now().Add(2*time.Hour))))
	assert.Contains(t, fix.delivery.lastText(t), "accepted")
}

func TestUnknownCommand(t *testing.T) {
	t.Parallel()

	fix := newFixture(t, nil)

	err := fix.handlers.OnCommand(context.Background(), 12, "dance", "")
	require.NoError(t, err)

	assert.Contains(t, fix.delivery.lastText(t), "/help")
}

func TestStatsCommand(t *testing.T) {
	t.Parallel()

	fix := newFixture(t, nil)

	err := fix.handlers.OnCommand(context.Background(), 13, "stats", "")
	require.NoError(t, err)

	assert.Contains(t, fix.delivery.lastText(t), "SESSION STATISTICS")
}

func makeJWT(t *testing.T, expiry time.Time) string {
	t.Helper()

	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none"}`))

	payload, err := json.Marshal(map[string]int64{"exp": expiry.Unix()})
	require.NoError(t, err)

	return fmt.Sprintf("%s.%s.sig",
		header, base64.RawURLEncoding.EncodeToString(payload))
}
