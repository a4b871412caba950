// Package bot dispatches inbound chat events to the right subsystem. The
// chat transport itself lives outside this module; it routes updates into
// these handlers and delivers replies through core.Delivery.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/voxkit/tts-bot/internal/catalog"
	"github.com/voxkit/tts-bot/internal/core"
	"github.com/voxkit/tts-bot/internal/credential"
	"github.com/voxkit/tts-bot/internal/session"
	"github.com/voxkit/tts-bot/internal/stats"
	"github.com/voxkit/tts-bot/internal/userstate"
)

// Button payload prefixes. The transport echoes these back on presses.
const (
	voicePayloadPrefix = "voice:"
	langPayloadPrefix  = "lang:"
)

// User-facing prompts.
const (
	msgHelp = `I turn text into speech.

Send me any text and I will reply with an audio file.

Commands:
/voices [language] - list available voices
/clone - clone a new voice from your recordings
/finish - complete the cloning session
/cancel - abandon the cloning session
/token <jwt> - set an access token manually
/refresh - refresh the access token
/stats - session statistics`
	msgEmptyText       = "Send me some text and I will voice it."
	msgTruncated       = "Your text was longer than %d characters, so I shortened it."
	msgNoVoices        = "No voices are available right now. Try again later."
	msgVoiceSelected   = "Voice set to %s."
	msgAskName         = "Let's clone a voice. First, send me a name for it (letters, digits and underscores)."
	msgAskLanguage     = "Saved as %q. Now pick the language of your recordings:\n%s"
	msgAskAudio        = "Got it, %q. Now send me voice recordings. When you are done, send /finish."
	msgAudioStaged     = "Recording %d staged. Send more or /finish."
	msgAudioOutside    = "I only use voice recordings during cloning. Send /clone to start."
	msgFinishNoAudio   = "Add at least one recording before /finish."
	msgCloneDone       = "Your voice %q is ready and now active. Send me text to hear it."
	msgNothingToCancel = "There is nothing to cancel."
	msgNoCloneSession  = "You are not cloning a voice. Send /clone to start."
	msgCancelled       = "Cloning cancelled."
	msgTokenUsage      = "Usage: /token <jwt>"
	msgTokenAccepted   = "Token accepted."
	msgTokenRejected   = "That does not look like a valid token."
	msgRefreshDone     = "Token refreshed."
	msgUnknownCommand  = "I do not know that command. Send /help."
	msgNameRejected    = "That name will not work: it must keep at least 2 letters, digits or underscores. Try another."
	msgBadLanguage     = "I do not support that language. Pick one of:\n%s"
	msgSessionStep     = "You are in the middle of cloning. Send a recording, /finish or /cancel."
)

// Enqueuer is the intake side of the job queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, job core.Job) (int, error)
}

// Options carries the handler limits.
type Options struct {
	MaxTextChars int
}

// Handlers wires the chat-facing operations to the internal subsystems.
type Handlers struct {
	sessions   *session.Manager
	voices     *catalog.Cache
	credential *credential.Manager
	prefs      *userstate.Store
	queue      Enqueuer
	counters   *stats.Counters
	delivery   core.Delivery
	opts       Options
	log        *logger.Logger
	now        func() time.Time
}

// New creates the dispatch layer.
func New(
	sessions *session.Manager,
	voices *catalog.Cache,
	cred *credential.Manager,
	prefs *userstate.Store,
	queue Enqueuer,
	counters *stats.Counters,
	delivery core.Delivery,
	opts Options,
	log *logger.Logger,
) *Handlers {
	return &Handlers{
		sessions:   sessions,
		voices:     voices,
		credential: cred,
		prefs:      prefs,
		queue:      queue,
		counters:   counters,
		delivery:   delivery,
		opts:       opts,
		log:        log,
		now:        time.Now,
	}
}

// OnTextMessage routes plain text. While a clone session is active the text
// feeds the workflow; otherwise it is a generation request.
func (h *Handlers) OnTextMessage(ctx context.Context, userID int64, text string) error {
	if step, active := h.sessions.Active(userID); active {
		return h.handleSessionText(ctx, userID, step, text)
	}

	return h.handleGenerationRequest(ctx, userID, text)
}

// OnCommand routes a slash command. The leading slash is already stripped.
func (h *Handlers) OnCommand(ctx context.Context, userID int64, command, args string) error {
	switch command {
	case "start", "help":
		return h.delivery.DeliverText(ctx, userID, msgHelp)
	case "voices":
		return h.handleVoices(ctx, userID, args)
	case "clone":
		h.sessions.Start(userID)

		return h.delivery.DeliverText(ctx, userID, msgAskName)
	case "finish":
		return h.handleFinish(ctx, userID)
	case "cancel":
		return h.handleCancel(ctx, userID)
	case "token":
		return h.handleToken(ctx, userID, args)
	case "refresh":
		return h.handleRefresh(ctx, userID)
	case "stats":
		return h.delivery.DeliverText(ctx, userID, h.counters.Report())
	default:
		return h.delivery.DeliverText(ctx, userID, msgUnknownCommand)
	}
}

// OnAudioUpload handles a voice recording the transport already staged to
// disk. Outside a cloning session recordings are not used.
func (h *Handlers) OnAudioUpload(ctx context.Context, userID int64, path string) error {
	count, err := h.sessions.SubmitAudio(userID, path)
	if err != nil {
		if errors.Is(err, session.ErrNoSession) {
			return h.delivery.DeliverText(ctx, userID, msgAudioOutside)
		}

		return h.delivery.DeliverText(ctx, userID, msgSessionStep)
	}

	return h.delivery.DeliverText(ctx, userID, fmt.Sprintf(msgAudioStaged, count))
}

// OnButtonPress handles an inline selection button.
func (h *Handlers) OnButtonPress(ctx context.Context, userID int64, payload string) error {
	switch {
	case strings.HasPrefix(payload, voicePayloadPrefix):
		voiceID := strings.TrimPrefix(payload, voicePayloadPrefix)

		err := h.prefs.SetVoice(userID, voiceID)
		if err != nil {
			h.log.Error("Failed to store voice choice for user %d: %v", userID, err)
		}

		return h.delivery.DeliverText(ctx, userID, fmt.Sprintf(msgVoiceSelected, voiceID))
	case strings.HasPrefix(payload, langPayloadPrefix):
		code := strings.TrimPrefix(payload, langPayloadPrefix)

		return h.handleLanguageChoice(ctx, userID, code)
	default:
		h.log.Warn("Ignoring unknown button payload %q from user %d", payload, userID)

		return nil
	}
}

func (h *Handlers) handleGenerationRequest(ctx context.Context, userID int64, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return h.delivery.DeliverText(ctx, userID, msgEmptyText)
	}

	runes := []rune(text)
	if len(runes) > h.opts.MaxTextChars {
		text = string(runes[:h.opts.MaxTextChars])

		err := h.delivery.DeliverText(ctx, userID, fmt.Sprintf(msgTruncated, h.opts.MaxTextChars))
		if err != nil {
			h.log.Warn("Failed to deliver truncation warning to user %d: %v", userID, err)
		}
	}

	prefs := h.prefs.Get(userID)

	position, err := h.queue.Enqueue(ctx, core.Job{
		RequesterID:  userID,
		Text:         text,
		VoiceID:      prefs.VoiceID,
		ModelID:      prefs.ModelID,
		SpeakingRate: prefs.SpeakingRate,
		Pitch:        prefs.Pitch,
		SubmittedAt:  h.now(),
	})
	if err != nil {
		h.log.Error("Failed to enqueue job for user %d: %v", userID, err)

		return h.delivery.DeliverText(ctx, userID, core.UserFacingMessage(err))
	}

	return h.delivery.ReportProgress(ctx, userID, position)
}

func (h *Handlers) handleSessionText(ctx context.Context, userID int64, step session.Step, text string) error {
	switch step {
	case session.StepName:
		name, err := h.sessions.SubmitName(userID, text)
		if err != nil {
			return h.delivery.DeliverText(ctx, userID, msgNameRejected)
		}

		return h.delivery.DeliverText(ctx, userID,
			fmt.Sprintf(msgAskLanguage, name, languageMenu()))
	case session.StepLanguage:
		return h.handleLanguageChoice(ctx, userID, text)
	case session.StepAudio:
		return h.delivery.DeliverText(ctx, userID, msgSessionStep)
	default:
		return h.delivery.DeliverText(ctx, userID, msgSessionStep)
	}
}

func (h *Handlers) handleLanguageChoice(ctx context.Context, userID int64, code string) error {
	lang, err := h.sessions.SelectLanguage(userID, code)
	if err != nil {
		if errors.Is(err, session.ErrUnsupportedLanguage) {
			return h.delivery.DeliverText(ctx, userID,
				fmt.Sprintf(msgBadLanguage, languageMenu()))
		}

		return h.delivery.DeliverText(ctx, userID, msgSessionStep)
	}

	return h.delivery.DeliverText(ctx, userID, fmt.Sprintf(msgAskAudio, lang.DisplayName))
}

func (h *Handlers) handleVoices(ctx context.Context, userID int64, args string) error {
	languageFilter := ""

	fields := strings.Fields(args)
	if len(fields) > 0 {
		languageFilter = fields[0]
	}

	voices := h.voices.List(ctx, languageFilter)
	if len(voices) == 0 {
		return h.delivery.DeliverText(ctx, userID, msgNoVoices)
	}

	var builder strings.Builder

	builder.WriteString("Available voices (tap /help for selection buttons):\n")

	for _, voice := range voices {
		fmt.Fprintf(&builder, "- %s (%s) [%s%s]\n",
			voice.DisplayName, strings.Join(voice.Languages, ", "),
			voicePayloadPrefix, voice.VoiceID)
	}

	return h.delivery.DeliverText(ctx, userID, builder.String())
}

func (h *Handlers) handleFinish(ctx context.Context, userID int64) error {
	voiceID, err := h.sessions.Finish(ctx, userID)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrNoSession):
			return h.delivery.DeliverText(ctx, userID, msgNoCloneSession)
		case errors.Is(err, session.ErrNoAudioStaged):
			return h.delivery.DeliverText(ctx, userID, msgFinishNoAudio)
		case errors.Is(err, session.ErrWrongStep):
			return h.delivery.DeliverText(ctx, userID, msgSessionStep)
		case errors.Is(err, session.ErrCancelledDuringClone):
			return nil
		default:
			return h.delivery.DeliverText(ctx, userID, core.UserFacingMessage(err))
		}
	}

	return h.delivery.DeliverText(ctx, userID, fmt.Sprintf(msgCloneDone, voiceID))
}

func (h *Handlers) handleCancel(ctx context.Context, userID int64) error {
	err := h.sessions.Cancel(userID)
	if err != nil {
		return h.delivery.DeliverText(ctx, userID, msgNothingToCancel)
	}

	return h.delivery.DeliverText(ctx, userID, msgCancelled)
}

func (h *Handlers) handleToken(ctx context.Context, userID int64, args string) error {
	token := strings.TrimSpace(args)
	if token == "" {
		return h.delivery.DeliverText(ctx, userID, msgTokenUsage)
	}

	err := h.credential.SetManual(token)
	if err != nil {
		return h.delivery.DeliverText(ctx, userID, msgTokenRejected)
	}

	return h.delivery.DeliverText(ctx, userID, msgTokenAccepted)
}

func (h *Handlers) handleRefresh(ctx context.Context, userID int64) error {
	err := h.credential.Refresh(ctx)
	if err != nil {
		h.log.Error("Manual refresh for user %d failed: %v", userID, err)

		return h.delivery.DeliverText(ctx, userID, core.UserFacingMessage(err))
	}

	return h.delivery.DeliverText(ctx, userID, msgRefreshDone)
}

func languageMenu() string {
	var builder strings.Builder

	for _, lang := range catalog.SupportedLanguages() {
		fmt.Fprintf(&builder, "- %s (%s%s)\n", lang.DisplayName, langPayloadPrefix, lang.Code)
	}

	return builder.String()
}
