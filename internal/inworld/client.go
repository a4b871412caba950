// Package inworld provides the HTTP client for the Inworld TTS service:
// voice catalog listing, speech generation and voice cloning.
package inworld

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/voxkit/tts-bot/internal/core"
	"github.com/voxkit/tts-bot/internal/retry"
)

// API paths.
const (
	pathSynthesize = "/tts/v1/voice"
	pathVoices     = "/voices/v1/workspaces/%s/voices"
	pathCloneVoice = "/voices/v1/workspaces/%s/voices:clone"
)

// HTTP headers. The browser-shaped values keep traffic indistinguishable
// from the platform's own web client.
const (
	headerContentType   = "Content-Type"
	headerAccept        = "Accept"
	headerAuthorization = "Authorization"
	headerUserAgent     = "User-Agent"
	headerOrigin        = "Origin"
	headerReferer       = "Referer"

	contentTypeJSON = "application/json"
	acceptAny       = "application/json, text/plain, */*"
	originPlatform  = "https://platform.inworld.ai"
	refererPlatform = "https://platform.inworld.ai/"

	audioEncodingMP3 = "MP3"
)

// Humanizing pause bounds applied before every call.
const (
	pauseMin = 500 * time.Millisecond
	pauseMax = 1500 * time.Millisecond
)

// Static errors.
var (
	ErrEmptyText      = errors.New("text cannot be empty")
	ErrEmptyVoice     = errors.New("voice id cannot be empty")
	ErrNoAudioContent = errors.New("response JSON has no audioContent field")
	ErrEmptyAudio     = errors.New("received empty audio data")
	ErrNoSamples      = errors.New("clone request needs at least one sample")
	ErrNoVoiceCreated = errors.New("clone response has no voice identifier")
)

// userAgents is rotated per request.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/144.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/143.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/144.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/144.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:128.0) Gecko/20100101 Firefox/128.0",
}

// AuthHeaderSource supplies the Authorization header for each call. The
// credential manager satisfies this.
type AuthHeaderSource interface {
	AuthorizationHeader() string
}

// PauseFunc suspends for a random duration inside [min, max].
type PauseFunc func(min, max time.Duration)

// Client talks to the TTS service endpoints.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	workspaceID string
	auth        AuthHeaderSource
	pause       PauseFunc
}

// NewClient creates a client for the given API base URL and workspace. The
// timeout applies to synthesis calls; cloning uses its own per-call context.
func NewClient(baseURL, workspaceID string, auth AuthHeaderSource, timeout time.Duration) *Client {
	return &Client{
		httpClient:  &http.Client{Timeout: timeout},
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		workspaceID: workspaceID,
		auth:        auth,
		pause:       humanPause,
	}
}

// NewClientWithPause creates a client with a custom pacing function. This
// constructor is primarily for tests, which must not sleep.
func NewClientWithPause(
	baseURL, workspaceID string,
	auth AuthHeaderSource,
	timeout time.Duration,
	pause PauseFunc,
) *Client {
	client := NewClient(baseURL, workspaceID, auth, timeout)
	client.pause = pause

	return client
}

// SynthesisRequest describes one generation call.
type SynthesisRequest struct {
	Text            string
	VoiceID         string
	ModelID         string
	SpeakingRate    float64
	Pitch           float64
	SampleRateHertz int
	Temperature     float64
}

// synthesisPayload is the wire shape of a generation call.
type synthesisPayload struct {
	Text        string      `json:"text"`
	VoiceID     string      `json:"voice_id"`
	ModelID     string      `json:"model_id"`
	AudioConfig audioConfig `json:"audio_config"`
	Temperature float64     `json:"temperature"`
}

type audioConfig struct {
	AudioEncoding   string  `json:"audio_encoding"`
	SpeakingRate    float64 `json:"speaking_rate"`
	Pitch           float64 `json:"pitch"`
	SampleRateHertz int     `json:"sample_rate_hertz"`
}

// audioEnvelope is the JSON response variant carrying base64 audio.
type audioEnvelope struct {
	AudioContent string `json:"audioContent"`
}

// Synthesize performs one generation call and returns the decoded audio
// bytes plus the raw transfer size. The service answers either with a JSON
// envelope containing base64 audio or with a raw binary body, distinguished
// by content type.
func (c *Client) Synthesize(ctx context.Context, req SynthesisRequest) ([]byte, int, error) {
	if req.Text == "" {
		return nil, 0, ErrEmptyText
	}

	if req.VoiceID == "" {
		return nil, 0, ErrEmptyVoice
	}

	payload := synthesisPayload{
		Text:    req.Text,
		VoiceID: req.VoiceID,
		ModelID: req.ModelID,
		AudioConfig: audioConfig{
			AudioEncoding:   audioEncodingMP3,
			SpeakingRate:    req.SpeakingRate,
			Pitch:           req.Pitch,
			SampleRateHertz: req.SampleRateHertz,
		},
		Temperature: req.Temperature,
	}

	body, contentType, err := c.post(ctx, c.baseURL+pathSynthesize, payload)
	if err != nil {
		return nil, 0, err
	}

	audio, err := decodeAudioBody(body, contentType)
	if err != nil {
		return nil, len(body), err
	}

	return audio, len(body), nil
}

// ListVoices fetches the workspace's voice catalog, optionally filtered by
// language code on the server side.
func (c *Client) ListVoices(ctx context.Context, languageFilter string) ([]core.Voice, int, error) {
	endpoint := c.baseURL + fmt.Sprintf(pathVoices, c.workspaceID)

	if languageFilter != "" {
		endpoint += "?filter=" + url.QueryEscape("language="+languageFilter)
	}

	c.pause(pauseMin, pauseMax)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create voices request: %w", err)
	}

	c.setHeaders(httpReq)

	body, _, err := c.do(httpReq)
	if err != nil {
		return nil, 0, err
	}

	var catalog struct {
		Voices []core.Voice `json:"voices"`
	}

	err = json.Unmarshal(body, &catalog)
	if err != nil {
		return nil, len(body), fmt.Errorf("failed to parse voices response: %w", err)
	}

	return catalog.Voices, len(body), nil
}

// CloneSample is one reference recording for voice cloning.
type CloneSample struct {
	Title string `json:"title"`
	Audio []byte `json:"-"`
}

// CloneRequest describes one voice cloning call.
type CloneRequest struct {
	DisplayName string
	LanguageTag string
	Description string
	Samples     []CloneSample
}

// clonePayload is the wire shape of a clone call.
type clonePayload struct {
	Parent      string        `json:"parent"`
	DisplayName string        `json:"displayName"`
	LanguageTag string        `json:"languageTag"`
	Description string        `json:"description,omitempty"`
	Samples     []cloneSample `json:"samples"`
}

type cloneSample struct {
	Title       string `json:"title"`
	Base64Audio string `json:"base64Audio"`
}

// cloneResponse carries the created voice.
type cloneResponse struct {
	VoiceID     string `json:"voiceId"`
	DisplayName string `json:"displayName"`
}

// CloneVoice performs the long-running clone call and returns the created
// voice identifier. Callers must pass a context sized for multi-minute
// latency.
func (c *Client) CloneVoice(ctx context.Context, req CloneRequest) (string, int, error) {
	if len(req.Samples) == 0 {
		return "", 0, ErrNoSamples
	}

	payload := clonePayload{
		Parent:      "workspaces/" + c.workspaceID,
		DisplayName: req.DisplayName,
		LanguageTag: req.LanguageTag,
		Description: req.Description,
		Samples:     make([]cloneSample, 0, len(req.Samples)),
	}

	for _, sample := range req.Samples {
		payload.Samples = append(payload.Samples, cloneSample{
			Title:       sample.Title,
			Base64Audio: base64.StdEncoding.EncodeToString(sample.Audio),
		})
	}

	endpoint := c.baseURL + fmt.Sprintf(pathCloneVoice, c.workspaceID)

	body, _, err := c.post(ctx, endpoint, payload)
	if err != nil {
		return "", 0, err
	}

	var created cloneResponse

	err = json.Unmarshal(body, &created)
	if err != nil {
		return "", len(body), fmt.Errorf("failed to parse clone response: %w", err)
	}

	if created.VoiceID == "" {
		return "", len(body), ErrNoVoiceCreated
	}

	return created.VoiceID, len(body), nil
}

// post marshals the payload, applies the humanizing pause and sends the
// request with realistic headers.
func (c *Client) post(ctx context.Context, endpoint string, payload any) ([]byte, string, error) {
	requestBody, err := json.Marshal(payload)
	if err != nil {
		return nil, "", fmt.Errorf("failed to marshal request: %w", err)
	}

	c.pause(pauseMin, pauseMax)

	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		endpoint,
		bytes.NewReader(requestBody),
	)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}

	c.setHeaders(httpReq)

	return c.do(httpReq)
}

// do executes the request and returns the body and content type. Non-2xx
// responses come back as StatusError so the retry classifier can act on the
// code.
func (c *Client) do(httpReq *http.Request) ([]byte, string, error) {
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, "", fmt.Errorf("request to %s failed: %w", httpReq.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, "", &retry.StatusError{Code: resp.StatusCode, Body: truncateBody(body)}
	}

	return body, resp.Header.Get(headerContentType), nil
}

func (c *Client) setHeaders(httpReq *http.Request) {
	httpReq.Header.Set(headerAuthorization, c.auth.AuthorizationHeader())
	httpReq.Header.Set(headerContentType, contentTypeJSON)
	httpReq.Header.Set(headerAccept, acceptAny)
	httpReq.Header.Set(headerUserAgent, userAgents[rand.Intn(len(userAgents))])
	httpReq.Header.Set(headerOrigin, originPlatform)
	httpReq.Header.Set(headerReferer, refererPlatform)
}

// decodeAudioBody resolves the two response shapes of the synthesis
// endpoint.
func decodeAudioBody(body []byte, contentType string) ([]byte, error) {
	if strings.Contains(contentType, contentTypeJSON) {
		var envelope audioEnvelope

		err := json.Unmarshal(body, &envelope)
		if err != nil {
			return nil, fmt.Errorf("failed to parse audio envelope: %w", err)
		}

		if envelope.AudioContent == "" {
			return nil, ErrNoAudioContent
		}

		audio, err := base64.StdEncoding.DecodeString(envelope.AudioContent)
		if err != nil {
			return nil, fmt.Errorf("failed to decode base64 audio: %w", err)
		}

		return audio, nil
	}

	if len(body) == 0 {
		return nil, ErrEmptyAudio
	}

	return body, nil
}

const maxErrorBodyLen = 512

func truncateBody(body []byte) string {
	if len(body) > maxErrorBodyLen {
		return string(body[:maxErrorBodyLen])
	}

	return string(body)
}

// humanPause sleeps a random duration inside [min, max] to mimic human
// pacing between calls.
func humanPause(min, max time.Duration) {
	if max <= min {
		time.Sleep(min)

		return
	}

	time.Sleep(min + time.Duration(rand.Int63n(int64(max-min))))
}
