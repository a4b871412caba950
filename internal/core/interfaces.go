// Package core defines the shared contracts and value types for the TTS bot.
package core

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Delivery is the outbound edge toward the chat transport. The transport
// itself (polling, commands, buttons) lives outside this module and is only
// consumed through this interface.
type Delivery interface {
	// DeliverArtifact sends a generated audio file to the user.
	DeliverArtifact(ctx context.Context, userID int64, path, caption string) error
	// DeliverText sends a plain text message to the user.
	DeliverText(ctx context.Context, userID int64, message string) error
	// ReportProgress tells the user their position in the generation queue.
	ReportProgress(ctx context.Context, userID int64, position int) error
}

// Voice is one entry of the remote voice catalog.
type Voice struct {
	VoiceID     string   `json:"voiceId"`
	DisplayName string   `json:"displayName"`
	Languages   []string `json:"languages"`
	SourceKind  string   `json:"type"`
}

// Job is one queued text-to-speech generation request. A Job is immutable
// after creation and consumed exactly once by the worker.
type Job struct {
	RequesterID  int64     `json:"requester_id"`
	Text         string    `json:"text"`
	VoiceID      string    `json:"voice_id"`
	ModelID      string    `json:"model_id"`
	SpeakingRate float64   `json:"speaking_rate"`
	Pitch        float64   `json:"pitch"`
	SubmittedAt  time.Time `json:"submitted_at"`
}

// FailureKind classifies a terminal outcome of a remote operation.
type FailureKind int

const (
	// FailureAuth means the credential was rejected; retrying cannot help
	// without a fresh token.
	FailureAuth FailureKind = iota
	// FailureBlocked means the service refused the call outright, most
	// likely anti-automation detection.
	FailureBlocked
	// FailureExhausted means every retry attempt was spent.
	FailureExhausted
)

// String returns the canonical name of the failure kind.
func (k FailureKind) String() string {
	switch k {
	case FailureAuth:
		return "auth"
	case FailureBlocked:
		return "blocked"
	case FailureExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Failure is the explicit terminal error surfaced by the request executor
// and the credential manager. Raw transport errors never leak past it.
type Failure struct {
	Kind   FailureKind
	Reason string
	Err    error
}

// Error implements the error interface.
func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Reason, f.Err)
	}

	return fmt.Sprintf("%s: %s", f.Kind, f.Reason)
}

// Unwrap exposes the underlying cause, when any.
func (f *Failure) Unwrap() error {
	return f.Err
}

// NewFailure builds a Failure with an optional underlying cause.
func NewFailure(kind FailureKind, reason string, err error) *Failure {
	return &Failure{Kind: kind, Reason: reason, Err: err}
}

// AsFailure extracts a *Failure from an error chain.
func AsFailure(err error) (*Failure, bool) {
	var failure *Failure
	if errors.As(err, &failure) {
		return failure, true
	}

	return nil, false
}
