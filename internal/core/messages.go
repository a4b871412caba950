package core

// User-facing failure texts. Every terminal failure yields a specific,
// actionable message instead of a generic error.
const (
	MsgAuthFailure      = "Credential expired or rejected. Use /refresh to mint a new token or /token to set one manually."
	MsgBlockedFailure   = "The service refused the request. This usually means automated access was detected; wait before retrying."
	MsgExhaustedFailure = "Generation failed after several attempts. The service may be overloaded; try again in a moment."
	MsgGenericFailure   = "Failed to generate audio. Please try again."
)

// UserFacingMessage maps a terminal error to the message shown to the user.
func UserFacingMessage(err error) string {
	failure, ok := AsFailure(err)
	if !ok {
		return MsgGenericFailure
	}

	switch failure.Kind {
	case FailureAuth:
		return MsgAuthFailure
	case FailureBlocked:
		return MsgBlockedFailure
	case FailureExhausted:
		return MsgExhaustedFailure
	default:
		return MsgGenericFailure
	}
}
