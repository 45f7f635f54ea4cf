package capture

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupported means no capture facility exists in this environment.
	// Callers present capture as disabled instead of retrying.
	ErrUnsupported = errors.New("capture: unsupported")

	ErrPermissionDenied = errors.New("capture: permission denied")
	ErrNoSpeech         = errors.New("capture: no speech detected")
	ErrNetwork          = errors.New("capture: network error")

	// ErrCaptureFailed covers recognizer failures outside the classes above,
	// including a failed start.
	ErrCaptureFailed = errors.New("capture: failed")
)

// errorFor maps a recognizer error code to a sentinel and a user-visible
// message. CodeAborted maps to nil: a user-initiated stop is not an error.
func errorFor(code ErrorCode, detail string) (error, string) {
	switch code {
	case CodeAborted:
		return nil, ""
	case CodePermissionDenied:
		return ErrPermissionDenied, "Microphone permission denied. Allow microphone access and try again."
	case CodeNoSpeech:
		return ErrNoSpeech, "No speech detected. Try again."
	case CodeNetwork:
		return ErrNetwork, "Network error during voice capture. Check your connection."
	}
	if detail == "" {
		detail = string(CodeOther)
	}
	return fmt.Errorf("%w: %s", ErrCaptureFailed, detail), "Voice capture error: " + detail
}

const (
	messageUnsupported = "Voice capture is not supported in this environment."
	messageStartFailed = "Failed to start voice capture."
)
