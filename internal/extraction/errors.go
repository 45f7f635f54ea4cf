package extraction

import "errors"

var (
	// ErrEmptyInput means the utterance was blank. No model call is made.
	ErrEmptyInput = errors.New("extraction: empty input")

	// ErrServiceUnavailable means the model could not be reached or is not
	// configured.
	ErrServiceUnavailable = errors.New("extraction: service unavailable")

	// ErrUnparsable means the model output could not be decoded into a draft.
	ErrUnparsable = errors.New("extraction: unparsable response")

	// ErrNoAmount means the model found no positive amount. Such a draft is
	// not actionable and is never defaulted.
	ErrNoAmount = errors.New("extraction: no amount detected")
)
