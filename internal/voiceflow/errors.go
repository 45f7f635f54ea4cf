package voiceflow

import (
	"errors"

	"github.com/dvloznov/voice-ledger/internal/capture"
	"github.com/dvloznov/voice-ledger/internal/extraction"
	"github.com/dvloznov/voice-ledger/internal/ledger"
	"github.com/dvloznov/voice-ledger/internal/review"
)

var (
	// ErrBusy is returned while an extraction for the flow is in flight.
	ErrBusy = errors.New("voiceflow: processing in progress")

	// ErrAbandoned is returned to a caller whose extraction finished after
	// the flow stopped waiting for it. The result is dropped.
	ErrAbandoned = errors.New("voiceflow: result abandoned")

	// ErrNoReview is returned by review commands when no draft is open.
	ErrNoReview = errors.New("voiceflow: no open review")

	// ErrReviewOpen is returned when capture or processing starts over an
	// open review.
	ErrReviewOpen = errors.New("voiceflow: review already open")
)

// Kind classifies a failure for presentation.
type Kind string

const (
	KindNone                         Kind = ""
	KindCaptureUnsupported           Kind = "capture_unsupported"
	KindCapturePermissionDenied      Kind = "capture_permission_denied"
	KindCaptureNoSpeech              Kind = "capture_no_speech"
	KindCaptureNetwork               Kind = "capture_network"
	KindCaptureFailed                Kind = "capture_failed"
	KindEmptyInput                   Kind = "empty_input"
	KindExtractionServiceUnavailable Kind = "extraction_service_unavailable"
	KindExtractionUnparsable         Kind = "extraction_unparsable"
	KindExtractionNoAmount           Kind = "extraction_no_amount"
	KindValidationBlocked            Kind = "validation_blocked"
	KindInvalidEdit                  Kind = "invalid_edit"
	KindReviewClosed                 Kind = "review_closed"
	KindNoReview                     Kind = "no_review"
	KindBusy                         Kind = "busy"
	KindReviewOpen                   Kind = "review_open"
	KindAbandoned                    Kind = "abandoned"
	KindInvalidTransaction           Kind = "invalid_transaction"
	KindNotFound                     Kind = "not_found"
	KindInternal                     Kind = "internal"
)

var kinds = []struct {
	target error
	kind   Kind
}{
	{capture.ErrUnsupported, KindCaptureUnsupported},
	{capture.ErrPermissionDenied, KindCapturePermissionDenied},
	{capture.ErrNoSpeech, KindCaptureNoSpeech},
	{capture.ErrNetwork, KindCaptureNetwork},
	{capture.ErrCaptureFailed, KindCaptureFailed},
	{extraction.ErrEmptyInput, KindEmptyInput},
	{extraction.ErrServiceUnavailable, KindExtractionServiceUnavailable},
	{extraction.ErrUnparsable, KindExtractionUnparsable},
	{extraction.ErrNoAmount, KindExtractionNoAmount},
	{review.ErrValidationBlocked, KindValidationBlocked},
	{review.ErrWrongMode, KindInvalidEdit},
	{review.ErrIncompatibleCategory, KindInvalidEdit},
	{review.ErrUnknownCategory, KindInvalidEdit},
	{review.ErrUnknownEntity, KindInvalidEdit},
	{review.ErrInvalidType, KindInvalidEdit},
	{review.ErrInvalidMode, KindInvalidEdit},
	{review.ErrInvalidAmount, KindInvalidEdit},
	{review.ErrInvalidDate, KindInvalidEdit},
	{review.ErrClosed, KindReviewClosed},
	{ErrNoReview, KindNoReview},
	{ErrReviewOpen, KindReviewOpen},
	{ErrBusy, KindBusy},
	{ErrAbandoned, KindAbandoned},
	{ledger.ErrInvalid, KindInvalidTransaction},
	{ledger.ErrNotFound, KindNotFound},
}

// Classify maps err to its Kind. Unknown errors are KindInternal.
func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}
	for _, k := range kinds {
		if errors.Is(err, k.target) {
			return k.kind
		}
	}
	return KindInternal
}

var messages = map[Kind]string{
	KindCaptureUnsupported:           "Voice capture is not supported in this environment.",
	KindCapturePermissionDenied:      "Microphone permission denied. Allow microphone access and try again.",
	KindCaptureNoSpeech:              "No speech detected. Try again.",
	KindCaptureNetwork:               "Network error during voice capture. Check your connection.",
	KindCaptureFailed:                "Voice capture failed. Try again.",
	KindEmptyInput:                   "Nothing was heard. Record again or enter the transaction manually.",
	KindExtractionServiceUnavailable: "The transaction could not be processed right now. Try again or enter it manually.",
	KindExtractionUnparsable:         "The transaction could not be understood. Record again or enter it manually.",
	KindExtractionNoAmount:           "No amount was detected. Record again or enter the transaction manually.",
	KindValidationBlocked:            "Enter an amount greater than zero before confirming.",
	KindInvalidEdit:                  "That change is not valid for this transaction.",
	KindReviewClosed:                 "This review is already closed.",
	KindNoReview:                     "There is no transaction under review.",
	KindBusy:                         "Still processing the previous recording.",
	KindReviewOpen:                   "Confirm or discard the transaction under review first.",
	KindAbandoned:                    "The previous recording was cancelled.",
	KindInvalidTransaction:           "The transaction is not valid. Check the fields and try again.",
	KindNotFound:                     "Transaction not found.",
	KindInternal:                     "Something went wrong. Try again.",
}

// UserMessage returns the single message shown to the user for err, or ""
// for nil.
func UserMessage(err error) string {
	return messages[Classify(err)]
}
