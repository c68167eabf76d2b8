package turn

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/culturaltourmate/tourmate/internal/llm/provider"
)

var (
	// ErrBusy is returned by Start while another submission is in flight.
	ErrBusy = errors.New("a submission is already in flight")

	// ErrStaleCompletion is returned when a reply arrives after the session
	// was reset, closed or the submission was abandoned. The reply is
	// discarded.
	ErrStaleCompletion = errors.New("completion discarded: session changed while the call was in flight")

	// ErrClosed is returned by Start after Close.
	ErrClosed = errors.New("turn controller is closed")
)

// ValidationKind identifies why a submission was rejected.
type ValidationKind int

const (
	EmptyText ValidationKind = iota + 1
	MissingAttachment
)

func (k ValidationKind) String() string {
	switch k {
	case EmptyText:
		return "EMPTY_TEXT"
	case MissingAttachment:
		return "MISSING_ATTACHMENT"
	default:
		return "UNKNOWN"
	}
}

// ValidationError rejects a submission before any call is made. The store
// is left untouched.
type ValidationError struct {
	Kind ValidationKind
}

func (e *ValidationError) Error() string {
	switch e.Kind {
	case EmptyText:
		return "validation failed: question text is empty"
	case MissingAttachment:
		return "validation failed: no image is staged"
	default:
		return "validation failed"
	}
}

// GenerationKind classifies a failed generation call.
type GenerationKind int

const (
	Unknown GenerationKind = iota
	Transport
	Auth
	MalformedResponse
)

func (k GenerationKind) String() string {
	switch k {
	case Transport:
		return "TRANSPORT"
	case Auth:
		return "AUTH"
	case MalformedResponse:
		return "MALFORMED_RESPONSE"
	default:
		return "UNKNOWN"
	}
}

// GenerationError reports a failed generation call. The store is left
// untouched.
type GenerationError struct {
	Kind GenerationKind
	// Code is the provider error code, when known.
	Code string
	Err  error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed (%s): %v", e.Kind, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// newGenerationError classifies err from the provider.
func newGenerationError(err error) *GenerationError {
	ge := &GenerationError{Kind: Unknown, Code: provider.ErrorCode(err), Err: err}

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		ge.Kind = Transport
		return ge
	}

	switch ge.Code {
	case provider.ErrorCodeAuthentication:
		ge.Kind = Auth
	case provider.ErrorCodeMalformedResponse:
		ge.Kind = MalformedResponse
	case provider.ErrorCodeTimeout, provider.ErrorCodeServerError,
		provider.ErrorCodeRateLimit, provider.ErrorCodeQuotaExceeded:
		ge.Kind = Transport
	default:
		var netErr net.Error
		if errors.As(err, &netErr) {
			ge.Kind = Transport
		}
	}
	return ge
}

// IsValidation reports whether err is a *ValidationError of kind k.
func IsValidation(err error, k ValidationKind) bool {
	var ve *ValidationError
	return errors.As(err, &ve) && ve.Kind == k
}
