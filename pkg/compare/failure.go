package compare

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure.
type Kind int

const (
	BadContentType Kind = iota + 1
	MissingInput
	SourceFetchFailed
	UploadDecodeFailed
	NoFaceFound
	InternalError
)

func (k Kind) String() string {
	switch k {
	case BadContentType:
		return "BadContentType"
	case MissingInput:
		return "MissingInput"
	case SourceFetchFailed:
		return "SourceFetchFailed"
	case UploadDecodeFailed:
		return "UploadDecodeFailed"
	case NoFaceFound:
		return "NoFaceFound"
	case InternalError:
		return "InternalError"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Failure is a tagged pipeline failure. Which names the image slot and is
// empty for request-level failures.
type Failure struct {
	Kind      Kind
	Which     string
	Detail    string
	ErrorType string
	Stage     Stage

	err error
}

func (f *Failure) Error() string {
	msg := f.Kind.String()
	if f.Which != "" {
		msg = f.Which + ": " + msg
	}
	if f.Detail != "" {
		msg += ": " + f.Detail
	}
	return msg
}

func (f *Failure) Unwrap() error { return f.err }

// Message is the client facing text for the failure.
func (f *Failure) Message() string {
	switch f.Kind {
	case BadContentType:
		return "Use multipart/form-data with images."
	case MissingInput:
		return fmt.Sprintf("Provide %s_url or upload %s file.", f.Which, f.Which)
	case SourceFetchFailed:
		return fmt.Sprintf("Failed to load %s from URL.", f.Which)
	case UploadDecodeFailed:
		return fmt.Sprintf("Failed to load %s from uploaded file.", f.Which)
	case NoFaceFound:
		return fmt.Sprintf("No face found in %s.", f.Which)
	}
	return "error_processing_request"
}

// NewBadContentType is the failure for requests that are not multipart.
func NewBadContentType() *Failure {
	return &Failure{Kind: BadContentType, Stage: StageStart}
}

// NewInternalError is the failure for unexpected request-level errors.
func NewInternalError(err error) *Failure {
	return newFailure(InternalError, "", StageStart, err)
}

func newFailure(kind Kind, which string, stage Stage, err error) *Failure {
	f := &Failure{Kind: kind, Which: which, Stage: stage, err: err}
	if err != nil {
		f.Detail = err.Error()
	}
	if kind == InternalError {
		f.ErrorType = errorType(err)
	}
	return f
}

func panicFailure(which string, stage Stage, p interface{}) *Failure {
	err, ok := p.(error)
	if !ok {
		err = fmt.Errorf("%v", p)
	}
	f := newFailure(InternalError, which, stage, err)
	if !ok {
		f.ErrorType = "panic"
	}
	return f
}

// errorType names the Go type of the innermost wrapped error.
func errorType(err error) string {
	if err == nil {
		return ""
	}
	for {
		next := errors.Unwrap(err)
		if next == nil {
			break
		}
		err = next
	}
	return fmt.Sprintf("%T", err)
}
