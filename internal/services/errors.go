package services

import (
	"errors"
)

// Kind classifies a controller failure.
type Kind int

const (
	KindAuth Kind = iota + 1
	KindStore
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindStore:
		return "store"
	case KindValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// Error is what the gallery controller returns for every failure. Message is
// the text placed in the user-visible message slot.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind, so errors.Is(err, ErrStore)
// works on any store failure.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

// Kind targets for errors.Is.
var (
	ErrAuth       = &Error{Kind: KindAuth}
	ErrStore      = &Error{Kind: KindStore}
	ErrValidation = &Error{Kind: KindValidation}
)

// ErrUploadInProgress rejects a second upload, or a selection change, while
// an upload is in flight.
var ErrUploadInProgress = errors.New("an upload is already in progress")

// User-visible messages.
const (
	MsgSelectPDF        = "Please select a PDF file"
	MsgInvalidName      = "Invalid file name"
	MsgNotAuthenticated = "User not authenticated"
	MsgFetchFailed      = "Failed to fetch PDFs"
	MsgUploadFailed     = "Failed to upload PDF"
	MsgUploadInProgress = "An upload is already in progress"
	msgPartialLoad      = "Some PDFs could not be loaded (%d)"
)

// KindOf returns the kind of err, or 0 when err is not a controller error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
