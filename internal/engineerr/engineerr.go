// Package engineerr defines the error taxonomy shared across the download
// engine's components, grounded on the disposition table in the download
// engine's error handling design.
package engineerr

import "fmt"

// Kind identifies a class of engine failure. It is not a type name -
// callers branch on Kind via Is, not on the concrete Error struct.
type Kind string

const (
	SizeUnknown       Kind = "size_unknown"
	NoUrls            Kind = "no_urls"
	ResumeRequired    Kind = "resume_required"
	ResumeMismatch    Kind = "resume_mismatch"
	Network           Kind = "network"
	Timeout           Kind = "timeout"
	HTTPStatus        Kind = "http_status"
	Cancelled         Kind = "cancelled"
	AllSegmentsFailed Kind = "all_segments_failed"
	IO                Kind = "io"
)

// Error wraps an underlying error with a classification used by callers to
// decide disposition (fatal-for-task vs retry vs swallow).
type Error struct {
	Kind       Kind
	StatusCode int
	Err        error
}

func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

func NewStatus(kind Kind, statusCode int, err error) *Error {
	return &Error{Kind: kind, StatusCode: statusCode, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether err is (or wraps) an *Error of the given kind.
func Is(err error, kind Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind == kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
