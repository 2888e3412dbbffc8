package downloader

import (
	"errors"
	"fmt"
)

// ErrDownload is matched by every error this package returns for a failed download,
// so callers that don't care about the cause can check a single value.
var ErrDownload = errors.New("download failed")

// Reason identifies why a download failed.
type Reason int

const (
	ReasonUnauthorized Reason = iota + 1
	ReasonNotFound
	ReasonServerError
	ReasonHostNotFound
	ReasonTooManyRedirects
	ReasonMissingLocation
)

// Messages reported for each failure reason.
const (
	MsgUnauthorized     = "File download was not authorised."
	MsgNotFound         = "Specified file could not be found."
	MsgServerError      = "Host of specified file returned an error."
	MsgHostNotFound     = "The specified host could not be found."
	MsgTooManyRedirects = "Too many redirects were followed."
	MsgMissingLocation  = "Redirect response did not include a location."
)

var reasonMessages = map[Reason]string{
	ReasonUnauthorized:     MsgUnauthorized,
	ReasonNotFound:         MsgNotFound,
	ReasonServerError:      MsgServerError,
	ReasonHostNotFound:     MsgHostNotFound,
	ReasonTooManyRedirects: MsgTooManyRedirects,
	ReasonMissingLocation:  MsgMissingLocation,
}

func (r Reason) String() string {
	switch r {
	case ReasonUnauthorized:
		return "unauthorized"
	case ReasonNotFound:
		return "not-found"
	case ReasonServerError:
		return "server-error"
	case ReasonHostNotFound:
		return "host-not-found"
	case ReasonTooManyRedirects:
		return "too-many-redirects"
	case ReasonMissingLocation:
		return "missing-location"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

// FileDownloadError reports a remote or transport failure.
// Message is human readable; Reason is there for callers that want to branch on the cause.
type FileDownloadError struct {
	Reason     Reason
	Message    string
	URL        string
	StatusCode int   // zero when no response was received
	Err        error // underlying transport error, if any
}

func newFileDownloadError(reason Reason, rawURL string, status int, cause error) *FileDownloadError {
	return &FileDownloadError{
		Reason:     reason,
		Message:    reasonMessages[reason],
		URL:        rawURL,
		StatusCode: status,
		Err:        cause,
	}
}

func (e *FileDownloadError) Error() string {
	return e.Message
}

func (e *FileDownloadError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrDownload.
func (e *FileDownloadError) Is(target error) bool {
	return target == ErrDownload
}

// InvalidURLError is returned when the source is not an absolute HTTP(S) URL.
// No request is made in that case.
type InvalidURLError struct {
	URL string
	Err error
}

func (e *InvalidURLError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid download URL %q: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("invalid download URL %q: must be an absolute http or https URL", e.URL)
}

func (e *InvalidURLError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrDownload.
func (e *InvalidURLError) Is(target error) bool {
	return target == ErrDownload
}
