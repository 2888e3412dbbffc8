package downloader

import "net/http"

// Outcome is the classification of a single response status.
type Outcome int

const (
	Success Outcome = iota
	Redirect
	Unauthorized
	NotFound
	ServerError
	Other
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Redirect:
		return "redirect"
	case Unauthorized:
		return "unauthorized"
	case NotFound:
		return "not-found"
	case ServerError:
		return "server-error"
	default:
		return "other"
	}
}

// Classify maps an HTTP status code to an Outcome.
// Only 301, 302 and 307 are followed; other 3xx codes are Other.
func Classify(status int) Outcome {
	switch {
	case status == http.StatusMovedPermanently,
		status == http.StatusFound,
		status == http.StatusTemporaryRedirect:
		return Redirect
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return Unauthorized
	case status == http.StatusNotFound:
		return NotFound
	case status >= http.StatusInternalServerError:
		return ServerError
	case status >= 200 && status < 300:
		return Success
	default:
		return Other
	}
}

// Writes reports whether a response with this outcome ends the chain by writing its body.
func (o Outcome) Writes() bool {
	return o == Success || o == Other
}
