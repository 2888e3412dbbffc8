package downloader

import (
	"net/url"
	"strings"
)

// SanitizeRedirect turns a Location header value into an absolute URL.
// Absolute http(s) locations come back unchanged; anything else is resolved
// against origin.
func SanitizeRedirect(location string, origin *url.URL) (string, error) {
	location = strings.TrimSpace(location)
	ref, err := url.Parse(location)
	if err != nil {
		return "", &InvalidURLError{URL: location, Err: err}
	}
	if ref.IsAbs() && ref.Host != "" {
		switch strings.ToLower(ref.Scheme) {
		case "http", "https":
			return location, nil
		}
	}
	return origin.ResolveReference(ref).String(), nil
}
