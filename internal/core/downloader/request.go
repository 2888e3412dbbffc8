package downloader

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Endpoint is the connection target derived from a URL.
type Endpoint struct {
	Host string
	Port string
	TLS  bool
}

func (e Endpoint) String() string {
	return e.Host + ":" + e.Port
}

// ValidateURL parses raw and checks that it is an absolute http or https URL with a host.
func ValidateURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, &InvalidURLError{URL: raw, Err: err}
	}
	scheme := strings.ToLower(u.Scheme)
	if (scheme != "http" && scheme != "https") || u.Hostname() == "" {
		return nil, &InvalidURLError{URL: raw}
	}
	u.Scheme = scheme
	return u, nil
}

// EndpointFor returns the host, port and TLS setting used to reach u.
// The port falls back to 443 for https and 80 for http.
func EndpointFor(u *url.URL) Endpoint {
	ep := Endpoint{Host: u.Hostname(), Port: u.Port(), TLS: strings.EqualFold(u.Scheme, "https")}
	if ep.Port == "" {
		if ep.TLS {
			ep.Port = "443"
		} else {
			ep.Port = "80"
		}
	}
	return ep
}

// NewRequest builds the GET request for one hop. The User-Agent is applied first,
// so a caller supplied header of the same name wins.
func NewRequest(ctx context.Context, u *url.URL, headers map[string]string, userAgent string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request for %s: %w", u.Redacted(), err)
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	for name, value := range headers {
		if http.CanonicalHeaderKey(name) == "Host" {
			req.Host = value
			continue
		}
		req.Header.Set(name, value)
	}
	return req, nil
}
