// Package downloader fetches a single file over HTTP(S), following redirects
// and streaming the final response body to disk.
package downloader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/spf13/afero"
)

// DefaultMaxRedirects is used when Options.MaxRedirects is zero.
const DefaultMaxRedirects = 10

// DefaultUserAgent is sent unless overridden by Options or a header.
const DefaultUserAgent = "effdl"

// Doer sends a single HTTP request. *http.Client satisfies it.
// Implementations must not follow redirects themselves.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Hop describes one request/response exchange in a redirect chain.
type Hop struct {
	Index      int
	URL        string
	Endpoint   Endpoint
	StatusCode int
	Outcome    Outcome
	Location   string // resolved redirect target, empty unless Outcome is Redirect
}

// Result describes a completed download.
type Result struct {
	Source      string
	FinalURL    string
	Destination string
	Redirects   []string
	StatusCode  int
	Bytes       int64
}

// Options configures a Downloader. The zero value is usable.
type Options struct {
	// Client sends each hop. Defaults to NewClient(nil, Timeout).
	Client Doer
	// Fs receives the downloaded file. Defaults to the OS filesystem.
	Fs afero.Fs
	// MaxRedirects bounds the chain. Zero means DefaultMaxRedirects, negative means no limit.
	MaxRedirects int
	UserAgent    string
	// Timeout applies to the default client only.
	Timeout time.Duration
	// Progress, when set, wraps the body of the terminal response. size is -1 when unknown.
	Progress func(body io.Reader, size int64) io.Reader
	// OnHop is called once per response, before the response is acted on.
	OnHop func(Hop)
}

// Downloader runs downloads. It holds no per-download state and is safe for concurrent use.
type Downloader struct {
	client       Doer
	fs           afero.Fs
	maxRedirects int
	userAgent    string
	progress     func(io.Reader, int64) io.Reader
	onHop        func(Hop)
}

// NewClient returns an *http.Client that never follows redirects and does not keep
// connections alive between requests. A nil transport uses a clone of http.DefaultTransport.
func NewClient(transport http.RoundTripper, timeout time.Duration) *http.Client {
	if transport == nil {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.DisableKeepAlives = true
		transport = t
	}
	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// New creates a Downloader from opts.
func New(opts Options) *Downloader {
	d := &Downloader{
		client:       opts.Client,
		fs:           opts.Fs,
		maxRedirects: opts.MaxRedirects,
		userAgent:    opts.UserAgent,
		progress:     opts.Progress,
		onHop:        opts.OnHop,
	}
	if d.client == nil {
		d.client = NewClient(nil, opts.Timeout)
	}
	if d.fs == nil {
		d.fs = afero.NewOsFs()
	}
	if d.maxRedirects == 0 {
		d.maxRedirects = DefaultMaxRedirects
	}
	if d.userAgent == "" {
		d.userAgent = DefaultUserAgent
	}
	return d
}

// Download fetches from into the file at to using default options.
func Download(ctx context.Context, from, to string, headers map[string]string) error {
	return New(Options{}).Download(ctx, from, to, headers)
}

// Download fetches from into the file at to. headers are sent on every hop.
func (d *Downloader) Download(ctx context.Context, from, to string, headers map[string]string) error {
	_, err := d.Fetch(ctx, from, to, headers)
	return err
}

// Fetch is Download, returning details about the chain that was followed.
func (d *Downloader) Fetch(ctx context.Context, from, to string, headers map[string]string) (*Result, error) {
	target, err := ValidateURL(from)
	if err != nil {
		return nil, err
	}

	result := &Result{Source: from, Destination: to}
	for hop := 0; ; hop++ {
		resp, err := d.send(ctx, target, headers)
		if err != nil {
			return nil, err
		}

		outcome := Classify(resp.StatusCode)
		info := Hop{
			Index:      hop,
			URL:        target.String(),
			Endpoint:   EndpointFor(target),
			StatusCode: resp.StatusCode,
			Outcome:    outcome,
		}

		if outcome != Redirect {
			d.notify(info)
			if outcome.Writes() {
				result.FinalURL = target.String()
				result.StatusCode = resp.StatusCode
				result.Bytes, err = d.writeBody(resp, target, to)
				if err != nil {
					return nil, err
				}
				return result, nil
			}
			closeBody(resp)
			return nil, statusError(outcome, target.String(), resp.StatusCode)
		}

		next, err := d.nextTarget(resp, target, hop)
		closeBody(resp)
		if err != nil {
			d.notify(info)
			return nil, err
		}
		info.Location = next.String()
		d.notify(info)

		result.Redirects = append(result.Redirects, next.String())
		target = next
	}
}

func (d *Downloader) send(ctx context.Context, target *url.URL, headers map[string]string) (*http.Response, error) {
	req, err := NewRequest(ctx, target, headers, d.userAgent)
	if err != nil {
		return nil, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("download of %s cancelled: %w", target.Redacted(), ctxErr)
		}
		return nil, newFileDownloadError(ReasonHostNotFound, target.String(), 0, err)
	}
	return resp, nil
}

func (d *Downloader) nextTarget(resp *http.Response, origin *url.URL, hop int) (*url.URL, error) {
	location := resp.Header.Get("Location")
	if location == "" {
		return nil, newFileDownloadError(ReasonMissingLocation, origin.String(), resp.StatusCode, nil)
	}
	if d.maxRedirects > 0 && hop >= d.maxRedirects {
		return nil, newFileDownloadError(ReasonTooManyRedirects, origin.String(), resp.StatusCode, nil)
	}
	resolved, err := SanitizeRedirect(location, origin)
	if err != nil {
		return nil, err
	}
	return ValidateURL(resolved)
}

// writeBody streams the response body into to, truncating any existing file.
func (d *Downloader) writeBody(resp *http.Response, from *url.URL, to string) (n int64, err error) {
	defer closeBody(resp)

	if err := EnsureDir(d.fs, to); err != nil {
		return 0, err
	}

	file, err := d.fs.OpenFile(to, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s for writing: %w", to, err)
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close %s: %w", to, closeErr)
		}
	}()

	var body io.Reader = resp.Body
	if d.progress != nil {
		body = d.progress(body, resp.ContentLength)
	}

	n, err = io.Copy(file, body)
	if err != nil {
		return n, fmt.Errorf("failed to write response body from %s to %s: %w", from.Redacted(), to, err)
	}
	return n, nil
}

func (d *Downloader) notify(h Hop) {
	if d.onHop != nil {
		d.onHop(h)
	}
}

func statusError(outcome Outcome, rawURL string, status int) error {
	switch outcome {
	case Unauthorized:
		return newFileDownloadError(ReasonUnauthorized, rawURL, status, nil)
	case NotFound:
		return newFileDownloadError(ReasonNotFound, rawURL, status, nil)
	case ServerError:
		return newFileDownloadError(ReasonServerError, rawURL, status, nil)
	default:
		return fmt.Errorf("unexpected outcome %s for status %d from %s", outcome, status, rawURL)
	}
}

func closeBody(resp *http.Response) {
	_ = resp.Body.Close()
}
