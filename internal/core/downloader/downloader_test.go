// Package downloader_test contains tests for the downloader package.
package downloader_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nightconcept/efficient-downloader/internal/core/downloader"
)

// failingDoer fails every request the way a dial error would.
type failingDoer struct {
	calls int
}

func (f *failingDoer) Do(req *http.Request) (*http.Response, error) {
	f.calls++
	return nil, fmt.Errorf("dial tcp: lookup %s: no such host", req.URL.Hostname())
}

// recordingDoer answers each request from a canned status/location list and keeps the requests.
type recordingDoer struct {
	mu        sync.Mutex
	responses []*http.Response
	requests  []*http.Request
}

func (r *recordingDoer) Do(req *http.Request) (*http.Response, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
	if len(r.responses) == 0 {
		return nil, errors.New("no canned response left")
	}
	resp := r.responses[0]
	r.responses = r.responses[1:]
	resp.Request = req
	return resp, nil
}

func cannedResponse(status int, location, body string) *http.Response {
	header := http.Header{}
	if location != "" {
		header.Set("Location", location)
	}
	return &http.Response{
		StatusCode:    status,
		Header:        header,
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
	}
}

func TestDownload_Success(t *testing.T) {
	t.Parallel()
	expectedContent := "Hello, effdl!"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, err := w.Write([]byte(expectedContent))
		assert.NoError(t, err, "Failed to write response in mock server")
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "nested", "dir", "file.txt")
	err := downloader.Download(context.Background(), server.URL+"/file.txt", dest, nil)
	require.NoError(t, err, "Download returned an unexpected error")

	content, err := os.ReadFile(dest)
	require.NoError(t, err, "Downloaded file should exist")
	assert.Equal(t, expectedContent, string(content), "Downloaded content does not match expected content")
}

func TestDownload_OverwritesExistingFile(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("new"))
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "file.txt")
	require.NoError(t, os.WriteFile(dest, []byte("old content that is longer"), 0644))

	require.NoError(t, downloader.Download(context.Background(), server.URL, dest, nil))

	content, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "new", string(content), "Existing file should be truncated and overwritten")
}

func TestDownload_LargeBodyIsWrittenByteForByte(t *testing.T) {
	t.Parallel()
	payload := bytes.Repeat([]byte("0123456789abcdef"), 64*1024) // 1 MiB
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(payload)
	}))
	defer server.Close()

	fs := afero.NewMemMapFs()
	d := downloader.New(downloader.Options{Fs: fs})
	res, err := d.Fetch(context.Background(), server.URL+"/big.bin", "out/big.bin", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), res.Bytes)

	content, err := afero.ReadFile(fs, "out/big.bin")
	require.NoError(t, err)
	assert.True(t, bytes.Equal(payload, content), "Written content differs from payload")
}

func TestDownload_NonErrorStatusesAreWritten(t *testing.T) {
	t.Parallel()
	for _, status := range []int{http.StatusOK, http.StatusCreated, http.StatusNonAuthoritativeInfo, http.StatusBadRequest, http.StatusTeapot, http.StatusSeeOther} {
		status := status
		t.Run(http.StatusText(status), func(t *testing.T) {
			t.Parallel()
			doer := &recordingDoer{responses: []*http.Response{cannedResponse(status, "", "payload")}}
			fs := afero.NewMemMapFs()
			d := downloader.New(downloader.Options{Client: doer, Fs: fs})

			res, err := d.Fetch(context.Background(), "https://host.net/path.ext", "tmp/filename.ext", nil)
			require.NoError(t, err)
			assert.Equal(t, status, res.StatusCode)

			content, err := afero.ReadFile(fs, "tmp/filename.ext")
			require.NoError(t, err)
			assert.Equal(t, "payload", string(content))
		})
	}
}

func TestDownload_StatusErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		status  int
		reason  downloader.Reason
		message string
	}{
		{http.StatusUnauthorized, downloader.ReasonUnauthorized, "not authorised"},
		{http.StatusForbidden, downloader.ReasonUnauthorized, "not authorised"},
		{http.StatusNotFound, downloader.ReasonNotFound, "could not be found"},
		{http.StatusInternalServerError, downloader.ReasonServerError, "returned an error"},
		{http.StatusBadGateway, downloader.ReasonServerError, "returned an error"},
		{http.StatusServiceUnavailable, downloader.ReasonServerError, "returned an error"},
		{599, downloader.ReasonServerError, "returned an error"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(fmt.Sprintf("status %d", tt.status), func(t *testing.T) {
			t.Parallel()
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			dest := filepath.Join(t.TempDir(), "file.ext")
			err := downloader.Download(context.Background(), server.URL, dest, nil)
			require.Error(t, err, "Download should have returned an error for %d", tt.status)

			var fdErr *downloader.FileDownloadError
			require.ErrorAs(t, err, &fdErr)
			assert.Equal(t, tt.reason, fdErr.Reason)
			assert.Equal(t, tt.status, fdErr.StatusCode)
			assert.Contains(t, err.Error(), tt.message, "Error message mismatch")
			assert.ErrorIs(t, err, downloader.ErrDownload)

			_, statErr := os.Stat(dest)
			assert.True(t, os.IsNotExist(statErr), "No file should be written on an error status")
		})
	}
}

func TestDownload_FollowsRedirects(t *testing.T) {
	t.Parallel()
	for _, status := range []int{http.StatusMovedPermanently, http.StatusFound, http.StatusTemporaryRedirect} {
		status := status
		t.Run(http.StatusText(status), func(t *testing.T) {
			t.Parallel()
			mux := http.NewServeMux()
			mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
				http.Redirect(w, r, "/final.txt", status)
			})
			mux.HandleFunc("/final.txt", func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("final content"))
			})
			server := httptest.NewServer(mux)
			defer server.Close()

			var hops []downloader.Hop
			fs := afero.NewMemMapFs()
			d := downloader.New(downloader.Options{
				Fs:    fs,
				OnHop: func(h downloader.Hop) { hops = append(hops, h) },
			})

			res, err := d.Fetch(context.Background(), server.URL+"/start", "out.txt", nil)
			require.NoError(t, err)
			assert.Equal(t, server.URL+"/final.txt", res.FinalURL)
			assert.Equal(t, []string{server.URL + "/final.txt"}, res.Redirects)

			require.Len(t, hops, 2, "Expected one redirect hop and one terminal hop")
			assert.Equal(t, downloader.Redirect, hops[0].Outcome)
			assert.Equal(t, status, hops[0].StatusCode)
			assert.Equal(t, server.URL+"/final.txt", hops[0].Location)
			assert.Equal(t, downloader.Success, hops[1].Outcome)

			content, err := afero.ReadFile(fs, "out.txt")
			require.NoError(t, err)
			assert.Equal(t, "final content", string(content))
		})
	}
}

func TestDownload_RedirectHopDoesNotWrite(t *testing.T) {
	t.Parallel()
	doer := &recordingDoer{responses: []*http.Response{
		cannedResponse(http.StatusFound, "/tabbouleh", "redirect body"),
		cannedResponse(http.StatusNotFound, "", ""),
	}}
	fs := afero.NewMemMapFs()
	d := downloader.New(downloader.Options{Client: doer, Fs: fs})

	err := d.Download(context.Background(), "https://host.net/path.ext", "tmp/filename.ext", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "could not be found")

	require.Len(t, doer.requests, 2)
	assert.Equal(t, "https://host.net/tabbouleh", doer.requests[1].URL.String(), "Relative location should resolve against the origin")

	exists, err := afero.Exists(fs, "tmp/filename.ext")
	require.NoError(t, err)
	assert.False(t, exists, "A redirect hop must not write the destination")
}

func TestDownload_HeadersPropagateAcrossRedirects(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	seen := map[string]string{}

	mux := http.NewServeMux()
	mux.HandleFunc("/first", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen[r.URL.Path] = r.Header.Get("Authorization")
		mu.Unlock()
		http.Redirect(w, r, "/second", http.StatusTemporaryRedirect)
	})
	mux.HandleFunc("/second", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen[r.URL.Path] = r.Header.Get("Authorization")
		mu.Unlock()
		assert.Equal(t, "custom", r.Header.Get("X-Custom"))
		assert.Equal(t, http.MethodGet, r.Method)
		_, _ = w.Write([]byte("ok"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	headers := map[string]string{"Authorization": "Bearer secret", "X-Custom": "custom"}
	dest := filepath.Join(t.TempDir(), "file")
	require.NoError(t, downloader.Download(context.Background(), server.URL+"/first", dest, headers))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "Bearer secret", seen["/first"])
	assert.Equal(t, "Bearer secret", seen["/second"], "Headers should be sent on the redirected request too")
}

func TestDownload_AbsoluteRedirectAcrossHosts(t *testing.T) {
	t.Parallel()
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("from the other host"))
	}))
	defer target.Close()
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, target.URL+"/file", http.StatusMovedPermanently)
	}))
	defer origin.Close()

	fs := afero.NewMemMapFs()
	res, err := downloader.New(downloader.Options{Fs: fs}).Fetch(context.Background(), origin.URL, "file", nil)
	require.NoError(t, err)
	assert.Equal(t, target.URL+"/file", res.FinalURL)
}

func TestDownload_TooManyRedirects(t *testing.T) {
	t.Parallel()
	var count int
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		count++
		mu.Unlock()
		http.Redirect(w, r, r.URL.Path, http.StatusFound)
	}))
	defer server.Close()

	fs := afero.NewMemMapFs()
	d := downloader.New(downloader.Options{Fs: fs, MaxRedirects: 3})
	err := d.Download(context.Background(), server.URL+"/loop", "loop", nil)
	require.Error(t, err)

	var fdErr *downloader.FileDownloadError
	require.ErrorAs(t, err, &fdErr)
	assert.Equal(t, downloader.ReasonTooManyRedirects, fdErr.Reason)
	assert.Equal(t, downloader.MsgTooManyRedirects, err.Error())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 4, count, "Three redirects should be followed before the fourth is refused")
}

func TestDownload_DefaultRedirectLimit(t *testing.T) {
	t.Parallel()
	responses := make([]*http.Response, 0, downloader.DefaultMaxRedirects+1)
	for i := 0; i <= downloader.DefaultMaxRedirects; i++ {
		responses = append(responses, cannedResponse(http.StatusFound, fmt.Sprintf("/hop/%d", i), ""))
	}
	doer := &recordingDoer{responses: responses}
	d := downloader.New(downloader.Options{Client: doer, Fs: afero.NewMemMapFs()})

	err := d.Download(context.Background(), "http://host.net/start", "file", nil)
	var fdErr *downloader.FileDownloadError
	require.ErrorAs(t, err, &fdErr)
	assert.Equal(t, downloader.ReasonTooManyRedirects, fdErr.Reason)
	assert.Len(t, doer.requests, downloader.DefaultMaxRedirects+1)
}

func TestDownload_UnboundedRedirects(t *testing.T) {
	t.Parallel()
	responses := make([]*http.Response, 0, 30)
	for i := 0; i < 29; i++ {
		responses = append(responses, cannedResponse(http.StatusMovedPermanently, fmt.Sprintf("/hop/%d", i), ""))
	}
	responses = append(responses, cannedResponse(http.StatusOK, "", "done"))
	doer := &recordingDoer{responses: responses}
	fs := afero.NewMemMapFs()
	d := downloader.New(downloader.Options{Client: doer, Fs: fs, MaxRedirects: -1})

	res, err := d.Fetch(context.Background(), "http://host.net/start", "file", nil)
	require.NoError(t, err)
	assert.Len(t, res.Redirects, 29)
	assert.Equal(t, "http://host.net/hop/28", res.FinalURL)
}

func TestDownload_RedirectWithoutLocation(t *testing.T) {
	t.Parallel()
	doer := &recordingDoer{responses: []*http.Response{cannedResponse(http.StatusFound, "", "")}}
	fs := afero.NewMemMapFs()
	d := downloader.New(downloader.Options{Client: doer, Fs: fs})

	err := d.Download(context.Background(), "http://host.net/file", "file", nil)
	var fdErr *downloader.FileDownloadError
	require.ErrorAs(t, err, &fdErr)
	assert.Equal(t, downloader.ReasonMissingLocation, fdErr.Reason)

	exists, _ := afero.Exists(fs, "file")
	assert.False(t, exists)
}

func TestDownload_InvalidURL(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"this-is-not-a-reasonable-url", "ftp://host.net/file", "/just/a/path", "http://", "::invalid"} {
		raw := raw
		t.Run(raw, func(t *testing.T) {
			t.Parallel()
			doer := &failingDoer{}
			d := downloader.New(downloader.Options{Client: doer, Fs: afero.NewMemMapFs()})

			err := d.Download(context.Background(), raw, "./tmp/filename.ext", nil)
			require.Error(t, err)

			var urlErr *downloader.InvalidURLError
			require.ErrorAs(t, err, &urlErr)
			assert.Equal(t, raw, urlErr.URL)
			assert.ErrorIs(t, err, downloader.ErrDownload, "InvalidURLError should match the umbrella error")
			assert.Zero(t, doer.calls, "No request should be made for an invalid URL")
		})
	}
}

func TestDownload_UnreachableHost(t *testing.T) {
	t.Parallel()
	doer := &failingDoer{}
	d := downloader.New(downloader.Options{Client: doer, Fs: afero.NewMemMapFs()})

	err := d.Download(context.Background(), "https://invalid-host-for-testing.localdomain/file", "file", nil)
	require.Error(t, err)

	var fdErr *downloader.FileDownloadError
	require.ErrorAs(t, err, &fdErr)
	assert.Equal(t, downloader.ReasonHostNotFound, fdErr.Reason)
	assert.Equal(t, "The specified host could not be found.", err.Error())
	assert.Contains(t, errors.Unwrap(err).Error(), "no such host", "Transport cause should be kept")
}

func TestDownload_ConnectionRefused(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.NotFoundHandler())
	addr := server.URL
	server.Close()

	err := downloader.Download(context.Background(), addr+"/file", filepath.Join(t.TempDir(), "file"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "host could not be found")
}

func TestDownload_CancelledContext(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("never read"))
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := downloader.Download(ctx, server.URL, filepath.Join(t.TempDir(), "file"), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDownload_TLS(t *testing.T) {
	t.Parallel()
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotNil(t, r.TLS, "Request should arrive over TLS")
		_, _ = w.Write([]byte("secure"))
	}))
	defer server.Close()

	var hops []downloader.Hop
	fs := afero.NewMemMapFs()
	d := downloader.New(downloader.Options{
		Client: downloader.NewClient(server.Client().Transport, 0),
		Fs:     fs,
		OnHop:  func(h downloader.Hop) { hops = append(hops, h) },
	})
	require.NoError(t, d.Download(context.Background(), server.URL+"/secure", "secure", nil))

	require.Len(t, hops, 1)
	assert.True(t, hops[0].Endpoint.TLS)

	content, err := afero.ReadFile(fs, "secure")
	require.NoError(t, err)
	assert.Equal(t, "secure", string(content))
}

func TestDownload_ReadBodyError(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hj, ok := w.(http.Hijacker)
		if !ok {
			t.Error("webserver doesn't support hijacking")
			return
		}
		conn, _, err := hj.Hijack()
		if err != nil {
			t.Errorf("failed to hijack connection: %v", err)
			return
		}
		_, _ = conn.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 100\r\n\r\npartial data"))
		_ = conn.Close()
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "partial")
	err := downloader.Download(context.Background(), server.URL, dest, nil)
	require.Error(t, err, "Download should have returned an error when reading the body fails")
	assert.Contains(t, err.Error(), "failed to write response body from", "Error message mismatch for read body error")
}

func TestDownload_ProgressWrapsBody(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "5")
		_, _ = w.Write([]byte("12345"))
	}))
	defer server.Close()

	var gotSize int64
	var counted int64
	d := downloader.New(downloader.Options{
		Fs: afero.NewMemMapFs(),
		Progress: func(body io.Reader, size int64) io.Reader {
			gotSize = size
			return &countingReader{r: body, n: &counted}
		},
	})
	require.NoError(t, d.Download(context.Background(), server.URL, "progress", nil))
	assert.Equal(t, int64(5), gotSize)
	assert.Equal(t, int64(5), counted)
}

type countingReader struct {
	r io.Reader
	n *int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	*c.n += int64(n)
	return n, err
}

func TestDownload_UserAgent(t *testing.T) {
	t.Parallel()
	doer := &recordingDoer{responses: []*http.Response{
		cannedResponse(http.StatusOK, "", ""),
		cannedResponse(http.StatusOK, "", ""),
	}}
	fs := afero.NewMemMapFs()

	require.NoError(t, downloader.New(downloader.Options{Client: doer, Fs: fs}).Download(context.Background(), "http://host.net/a", "a", nil))
	require.NoError(t, downloader.New(downloader.Options{Client: doer, Fs: fs, UserAgent: "custom/1.0"}).
		Download(context.Background(), "http://host.net/b", "b", map[string]string{"user-agent": "header/2.0"}))

	require.Len(t, doer.requests, 2)
	assert.Equal(t, downloader.DefaultUserAgent, doer.requests[0].Header.Get("User-Agent"))
	assert.Equal(t, "header/2.0", doer.requests[1].Header.Get("User-Agent"), "Supplied headers override defaults")
}
