package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/hyperjump/docchat/internal/apperr"
	"github.com/hyperjump/docchat/internal/models"
)

// DefaultMaxBytes bounds a single document download.
const DefaultMaxBytes = 50 << 20

// Content is the raw bytes of a document. ContentType is the type reported by the source, if any.
type Content struct {
	Data        []byte
	ContentType string
}

// Fetcher retrieves the raw bytes at a location.
type Fetcher interface {
	Fetch(ctx context.Context, loc models.Location) (*Content, error)
}

// permanentFetch builds a fetch error that is not retried.
func permanentFetch(err error) error {
	e := apperr.E(apperr.KindFetch, "fetch", err)
	e.Retryable = false
	return e
}

// HTTPFetcher downloads documents over http and https.
type HTTPFetcher struct {
	client   *http.Client
	maxBytes int64
}

// NewHTTPFetcher returns a fetcher whose requests time out after timeout and whose bodies are
// limited to maxBytes. Zero values select 60s and DefaultMaxBytes.
func NewHTTPFetcher(timeout time.Duration, maxBytes int64) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &HTTPFetcher{client: &http.Client{Timeout: timeout}, maxBytes: maxBytes}
}

// Fetch downloads loc.URL. 404 and 410 are NotFound, 401 and 403 are Auth; network failures,
// 408, 429 and 5xx responses are retryable fetch errors.
func (f *HTTPFetcher) Fetch(ctx context.Context, loc models.Location) (*Content, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, loc.URL, nil)
	if err != nil {
		return nil, permanentFetch(fmt.Errorf("create request: %w", err))
	}
	resp, err := f.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, apperr.E(apperr.KindFetch, "fetch", fmt.Errorf("http request: %w", err))
	}
	defer resp.Body.Close()

	if err := statusError(resp.StatusCode); err != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, err
	}

	data, err := readLimited(resp.Body, f.maxBytes)
	if err != nil {
		return nil, err
	}
	return &Content{Data: data, ContentType: resp.Header.Get("Content-Type")}, nil
}

func statusError(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound || code == http.StatusGone:
		return apperr.Errorf(apperr.KindNotFound, "fetch", "document source returned %d", code)
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return apperr.Errorf(apperr.KindAuth, "fetch", "document source returned %d", code)
	case code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500:
		return apperr.Transient(apperr.KindFetch, "fetch", fmt.Errorf("document source returned %d", code))
	default:
		return permanentFetch(fmt.Errorf("document source returned %d", code))
	}
}

func readLimited(r io.Reader, maxBytes int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, apperr.E(apperr.KindFetch, "fetch", fmt.Errorf("read body: %w", err))
	}
	if int64(len(data)) > maxBytes {
		return nil, permanentFetch(fmt.Errorf("document exceeds %d bytes", maxBytes))
	}
	return data, nil
}

// FileFetcher reads documents from the local filesystem. Locations are file:// URLs or paths.
type FileFetcher struct {
	maxBytes int64
}

// NewFileFetcher returns a fetcher limited to maxBytes per file (DefaultMaxBytes when zero).
func NewFileFetcher(maxBytes int64) *FileFetcher {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &FileFetcher{maxBytes: maxBytes}
}

// Fetch reads the file at loc.URL.
func (f *FileFetcher) Fetch(ctx context.Context, loc models.Location) (*Content, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := filePath(loc.URL)
	file, err := os.Open(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, apperr.Errorf(apperr.KindNotFound, "fetch", "file not found: %s", path)
	case errors.Is(err, fs.ErrPermission):
		return nil, apperr.Errorf(apperr.KindAuth, "fetch", "permission denied: %s", path)
	case err != nil:
		return nil, permanentFetch(err)
	}
	defer file.Close()
	data, err := readLimited(file, f.maxBytes)
	if err != nil {
		return nil, err
	}
	return &Content{Data: data}, nil
}

func filePath(location string) string {
	if u, err := url.Parse(location); err == nil && u.Scheme == "file" {
		return u.Path
	}
	return location
}

// SchemeFetcher dispatches on the URL scheme of a location. Locations without a scheme use
// the "file" entry. Schemes missing from the map are refused.
type SchemeFetcher map[string]Fetcher

// NewSchemeFetcher returns a fetcher for the given schemes out of http, https and file. Other
// names are ignored; no schemes at all selects http and https.
func NewSchemeFetcher(timeout time.Duration, maxBytes int64, schemes ...string) SchemeFetcher {
	if len(schemes) == 0 {
		schemes = []string{"http", "https"}
	}
	h := NewHTTPFetcher(timeout, maxBytes)
	s := SchemeFetcher{}
	for _, scheme := range schemes {
		switch scheme = strings.ToLower(scheme); scheme {
		case "http", "https":
			s[scheme] = h
		case "file":
			s[scheme] = NewFileFetcher(maxBytes)
		}
	}
	return s
}

// SchemeOf returns the lower-cased scheme of location. Plain paths and Windows drive letters
// are "file".
func SchemeOf(location string) string {
	if u, err := url.Parse(location); err == nil && u.Scheme != "" && !isDrive(u.Scheme) {
		return strings.ToLower(u.Scheme)
	}
	return "file"
}

// CheckLocation returns an invalid_input error when location uses a scheme s does not serve.
func (s SchemeFetcher) CheckLocation(location string) error {
	if scheme := SchemeOf(location); s[scheme] == nil {
		return apperr.Errorf(apperr.KindInvalidInput, "register", "location scheme %q is not allowed", scheme)
	}
	return nil
}

// Fetch selects the fetcher registered for the scheme of loc.URL.
func (s SchemeFetcher) Fetch(ctx context.Context, loc models.Location) (*Content, error) {
	scheme := SchemeOf(loc.URL)
	f, ok := s[scheme]
	if !ok {
		return nil, permanentFetch(fmt.Errorf("location scheme %q is not allowed", scheme))
	}
	return f.Fetch(ctx, loc)
}

// isDrive reports whether scheme is a Windows drive letter parsed as a scheme.
func isDrive(scheme string) bool {
	return len(scheme) == 1
}
