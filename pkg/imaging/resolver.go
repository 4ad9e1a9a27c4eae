package imaging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const (
	// DefaultFetchTimeout is the hard limit on one URL fetch.
	DefaultFetchTimeout = 5 * time.Second
	// DefaultMaxFetchBytes caps the size of a fetched image body.
	DefaultMaxFetchBytes int64 = 20 << 20

	userAgent = "facecompare/1.0"
)

// ErrTooLarge is returned when a fetched body exceeds the configured limit.
var ErrTooLarge = errors.New("image exceeds size limit")

// ErrUnsupportedScheme is returned for URLs that are not http or https.
var ErrUnsupportedScheme = errors.New("unsupported URL scheme")

// Resolver fetches URL-sourced images over HTTP and decodes uploads.
// It holds no per-request state and is safe for concurrent use.
type Resolver struct {
	client    *http.Client
	timeout   time.Duration
	maxBytes  int64
	maxPixels int64
}

// NewResolver creates a Resolver. Zero values select the defaults.
func NewResolver(timeout time.Duration, maxBytes int64) *Resolver {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxFetchBytes
	}
	return &Resolver{
		client:    &http.Client{Timeout: timeout},
		timeout:   timeout,
		maxBytes:  maxBytes,
		maxPixels: DefaultMaxPixels,
	}
}

// SetMaxPixels sets the decode limit on width*height. n <= 0 restores
// DefaultMaxPixels.
func (r *Resolver) SetMaxPixels(n int64) {
	if n <= 0 {
		n = DefaultMaxPixels
	}
	r.maxPixels = n
}

// Fetch downloads the body at rawURL. The fetch is bounded by the resolver
// timeout regardless of any deadline on ctx.
func (r *Resolver) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL %q: %w", rawURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, rawURL)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("bad status: %s for url: %s", resp.Status, rawURL)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, r.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(data)) > r.maxBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, r.maxBytes)
	}
	return data, nil
}

// FromURL fetches and decodes the image at rawURL. The raw bytes are
// returned alongside the raster for fingerprinting.
func (r *Resolver) FromURL(ctx context.Context, rawURL string) (*Raster, []byte, error) {
	data, err := r.Fetch(ctx, rawURL)
	if err != nil {
		return nil, nil, err
	}
	img, err := Decode(data, r.maxPixels)
	if err != nil {
		return nil, nil, err
	}
	return img, data, nil
}

// FromUpload decodes uploaded bytes.
func (r *Resolver) FromUpload(data []byte) (*Raster, error) {
	return Decode(data, r.maxPixels)
}
