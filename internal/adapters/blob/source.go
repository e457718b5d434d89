package blob

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/nasaharvest/street2sat/internal/core/domain"
)

const gcsPublicHost = "https://storage.googleapis.com/"

// Source implements ports.ImageSource for local files and HTTP(S) URLs.
// gs:// URIs are fetched through the public Cloud Storage endpoint.
type Source struct {
	root    string
	http    *fasthttp.Client
	timeout time.Duration
	retries int
}

// New creates a Source. Relative file paths resolve against root; an empty
// root means the working directory.
func New(root string, timeout time.Duration) *Source {
	return &Source{
		root:    root,
		http:    &fasthttp.Client{Name: "street2sat-fetch", MaxResponseBodySize: 64 << 20},
		timeout: timeout,
		retries: 3,
	}
}

// Fetch returns the bytes behind uri.
func (s *Source) Fetch(ctx context.Context, uri string) ([]byte, error) {
	switch {
	case strings.HasPrefix(uri, "http://"), strings.HasPrefix(uri, "https://"):
		return s.fetchHTTP(ctx, uri)
	case strings.HasPrefix(uri, "gs://"):
		return s.fetchHTTP(ctx, gcsPublicHost+strings.TrimPrefix(uri, "gs://"))
	case strings.HasPrefix(uri, "file://"):
		return s.readFile(strings.TrimPrefix(uri, "file://"))
	case strings.Contains(uri, "://"):
		return nil, fmt.Errorf("unsupported image uri %q", uri)
	default:
		return s.readFile(uri)
	}
}

func (s *Source) readFile(path string) ([]byte, error) {
	if s.root != "" && !filepath.IsAbs(path) {
		path = filepath.Join(s.root, path)
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("image %s: %w", path, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read image %s: %w", path, err)
	}
	return data, nil
}

// fetchHTTP retries 404s a few times: upload notifications can arrive before
// the object is readable.
func (s *Source) fetchHTTP(ctx context.Context, url string) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodGet)

	for attempt := 0; ; attempt++ {
		if err := s.http.DoTimeout(req, resp, s.timeout); err != nil {
			return nil, fmt.Errorf("fetch %s: %w", url, err)
		}
		code := resp.StatusCode()
		if code == fasthttp.StatusOK {
			return append([]byte(nil), resp.Body()...), nil
		}
		if code != fasthttp.StatusNotFound {
			return nil, fmt.Errorf("fetch %s: HTTP %d", url, code)
		}
		if attempt >= s.retries {
			return nil, fmt.Errorf("fetch %s: %w", url, domain.ErrNotFound)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff(attempt)):
		}
	}
}

func backoff(attempt int) time.Duration {
	return time.Duration(attempt+1) * 500 * time.Millisecond
}
