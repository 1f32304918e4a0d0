package httpcache

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/datawire/dlib/dlog"
)

// RangeReader fetches byte ranges of a single, large, immutable remote resource (a wheel file)
// without caching the whole thing, for pkg/lazywheel's use. It first probes with a HEAD request
// to learn the total size and whether the server supports `Accept-Ranges: bytes`; if not, callers
// should fall back to a plain cached Get of the whole resource.
type RangeReader struct {
	client        *Client
	url           string
	size          int64
	acceptsRanges bool
}

// NewRangeReader probes url and returns a RangeReader over it.
func (c *Client) NewRangeReader(ctx context.Context, url string) (*RangeReader, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return nil, fmt.Errorf("httpcache.NewRangeReader: %w", err)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("httpcache.NewRangeReader: HEAD %q: %w", url, err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("httpcache.NewRangeReader: HEAD %q: HTTP %s", url, resp.Status)
	}

	return &RangeReader{
		client:        c,
		url:           url,
		size:          resp.ContentLength,
		acceptsRanges: resp.Header.Get("Accept-Ranges") == "bytes",
	}, nil
}

// Size returns the resource's total length, as reported by the HEAD probe.
func (r *RangeReader) Size() int64 { return r.size }

// SupportsRanges reports whether the server advertised `Accept-Ranges: bytes`.
func (r *RangeReader) SupportsRanges() bool { return r.acceptsRanges }

// ReadRange fetches [start, start+length) and returns its bytes. Range requests are not cached
// (they typically address disjoint, one-shot windows of a large file), but transient transport
// errors are retried with the same backoff policy as Client.Get.
func (r *RangeReader) ReadRange(ctx context.Context, start, length int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return nil, fmt.Errorf("httpcache.ReadRange: %w", err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, start+length-1))

	var lastErr error
	for attempt := 0; attempt <= r.client.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.client.BaseDelay * time.Duration(1<<(attempt-1))
			dlog.Debugf(ctx, "httpcache: retrying range read %d-%d of %s after %s", start, start+length-1, r.url, delay)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
		resp, err := r.client.HTTPClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
			_ = resp.Body.Close()
			lastErr = fmt.Errorf("GET (range) %q: HTTP %s", r.url, resp.Status)
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return nil, lastErr
			}
			continue
		}
		data, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		return data, nil
	}
	return nil, fmt.Errorf("httpcache.ReadRange: %w", lastErr)
}
