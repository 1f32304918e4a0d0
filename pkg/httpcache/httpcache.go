// Package httpcache wraps net/http.Client with an on-disk, RFC 7234-flavored cache, keyed by
// (method, URL, Accept), with bodies content-addressed via pkg/filestore, concurrent requests for
// the same key coalesced through golang.org/x/sync/singleflight, and a small retry/backoff policy
// for transient transport errors.
package httpcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/datawire/dlib/dlog"
	"golang.org/x/sync/singleflight"

	"github.com/datawire/rip/pkg/filestore"
	"github.com/datawire/rip/pkg/riperr"
)

// entry is the on-disk index record for one cached (method, url, accept) key.
type entry struct {
	Digest       filestore.Digest `json:"digest"`
	Size         int64            `json:"size"`
	ETag         string           `json:"etag,omitempty"`
	LastModified string           `json:"last_modified,omitempty"`
	FinalURL     string           `json:"final_url,omitempty"`
	CachedAt     time.Time        `json:"cached_at"`
}

// StatusError reports a non-2xx HTTP response, the same way pep503.HTTPError does for the
// simple-index client.
type StatusError struct {
	URL        string
	Status     string
	StatusCode int
}

func (e *StatusError) Error() string { return fmt.Sprintf("GET %q: HTTP %s", e.URL, e.Status) }

// Client is a caching HTTP GET client. The zero value is not usable; construct with New.
type Client struct {
	HTTPClient *http.Client
	Store      *filestore.Store
	MaxRetries int
	BaseDelay  time.Duration

	indexPath string
	mu        sync.Mutex
	index     map[string]entry
	group     singleflight.Group
}

func New(store *filestore.Store) *Client {
	return &Client{
		HTTPClient: http.DefaultClient,
		Store:      store,
		MaxRetries: 3,
		BaseDelay:  250 * time.Millisecond,
		indexPath:  filepath.Join(store.Dir, "index.json"),
		index:      make(map[string]entry),
	}
}

func (c *Client) loadIndex() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.index) > 0 {
		return
	}
	data, err := os.ReadFile(c.indexPath)
	if err != nil {
		return
	}
	_ = json.Unmarshal(data, &c.index)
}

func (c *Client) saveIndex() error {
	c.mu.Lock()
	data, err := json.MarshalIndent(c.index, "", "  ")
	c.mu.Unlock()
	if err != nil {
		return err
	}
	tmp := c.indexPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, c.indexPath)
}

// Result is a cached (or freshly fetched) response body, available either as a stream (Open) or
// from its on-disk path (for callers, like lazywheel, that need random access).
type Result struct {
	Digest filestore.Digest
	Size   int64
	// FinalURL is the request URL after following redirects. It is recorded for callers but is
	// not part of the cache key. Empty for a Result served out of an older index entry that
	// predates this field.
	FinalURL string
	store    *filestore.Store
}

func (r Result) Open() (io.ReadCloser, error) { return r.store.Open(r.Digest) }
func (r Result) Path() string                 { return r.store.Path(r.Digest) }

// FetchMode selects one of the three RFC 7234-flavored fetch policies spec.md §4.2 names.
type FetchMode int

const (
	modeUseCache FetchMode = iota
	modeNoStore
	modeOnlyIfCached
)

// FetchPolicy configures one call to Client.Get. The zero value is UseCache(nil): serve a cached
// body forever once present, never revalidating -- the right default for immutable,
// content-addressed artifact URLs (wheels, sdists, PEP 658 metadata files).
type FetchPolicy struct {
	mode   FetchMode
	maxAge *time.Duration
	accept string
}

// NoStore never reads or writes the cache: every call is a fresh network round-trip.
func NoStore() FetchPolicy { return FetchPolicy{mode: modeNoStore} }

// OnlyIfCached returns the cached body, or fails with riperr.KindNotCached; it never touches the
// network.
func OnlyIfCached() FetchPolicy { return FetchPolicy{mode: modeOnlyIfCached} }

// UseCache returns a cached entry when it is within maxAge of being stored, else revalidates it
// with If-None-Match/If-Modified-Since before serving (on 304) or replacing (on 200) the cached
// body. A nil maxAge means "never stale": once cached, always served without revalidation.
func UseCache(maxAge *time.Duration) FetchPolicy {
	return FetchPolicy{mode: modeUseCache, maxAge: maxAge}
}

// WithAccept sets the Accept header sent on any network round-trip made under this policy. The
// Accept value is part of the cache key, together with the method and the request URL; the
// post-redirect URL and Vary response headers are not.
func (p FetchPolicy) WithAccept(accept string) FetchPolicy {
	p.accept = accept
	return p
}

func (p FetchPolicy) fresh(e entry) bool {
	if p.maxAge == nil {
		return true
	}
	return time.Since(e.CachedAt) < *p.maxAge
}

func cacheKey(method, url, accept string) string {
	sum := sha256.Sum256([]byte(method + "\n" + url + "\n" + accept))
	return hex.EncodeToString(sum[:])
}

// Get fetches url under policy (UseCache(nil) if none given), serving from cache when a suitable
// entry exists, else performing a GET (with retry/backoff on transport errors) and caching the
// result. Concurrent calls for the same (url, policy.accept) are coalesced into a single
// underlying fetch.
func (c *Client) Get(ctx context.Context, url string, opts ...FetchPolicy) (Result, error) {
	policy := UseCache(nil)
	if len(opts) > 0 {
		policy = opts[0]
	}
	key := cacheKey(http.MethodGet, url, policy.accept)

	if policy.mode == modeNoStore {
		v, err, _ := c.group.Do(key+":nostore", func() (interface{}, error) {
			return c.fetch(ctx, url, policy, entry{})
		})
		if err != nil {
			return Result{}, err
		}
		return v.(Result), nil
	}

	c.loadIndex()
	c.mu.Lock()
	e, hit := c.index[key]
	c.mu.Unlock()
	hit = hit && c.Store.Has(e.Digest)

	switch {
	case hit && policy.mode == modeOnlyIfCached:
		dlog.Debugf(ctx, "httpcache: hit %s", url)
		return Result{Digest: e.Digest, Size: e.Size, FinalURL: e.FinalURL, store: c.Store}, nil
	case !hit && policy.mode == modeOnlyIfCached:
		return Result{}, riperr.New(riperr.KindNotCached, "not cached: %s", url)
	case hit && policy.fresh(e):
		dlog.Debugf(ctx, "httpcache: hit %s", url)
		return Result{Digest: e.Digest, Size: e.Size, FinalURL: e.FinalURL, store: c.Store}, nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		return c.fetch(ctx, url, policy, e)
	})
	if err != nil {
		return Result{}, err
	}
	return v.(Result), nil
}

// fetch performs the network round-trip for Get. When prior is non-zero (a stale cache entry) it
// revalidates with If-None-Match/If-Modified-Since and, on 304, re-serves the cached body instead
// of downloading again.
func (c *Client) fetch(ctx context.Context, url string, policy FetchPolicy, prior entry) (Result, error) {
	revalidating := prior.Digest != ""
	if revalidating {
		dlog.Debugf(ctx, "httpcache: stale %s, revalidating", url)
	} else {
		dlog.Debugf(ctx, "httpcache: miss %s", url)
	}

	key := cacheKey(http.MethodGet, url, policy.accept)

	var lastErr error
	for attempt := 0; attempt <= c.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.BaseDelay * time.Duration(1<<(attempt-1))
			dlog.Debugf(ctx, "httpcache: retry %d/%d for %s after %s", attempt, c.MaxRetries, url, delay)
			select {
			case <-ctx.Done():
				return Result{}, ctx.Err()
			case <-time.After(delay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return Result{}, riperr.Wrap(riperr.KindTransport, err, "build request for %s", url)
		}
		if policy.accept != "" {
			req.Header.Set("Accept", policy.accept)
		}
		if revalidating {
			if prior.ETag != "" {
				req.Header.Set("If-None-Match", prior.ETag)
			}
			if prior.LastModified != "" {
				req.Header.Set("If-Modified-Since", prior.LastModified)
			}
		}

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		if revalidating && resp.StatusCode == http.StatusNotModified {
			_ = resp.Body.Close()
			prior.CachedAt = time.Now()
			if policy.mode != modeNoStore {
				c.mu.Lock()
				c.index[key] = prior
				c.mu.Unlock()
				if err := c.saveIndex(); err != nil {
					dlog.Warnf(ctx, "httpcache: failed to persist index: %v", err)
				}
			}
			return Result{Digest: prior.Digest, Size: prior.Size, FinalURL: prior.FinalURL, store: c.Store}, nil
		}

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			_ = resp.Body.Close()
			statusErr := &StatusError{URL: url, Status: resp.Status, StatusCode: resp.StatusCode}
			lastErr = fmt.Errorf("%w: %s", statusErr, body)
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				// client errors aren't retryable
				return Result{}, lastErr
			}
			continue
		}

		noStore := policy.mode == modeNoStore || cacheControlNoStore(resp.Header.Get("Cache-Control"))
		digest, size, err := c.Store.Put(ctx, resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			return Result{}, riperr.Wrap(riperr.KindIO, err, "store body of %s", url)
		}

		finalURL := url
		if resp.Request != nil && resp.Request.URL != nil {
			finalURL = resp.Request.URL.String()
		}

		if !noStore {
			c.mu.Lock()
			c.index[key] = entry{
				Digest:       digest,
				Size:         size,
				ETag:         resp.Header.Get("ETag"),
				LastModified: resp.Header.Get("Last-Modified"),
				FinalURL:     finalURL,
				CachedAt:     time.Now(),
			}
			c.mu.Unlock()
			if err := c.saveIndex(); err != nil {
				dlog.Warnf(ctx, "httpcache: failed to persist index: %v", err)
			}
		}

		return Result{Digest: digest, Size: size, FinalURL: finalURL, store: c.Store}, nil
	}

	return Result{}, riperr.Wrap(riperr.KindTransport, lastErr, "GET %s", url)
}

// cacheControlNoStore reports whether a Cache-Control response header includes the no-store
// directive (case-insensitive, ignoring other directives in the comma list).
func cacheControlNoStore(cacheControl string) bool {
	for _, directive := range strings.Split(cacheControl, ",") {
		if strings.EqualFold(strings.TrimSpace(directive), "no-store") {
			return true
		}
	}
	return false
}
