// Package download is a url-addressed file cache for avatars and banners.
// Cache filenames are the sha256 of the URL string, not of the content, so
// changed content behind a stable URL is not re-fetched; that staleness is
// accepted.
package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// ErrInFlight is returned by TryFetch when another caller is already
// downloading the same URL. It means "not yet available", not failure.
var ErrInFlight = errors.New("download already in flight")

const maxFileSize = 16 << 20 // 16 MiB

type Manager struct {
	dir      string
	client   *http.Client
	log      zerolog.Logger
	group    singleflight.Group
	inflight *xsync.MapOf[string, struct{}]
}

type Option func(*Manager)

func WithClient(c *http.Client) Option {
	return func(m *Manager) { m.client = c }
}

func WithLogger(log zerolog.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// NewManager creates a cache rooted at dir, creating it if needed.
func NewManager(dir string, opts ...Option) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create cache dir %s: %w", dir, err)
	}
	m := &Manager{
		dir:      dir,
		client:   &http.Client{Timeout: 30 * time.Second},
		log:      zerolog.Nop(),
		inflight: xsync.NewMapOf[string, struct{}](),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Path returns the cache path a URL maps to, whether or not it exists.
func (m *Manager) Path(url string) string {
	sum := sha256.Sum256([]byte(url))
	return filepath.Join(m.dir, hex.EncodeToString(sum[:]))
}

// Cached reports whether the URL is already in the cache and where.
func (m *Manager) Cached(url string) (string, bool) {
	path := m.Path(url)
	if _, err := os.Stat(path); err != nil {
		return "", false
	}
	return path, true
}

// Fetch returns the cached path for the URL, downloading it first if
// necessary. Concurrent calls for the same URL are collapsed into one
// download and all of them observe the same path.
func (m *Manager) Fetch(ctx context.Context, url string) (string, error) {
	if path, ok := m.Cached(url); ok {
		return path, nil
	}

	path, err, _ := m.group.Do(url, func() (any, error) {
		m.inflight.Store(url, struct{}{})
		defer m.inflight.Delete(url)
		return m.download(ctx, url)
	})
	if err != nil {
		return "", err
	}
	return path.(string), nil
}

// TryFetch is Fetch without waiting on somebody else's download: when the
// URL is mid-download elsewhere it returns ErrInFlight immediately.
func (m *Manager) TryFetch(ctx context.Context, url string) (string, error) {
	if path, ok := m.Cached(url); ok {
		return path, nil
	}
	if _, busy := m.inflight.Load(url); busy {
		return "", ErrInFlight
	}
	return m.Fetch(ctx, url)
}

// download streams the body to a temp file in the cache dir and atomically
// renames it into place, so a concurrent reader never sees a partial file.
func (m *Manager) download(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build request for %s: %w", url, err)
	}

	res, err := m.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetching %s returned status %d", url, res.StatusCode)
	}

	tmp, err := os.CreateTemp(m.dir, "partial-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, io.LimitReader(res.Body, maxFileSize)); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to stream %s: %w", url, err)
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	path := m.Path(url)
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("failed to move %s into cache: %w", url, err)
	}

	m.log.Debug().Str("url", url).Str("path", path).Msg("downloaded")
	return path, nil
}
