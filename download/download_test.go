package download

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFetchCachesAndReuses(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte("avatar-bytes"))
	}))
	defer srv.Close()

	m, err := NewManager(t.TempDir(), WithClient(srv.Client()))
	require.NoError(t, err)

	path, err := m.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, m.Path(srv.URL), path)

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "avatar-bytes", string(body))

	again, err := m.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, path, again)
	require.EqualValues(t, 1, hits.Load(), "a cached URL must not be refetched")
}

func TestConcurrentFetchesCollapse(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		w.Write([]byte("avatar-bytes"))
	}))
	defer srv.Close()

	m, err := NewManager(t.TempDir(), WithClient(srv.Client()))
	require.NoError(t, err)

	const callers = 8
	paths := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := m.Fetch(context.Background(), srv.URL)
			require.NoError(t, err)
			paths[i] = p
		}(i)
	}

	close(release)
	wg.Wait()

	require.EqualValues(t, 1, hits.Load(), "concurrent fetches must share one download")
	for _, p := range paths {
		require.Equal(t, paths[0], p)
	}
}

func TestTryFetchWhileBusy(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-release
		w.Write([]byte("avatar-bytes"))
	}))
	defer srv.Close()

	m, err := NewManager(t.TempDir(), WithClient(srv.Client()))
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := m.Fetch(context.Background(), srv.URL)
		require.NoError(t, err)
	}()

	<-started
	_, err = m.TryFetch(context.Background(), srv.URL)
	require.ErrorIs(t, err, ErrInFlight)

	close(release)
	<-done

	path, err := m.TryFetch(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, m.Path(srv.URL), path)
}

func TestFetchErrorLeavesNothingBehind(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()

	dir := t.TempDir()
	m, err := NewManager(dir, WithClient(srv.Client()))
	require.NoError(t, err)

	_, err = m.Fetch(context.Background(), srv.URL)
	require.Error(t, err)

	_, ok := m.Cached(srv.URL)
	require.False(t, ok)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries, "no partial files may survive a failed download")
}

func TestCachedMissing(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	_, ok := m.Cached("https://example.com/nonexistent.png")
	require.False(t, ok)
}
