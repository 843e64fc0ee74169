package preview

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, contentType, body string) (*Fetcher, string) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", contentType)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return NewFetcher(WithClient(srv.Client())), srv.URL
}

func TestFetchHTMLTitleAndDescription(t *testing.T) {
	f, url := serve(t, "text/html; charset=utf-8", `<!doctype html>
		<html><head>
		<title>Plain Title</title>
		<meta name="description" content="plain description">
		</head><body>ignored</body></html>`)

	p := f.Fetch(context.Background(), url)
	require.Empty(t, p.Error)
	require.Equal(t, "text/html", p.ContentType)
	require.Equal(t, "Plain Title", p.Title)
	require.Equal(t, "plain description", p.Description)
	require.Empty(t, p.ImageURL)
}

func TestFetchOpenGraphWins(t *testing.T) {
	f, url := serve(t, "text/html", `<html><head>
		<title>Plain Title</title>
		<meta name="description" content="plain description">
		<meta property="og:title" content="OG Title">
		<meta property="og:description" content="og description">
		<meta property="og:image" content="https://cdn.example.com/cover.png">
		</head></html>`)

	p := f.Fetch(context.Background(), url)
	require.Equal(t, "OG Title", p.Title)
	require.Equal(t, "og description", p.Description)
	require.Equal(t, "https://cdn.example.com/cover.png", p.ImageURL)
}

func TestFetchImageIsItsOwnPreview(t *testing.T) {
	f, url := serve(t, "image/png", "\x89PNG\r\n")

	p := f.Fetch(context.Background(), url)
	require.Empty(t, p.Error)
	require.Equal(t, "image/png", p.ContentType)
	require.Equal(t, url, p.ImageURL)
	require.Empty(t, p.Title)
}

func TestFetchNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()
	f := NewFetcher(WithClient(srv.Client()))

	p := f.Fetch(context.Background(), srv.URL)
	require.Equal(t, "server replied 404", p.Error)
}

func TestFetchUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	client := srv.Client()
	url := srv.URL
	srv.Close()

	p := NewFetcher(WithClient(client)).Fetch(context.Background(), url)
	require.Equal(t, url, p.URL)
	require.Equal(t, "could not be loaded", p.Error)
}

func TestFetchOtherContentTypeDegrades(t *testing.T) {
	f, url := serve(t, "application/pdf", "%PDF-1.4")

	p := f.Fetch(context.Background(), url)
	require.Empty(t, p.Error)
	require.Equal(t, "application/pdf", p.ContentType)
	require.Empty(t, p.Title)
	require.Empty(t, p.ImageURL)
}
