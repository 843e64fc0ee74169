// Package preview fetches best-effort link previews: a title, description
// and image for an arbitrary URL. Failures are carried inside the Preview
// value, never as pipeline errors, so the UI can show an error string in
// place of a thumbnail.
package preview

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/html"
)

const maxBody = 512 << 10 // previews never need more than the head of the page

// Preview is the result of fetching one URL.
type Preview struct {
	URL         string
	Title       string
	Description string
	ImageURL    string
	ContentType string

	// Error is the user-presentable failure string, empty on success.
	Error string
}

type Fetcher struct {
	client *http.Client
	log    zerolog.Logger
}

type Option func(*Fetcher)

func WithClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

func WithLogger(log zerolog.Logger) Option {
	return func(f *Fetcher) { f.log = log }
}

func NewFetcher(opts ...Option) *Fetcher {
	f := &Fetcher{
		client: &http.Client{Timeout: 10 * time.Second},
		log:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch retrieves the URL and sniffs what it found: an html document is
// mined for title/description/og tags, an image is its own preview,
// anything else degrades to a bare link. Network failures come back as a
// Preview carrying an error string.
func (f *Fetcher) Fetch(ctx context.Context, url string) Preview {
	p := Preview{URL: url}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		p.Error = fmt.Sprintf("invalid url: %v", err)
		return p
	}

	res, err := f.client.Do(req)
	if err != nil {
		f.log.Debug().Err(err).Str("url", url).Msg("preview fetch failed")
		p.Error = "could not be loaded"
		return p
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		p.Error = fmt.Sprintf("server replied %d", res.StatusCode)
		return p
	}

	ct := res.Header.Get("Content-Type")
	if mt, _, err := mime.ParseMediaType(ct); err == nil {
		p.ContentType = mt
	}

	switch {
	case strings.HasPrefix(p.ContentType, "image/"):
		p.ImageURL = url
	case p.ContentType == "text/html" || p.ContentType == "application/xhtml+xml":
		fillFromHTML(&p, io.LimitReader(res.Body, maxBody))
	}

	return p
}

// fillFromHTML walks the document for <title> and the usual meta tags.
// og: values win over the plain ones.
func fillFromHTML(p *Preview, r io.Reader) {
	doc, err := html.Parse(r)
	if err != nil {
		return
	}

	var title, ogTitle, desc, ogDesc, ogImage string

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "title":
				if n.FirstChild != nil && title == "" {
					title = strings.TrimSpace(n.FirstChild.Data)
				}
			case "meta":
				var name, property, content string
				for _, a := range n.Attr {
					switch a.Key {
					case "name":
						name = a.Val
					case "property":
						property = a.Val
					case "content":
						content = a.Val
					}
				}
				switch {
				case name == "description":
					desc = content
				case property == "og:title":
					ogTitle = content
				case property == "og:description":
					ogDesc = content
				case property == "og:image":
					ogImage = content
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	p.Title = firstNonEmpty(ogTitle, title)
	p.Description = firstNonEmpty(ogDesc, desc)
	p.ImageURL = ogImage
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
