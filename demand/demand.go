// Package demand deduplicates and rate-limits outgoing requests for
// missing metadata, notes and link previews. Requests come in as Feedback
// values from the pipeline; whatever the relays (or the preview fetcher)
// answer goes out the Results channel and re-enters the pipeline through
// its merged intake.
//
// Relays are untrusted and slow, several of them may lack the same data
// at once, and many incoming events may reference the same missing entity.
// Without the per-key suppression here a single UI action can fan out into
// dozens of duplicate outbound queries.
package demand

import (
	"context"
	"time"

	"fiatjaf.com/nostr"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"

	"github.com/plumeclient/plume"
	"github.com/plumeclient/plume/preview"
)

const (
	// suppressWindow is the per-key debounce for outbound requests.
	suppressWindow = 5 * time.Second

	// queryTimeout bounds every relay-scoped query.
	queryTimeout = 3 * time.Second

	// staleAfter is when a throttle entry becomes garbage; the janitor
	// sweeps these so the maps don't grow with every pubkey ever seen.
	staleAfter = 10 * time.Minute

	janitorInterval = time.Minute
)

// Querier is the slice of the relay transport the coordinator needs. A
// *nostr.Pool satisfies it; FetchMany must end once all relays signal
// end-of-stored-events.
type Querier interface {
	FetchMany(ctx context.Context, urls []string, filter nostr.Filter, opts nostr.SubscriptionOptions) chan nostr.RelayEvent
}

// Result is one unit fanned back into the pipeline: either an event that
// answered a query, or an out-of-band link preview.
type Result struct {
	Event   *nostr.RelayEvent
	Preview *preview.Preview
}

type Coordinator struct {
	querier  Querier
	previews *preview.Fetcher
	log      zerolog.Logger

	// live reports the relays the connection layer is currently talking
	// to; used for broadcast queries when no hint is available.
	live func() []string

	lastMetadataReq *xsync.MapOf[nostr.PubKey, time.Time]
	lastNoteReq     *xsync.MapOf[nostr.ID, time.Time]
	lastPreviewReq  *xsync.MapOf[string, time.Time]

	results chan Result
}

type Option func(*Coordinator)

func WithLogger(log zerolog.Logger) Option {
	return func(c *Coordinator) { c.log = log }
}

func WithPreviewFetcher(f *preview.Fetcher) Option {
	return func(c *Coordinator) { c.previews = f }
}

// NewCoordinator wires a coordinator to the relay transport. live may be
// nil when there is no connection-status collaborator; broadcast queries
// then have nowhere to go and are dropped with a log line.
func NewCoordinator(querier Querier, live func() []string, opts ...Option) *Coordinator {
	c := &Coordinator{
		querier:         querier,
		previews:        preview.NewFetcher(),
		log:             zerolog.Nop(),
		live:            live,
		lastMetadataReq: xsync.NewMapOf[nostr.PubKey, time.Time](),
		lastNoteReq:     xsync.NewMapOf[nostr.ID, time.Time](),
		lastPreviewReq:  xsync.NewMapOf[string, time.Time](),
		results:         make(chan Result, 64),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Results is the stream of fetched events and previews, to be merged into
// the pipeline intake.
func (c *Coordinator) Results() <-chan Result { return c.results }

// Dispatch routes one feedback value to the right request path. Each
// feedback value is consumed exactly once.
func (c *Coordinator) Dispatch(ctx context.Context, fb plume.Feedback) {
	switch need := fb.(type) {
	case plume.NeedMetadata:
		c.RequestMetadata(ctx, need.PubKey, need.Relays)
	case plume.NeedNote:
		c.RequestTextNote(ctx, need.ID, need.Relay)
	case plume.NeedPreview:
		c.RequestLinkPreview(ctx, need.URL)
	}
}

// RequestMetadata issues a bounded query for the latest kind-0 event of
// pk. Repeated requests for the same pubkey within the suppression window
// are dropped. Only the first relay hint is tried; spreading one metadata
// query across every hinted relay has not proven worth the traffic.
func (c *Coordinator) RequestMetadata(ctx context.Context, pk nostr.PubKey, relayHints []string) {
	if throttled(c.lastMetadataReq, pk) {
		c.log.Debug().Stringer("pubkey", pk).Msg("metadata request suppressed")
		return
	}

	urls := c.pick(relayHints)
	if len(urls) == 0 {
		c.log.Debug().Stringer("pubkey", pk).Msg("no relay to ask for metadata")
		return
	}

	filter := nostr.Filter{
		Kinds:   []nostr.Kind{nostr.KindProfileMetadata},
		Authors: []nostr.PubKey{pk},
		Limit:   1,
	}

	go c.fetch(ctx, urls, filter, queryTimeout, "metadata")
}

// RequestTextNote issues queries for a missing event: one by its id and
// one for events referencing that id, so it can be found either directly
// or through something that cites it. A hinted relay is queried alone with
// a timeout; without a hint the query is broadcast to every live relay and
// bounded only by the session context.
func (c *Coordinator) RequestTextNote(ctx context.Context, id nostr.ID, relayHint string) {
	if throttled(c.lastNoteReq, id) {
		c.log.Debug().Stringer("id", id).Msg("note request suppressed")
		return
	}

	byID := nostr.Filter{IDs: []nostr.ID{id}}
	byRef := nostr.Filter{Tags: nostr.TagMap{"e": []string{id.Hex()}}}

	if relayHint != "" {
		urls := []string{relayHint}
		go c.fetch(ctx, urls, byID, queryTimeout, "note")
		go c.fetch(ctx, urls, byRef, queryTimeout, "note-ref")
		return
	}

	urls := c.liveRelays()
	if len(urls) == 0 {
		c.log.Debug().Stringer("id", id).Msg("no live relay to ask for note")
		return
	}
	go c.fetch(ctx, urls, byID, 0, "note")
	go c.fetch(ctx, urls, byRef, 0, "note-ref")
}

// RequestLinkPreview fetches and summarizes a URL, fanning the result back
// into the stream. Previews share the same suppression window as the
// other requests so that a burst of notes citing one link costs one fetch.
func (c *Coordinator) RequestLinkPreview(ctx context.Context, url string) {
	if throttled(c.lastPreviewReq, url) {
		c.log.Debug().Str("url", url).Msg("preview request suppressed")
		return
	}

	go func() {
		p := c.previews.Fetch(ctx, url)
		select {
		case c.results <- Result{Preview: &p}:
		case <-ctx.Done():
		}
	}()
}

// StartJanitor periodically evicts throttle entries older than staleAfter
// so the maps stay bounded. It runs until ctx is canceled.
func (c *Coordinator) StartJanitor(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(janitorInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				sweep(c.lastMetadataReq, now)
				sweep(c.lastNoteReq, now)
				sweep(c.lastPreviewReq, now)
			}
		}
	}()
}

func sweep[K comparable](m *xsync.MapOf[K, time.Time], now time.Time) {
	m.Range(func(k K, at time.Time) bool {
		if now.Sub(at) > staleAfter {
			m.Delete(k)
		}
		return true
	})
}

// throttled marks the key as requested now and reports whether a request
// for it was already issued within the window. The mark-and-test is a
// single Compute so concurrent callers can't both pass.
func throttled[K comparable](m *xsync.MapOf[K, time.Time], k K) bool {
	suppressed := false
	m.Compute(k, func(last time.Time, loaded bool) (time.Time, bool) {
		now := time.Now()
		if loaded && now.Sub(last) < suppressWindow {
			suppressed = true
			return last, false
		}
		return now, false
	})
	return suppressed
}

func (c *Coordinator) fetch(ctx context.Context, urls []string, filter nostr.Filter, timeout time.Duration, label string) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	for ev := range c.querier.FetchMany(ctx, urls, filter, nostr.SubscriptionOptions{Label: label}) {
		ev := ev
		select {
		case c.results <- Result{Event: &ev}:
		case <-ctx.Done():
			return
		}
	}
}

// pick returns the first usable relay hint.
func (c *Coordinator) pick(hints []string) []string {
	for _, hint := range hints {
		if hint != "" {
			return []string{nostr.NormalizeURL(hint)}
		}
	}
	return nil
}

func (c *Coordinator) liveRelays() []string {
	if c.live == nil {
		return nil
	}
	return c.live()
}
