// Package pipeline is the ingestion orchestrator: it consumes the raw
// relay event stream merged with the demand coordinator's fetch results,
// persists and dedupes, branches by event kind, resolves authorship and
// references, and emits fully-populated Incoming messages.
//
// Per-event processing is independent and runs with bounded parallelism;
// there is no ordering guarantee across events. An event referencing
// another may be fully processed before the referenced one arrives, which
// is why resolution degrades to "unresolved for now, filled later through
// the content holes" instead of blocking.
package pipeline

import (
	"context"
	"strings"
	"time"

	"fiatjaf.com/nostr"
	"github.com/bep/debounce"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/plumeclient/plume"
	"github.com/plumeclient/plume/cache"
	"github.com/plumeclient/plume/demand"
	"github.com/plumeclient/plume/download"
	"github.com/plumeclient/plume/store"
)

const defaultParallelism = 64

// Pipeline is the owning session context: the store, demand coordinator
// and download manager are its fields, constructed once and passed to it
// explicitly. The handles themselves are cheap to share; there is no
// ambient global state.
type Pipeline struct {
	store     *store.Store
	demand    *demand.Coordinator
	downloads *download.Manager
	personas  cache.Cache32[plume.Persona]
	log       zerolog.Logger

	// liveRelays reports the relays the connection layer is currently
	// connected to, for the relay-information refresher. May be nil.
	liveRelays func() []string

	parallelism int64

	out      chan plume.Incoming
	feedback chan plume.Feedback

	refreshKick chan struct{}
	kick        func(func())
}

type Option func(*Pipeline)

func WithLogger(log zerolog.Logger) Option {
	return func(p *Pipeline) { p.log = log }
}

func WithLiveRelays(live func() []string) Option {
	return func(p *Pipeline) { p.liveRelays = live }
}

func WithParallelism(n int64) Option {
	return func(p *Pipeline) { p.parallelism = n }
}

func WithPersonaCache(c cache.Cache32[plume.Persona]) Option {
	return func(p *Pipeline) { p.personas = c }
}

func New(st *store.Store, dm *demand.Coordinator, dl *download.Manager, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:       st,
		demand:      dm,
		downloads:   dl,
		personas:    cache.New[plume.Persona](8000),
		log:         zerolog.Nop(),
		parallelism: defaultParallelism,
		out:         make(chan plume.Incoming, 64),
		feedback:    make(chan plume.Feedback, 256),
		refreshKick: make(chan struct{}, 1),
		kick:        debounce.New(2 * time.Second),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Incoming is the stream of domain events this session produces.
// Consumers receive completions, not arrivals: a note from a slow relay
// can surface after a younger one, and presentation order is theirs to
// decide.
func (p *Pipeline) Incoming() <-chan plume.Incoming { return p.out }

// Run consumes the primary relay stream merged with the demand
// coordinator's results until ctx is canceled. It closes the Incoming
// channel once every in-flight event has drained. Run is session-scoped:
// it is not restarted.
func (p *Pipeline) Run(ctx context.Context, primary <-chan nostr.RelayEvent) {
	p.demand.StartJanitor(ctx)
	go p.dispatchFeedback(ctx)

	sem := semaphore.NewWeighted(p.parallelism)
	results := p.demand.Results()

	defer func() {
		// wait for in-flight processing before closing the output
		_ = sem.Acquire(context.Background(), p.parallelism)
		close(p.out)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-primary:
			if !ok {
				primary = nil
				continue
			}
			p.spawn(ctx, sem, originOf(ev), ev.Event)

		case res := <-results:
			if res.Preview != nil {
				p.emit(ctx, plume.IncomingPreview{Preview: *res.Preview})
				continue
			}
			if res.Event != nil {
				p.spawn(ctx, sem, originOf(*res.Event), res.Event.Event)
			}
		}
	}
}

func originOf(ev nostr.RelayEvent) string {
	if ev.Relay == nil {
		return ""
	}
	return ev.Relay.URL
}

func (p *Pipeline) spawn(ctx context.Context, sem *semaphore.Weighted, origin string, evt nostr.Event) {
	if err := sem.Acquire(ctx, 1); err != nil {
		return
	}
	go func() {
		defer sem.Release(1)
		p.process(ctx, origin, evt)
	}()
}

// process handles one arrived event. Errors stay confined to this event;
// nothing here can abort concurrently in-flight processing.
func (p *Pipeline) process(ctx context.Context, origin string, evt nostr.Event) {
	p.recordRelays(ctx, origin, evt)

	switch evt.Kind {
	case nostr.KindTextNote:
		msg, err := p.processTextNote(ctx, origin, evt, nil)
		if err != nil {
			p.log.Error().Err(err).Stringer("id", evt.ID).Msg("failed to process note")
			return
		}
		p.emit(ctx, *msg)

	case nostr.KindRepost:
		p.processRepost(ctx, origin, evt)

	case nostr.KindProfileMetadata:
		p.emit(ctx, p.processMetadata(ctx, evt))

	case nostr.KindReaction:
		target, ok := plume.ReactsTo(evt.Tags)
		if !ok {
			// a reaction without a target is not meaningful
			return
		}
		glyph := evt.Content
		if glyph == "" {
			glyph = "+"
		}
		p.emit(ctx, plume.IncomingReaction{Event: evt, Target: target, Glyph: glyph})

	default:
		// other kinds are out of scope
	}
}

// recordRelays stores the origin relay and every relay URL embedded in the
// event's tags. Best-effort: storage trouble here never stops ingestion.
func (p *Pipeline) recordRelays(ctx context.Context, origin string, evt nostr.Event) {
	offered := false
	offer := func(url string) {
		if err := p.store.OfferRelay(ctx, url); err != nil {
			p.log.Debug().Err(err).Str("relay", url).Msg("failed to record relay")
			return
		}
		offered = true
	}

	if origin != "" {
		offer(origin)
	}
	for _, tag := range evt.Tags {
		// the wire codec accepts zero-length tags
		if len(tag) < 2 {
			continue
		}
		for _, item := range tag[1:] {
			if strings.HasPrefix(item, "wss://") || strings.HasPrefix(item, "ws://") {
				offer(item)
			}
		}
	}

	if offered {
		p.kick(p.kickRefresh)
	}
}

func (p *Pipeline) emit(ctx context.Context, msg plume.Incoming) {
	select {
	case p.out <- msg:
	case <-ctx.Done():
	}
}

// need files one feedback request; the demand coordinator consumes it
// exactly once.
func (p *Pipeline) need(ctx context.Context, fb plume.Feedback) {
	select {
	case p.feedback <- fb:
	case <-ctx.Done():
	}
}

// dispatchFeedback is the session-scoped task draining feedback into the
// demand coordinator.
func (p *Pipeline) dispatchFeedback(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case fb := <-p.feedback:
			p.demand.Dispatch(ctx, fb)
		}
	}
}

// lookupPersona resolves a pubkey from the in-memory cache or the store.
// The second return reports whether anything better than the empty
// fallback is known; callers that need liveness file a NeedMetadata on a
// miss. A failed store read counts as a miss, not an error.
func (p *Pipeline) lookupPersona(ctx context.Context, pk nostr.PubKey) (plume.Persona, bool) {
	if persona, ok := p.personas.Get(pk); ok {
		return persona, true
	}

	evt, verifiedAt, err := p.store.PersonaFor(ctx, pk)
	if err != nil {
		p.log.Debug().Err(err).Stringer("pubkey", pk).Msg("metadata read failed")
		return plume.EmptyPersona(pk), false
	}
	if evt == nil {
		return plume.EmptyPersona(pk), false
	}

	persona := plume.ParsePersona(*evt)
	deadline := verifiedAt.Add(store.NIP05VerifyWindow)
	persona.Verified = time.Now().Before(deadline)
	p.cachePersona(persona, deadline)
	return persona, true
}

// cachePersona stores a persona in the in-memory cache. A verified persona
// may only be cached until its trust window runs out, so that the next
// lookup re-reads the store and sees the flag decay.
func (p *Pipeline) cachePersona(persona plume.Persona, deadline time.Time) {
	if persona.Verified {
		p.personas.SetWithTTL(persona.PubKey, persona, time.Until(deadline))
		return
	}
	p.personas.Set(persona.PubKey, persona)
}

// resolvePersona is lookupPersona plus the on-miss feedback request.
func (p *Pipeline) resolvePersona(ctx context.Context, pk nostr.PubKey, hints []string) plume.Persona {
	persona, known := p.lookupPersona(ctx, pk)
	if !known {
		p.need(ctx, plume.NeedMetadata{PubKey: pk, Relays: hints})
	}
	return persona
}
