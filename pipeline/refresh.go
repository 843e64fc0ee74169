package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"fiatjaf.com/nostr/nip11"
)

const nip11Timeout = 5 * time.Second

// StartRelayRefresher keeps relay information documents current: every
// interval, and shortly after bursts of newly-discovered relays, it
// fetches documents for relays without one or with one older than an
// hour. Live-connected relays are offered to the store first so even
// freshly-connected, never-queried relays get a document. The task stops
// with ctx; leaving it running past its owner would leak a perpetually
// ticking goroutine.
func (p *Pipeline) StartRelayRefresher(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		p.refreshRelayInformation(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.refreshRelayInformation(ctx)
			case <-p.refreshKick:
				p.refreshRelayInformation(ctx)
			}
		}
	}()
}

// kickRefresh nudges the refresher outside its regular schedule. The send
// is lossy on purpose: one pending kick is enough.
func (p *Pipeline) kickRefresh() {
	select {
	case p.refreshKick <- struct{}{}:
	default:
	}
}

func (p *Pipeline) refreshRelayInformation(ctx context.Context) {
	if p.liveRelays != nil {
		for _, url := range p.liveRelays() {
			if err := p.store.OfferRelay(ctx, url); err != nil {
				p.log.Debug().Err(err).Str("relay", url).Msg("failed to record live relay")
			}
		}
	}

	urls, err := p.store.RelaysNeedingRefresh(ctx, time.Now())
	if err != nil {
		p.log.Debug().Err(err).Msg("failed to list stale relays")
		return
	}

	for _, url := range urls {
		p.refreshOne(ctx, url)
		if ctx.Err() != nil {
			return
		}
	}
}

func (p *Pipeline) refreshOne(ctx context.Context, url string) {
	ctx, cancel := context.WithTimeout(ctx, nip11Timeout)
	defer cancel()

	info, err := nip11.Fetch(ctx, url)
	if err != nil {
		p.log.Debug().Err(err).Str("relay", url).Msg("nip11 fetch failed")
		return
	}

	doc, err := json.Marshal(info)
	if err != nil {
		return
	}
	if err := p.store.StoreRelayInformation(ctx, url, doc, time.Now()); err != nil {
		p.log.Debug().Err(err).Str("relay", url).Msg("failed to store relay information")
	}
}
