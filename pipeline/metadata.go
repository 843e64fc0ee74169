package pipeline

import (
	"context"
	"errors"
	"time"

	"fiatjaf.com/nostr"
	"fiatjaf.com/nostr/nip05"

	"github.com/plumeclient/plume"
	"github.com/plumeclient/plume/download"
	"github.com/plumeclient/plume/store"
)

const nip05Timeout = 5 * time.Second

// processMetadata handles a kind-0 event: persist, parse, cache the
// avatar, verify the NIP-05 identifier on its throttled schedule, and
// surface the fresh Persona.
func (p *Pipeline) processMetadata(ctx context.Context, evt nostr.Event) plume.IncomingMetadata {
	if err := p.store.UpsertMetadata(ctx, evt); err != nil {
		// a lost metadata write degrades to re-fetching later
		p.log.Debug().Err(err).Stringer("pubkey", evt.PubKey).Msg("metadata write failed")
	}

	persona := plume.ParsePersona(evt)

	avatarPath := ""
	if persona.Picture != "" {
		path, err := p.downloads.TryFetch(ctx, persona.Picture)
		switch {
		case err == nil:
			avatarPath = path
		case errors.Is(err, download.ErrInFlight):
			// someone else is fetching it; not yet available, not an error
		default:
			p.log.Debug().Err(err).Str("url", persona.Picture).Msg("avatar fetch failed")
		}
	}

	verified, deadline := p.verifyNIP05(ctx, persona)
	persona.Verified = verified
	p.cachePersona(persona, deadline)

	return plume.IncomingMetadata{Persona: persona, AvatarPath: avatarPath}
}

// verifyNIP05 checks the persona's identifier and returns the deadline
// until which the verification may be trusted. A verification from within
// the trust window is reused; otherwise the well-known document is fetched
// live and a match is persisted with a fresh timestamp. Any failure yields
// unverified, never an error.
func (p *Pipeline) verifyNIP05(ctx context.Context, persona plume.Persona) (bool, time.Time) {
	if persona.NIP05 == "" || !nip05.IsValidIdentifier(persona.NIP05) {
		return false, time.Time{}
	}

	if _, verifiedAt, err := p.store.PersonaFor(ctx, persona.PubKey); err == nil {
		if deadline := verifiedAt.Add(store.NIP05VerifyWindow); time.Now().Before(deadline) {
			return true, deadline
		}
	}

	ctx, cancel := context.WithTimeout(ctx, nip05Timeout)
	defer cancel()

	pointer, err := nip05.QueryIdentifier(ctx, persona.NIP05)
	if err != nil || pointer == nil {
		p.log.Debug().Err(err).Str("nip05", persona.NIP05).Msg("verification failed")
		return false, time.Time{}
	}
	if pointer.PublicKey != persona.PubKey {
		p.log.Debug().Str("nip05", persona.NIP05).Stringer("pubkey", persona.PubKey).
			Msg("identifier belongs to someone else")
		return false, time.Time{}
	}

	now := time.Now()
	if err := p.store.MarkNIP05Verified(ctx, persona.PubKey, now); err != nil {
		p.log.Debug().Err(err).Stringer("pubkey", persona.PubKey).Msg("failed to persist verification")
	}
	return true, now.Add(store.NIP05VerifyWindow)
}
