package pipeline

import (
	"context"
	"fmt"

	"fiatjaf.com/nostr"

	"github.com/plumeclient/plume"
	"github.com/plumeclient/plume/content"
)

// processTextNote handles a kind-1 event, either arriving on its own or
// unwrapped from a repost. The initial persist is the one write that may
// fail the whole event: dedup and re-fetch suppression depend on it.
func (p *Pipeline) processTextNote(ctx context.Context, origin string, evt nostr.Event, wrapper *plume.Repost) (*plume.IncomingNote, error) {
	if err := p.store.InsertTextNote(ctx, origin, evt); err != nil {
		return nil, fmt.Errorf("failed to persist note: %w", err)
	}

	dyn := content.Parse(evt)

	profileRefs := dyn.ReferencedProfiles()
	profiles := make([]nostr.PubKey, 0, len(profileRefs))
	for _, ref := range profileRefs {
		profiles = append(profiles, ref.PublicKey)
		if persona, known := p.lookupPersona(ctx, ref.PublicKey); known {
			dyn.ProvideProfile(persona.PubKey, persona.ShortName())
		} else {
			p.need(ctx, plume.NeedMetadata{PubKey: ref.PublicKey, Relays: ref.Relays})
		}
	}

	eventRefs := dyn.ReferencedEvents()
	notes := make([]nostr.ID, 0, len(eventRefs))
	for _, ref := range eventRefs {
		notes = append(notes, ref.ID)
		quoted, err := p.store.TextNote(ctx, ref.ID)
		if err != nil {
			p.log.Debug().Err(err).Stringer("id", ref.ID).Msg("note read failed")
		}
		if quoted != nil {
			dyn.ProvideEvent(*quoted)
			continue
		}
		hint := ""
		if len(ref.Relays) > 0 {
			hint = ref.Relays[0]
		}
		p.need(ctx, plume.NeedNote{ID: ref.ID, Relay: hint})
	}

	for _, url := range dyn.Links() {
		p.need(ctx, plume.NeedPreview{URL: url})
	}

	author := p.resolvePersona(ctx, evt.PubKey, relayHintsFor(evt, origin))

	avatarPath := ""
	if author.Picture != "" {
		if path, ok := p.downloads.Cached(author.Picture); ok {
			avatarPath = path
		}
	}

	relays, err := p.store.RelaysFor(ctx, evt.ID)
	if (err != nil || len(relays) == 0) && origin != "" {
		relays = []string{origin}
	}

	return &plume.IncomingNote{
		Note:               plume.TextNote{Event: evt, Author: author},
		Repost:             wrapper,
		Relays:             relays,
		AvatarPath:         avatarPath,
		Content:            dyn,
		ReferencedNotes:    notes,
		ReferencedProfiles: profiles,
	}, nil
}

// processRepost unwraps the inner event embedded in a kind-6 wrapper and
// runs it down the text note path. A wrapper whose content does not parse
// produces nothing at all: malformed, dropped, never retried.
func (p *Pipeline) processRepost(ctx context.Context, origin string, outer nostr.Event) {
	inner, err := plume.ParseRepost(outer)
	if err != nil {
		p.log.Debug().Err(err).Stringer("id", outer.ID).Msg("dropping malformed repost")
		return
	}

	wrapper := &plume.Repost{
		Event: outer,
		By:    p.resolvePersona(ctx, outer.PubKey, relayHintsFor(outer, origin)),
	}

	msg, err := p.processTextNote(ctx, origin, inner, wrapper)
	if err != nil {
		p.log.Error().Err(err).Stringer("id", inner.ID).Msg("failed to process reposted note")
		return
	}
	p.emit(ctx, *msg)
}

// relayHintsFor collects relay hints for an event's author: the origin
// relay plus any hint sitting on its "p" tags.
func relayHintsFor(evt nostr.Event, origin string) []string {
	hints := make([]string, 0, 2)
	if origin != "" {
		hints = append(hints, origin)
	}
	for tag := range evt.Tags.FindAll("p") {
		if len(tag) >= 3 && tag[2] != "" {
			hints = append(hints, tag[2])
		}
	}
	return hints
}
