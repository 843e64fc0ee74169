package plume

import (
	"fiatjaf.com/nostr"

	"github.com/plumeclient/plume/content"
	"github.com/plumeclient/plume/preview"
)

// Incoming is a fully-resolved domain event emitted by the ingestion
// pipeline. Consumers receive these in completion order, not in protocol
// timestamp order, and own their presentation ordering.
type Incoming interface {
	incoming()
}

// IncomingNote is a text note arrival, possibly wrapped in a repost.
type IncomingNote struct {
	Note TextNote

	// Repost is set when Note was carried inside a kind-6 wrapper.
	Repost *Repost

	// Relays are all relays currently known to carry this note.
	Relays []string

	// AvatarPath is the local cache path of the author's avatar, empty if
	// not (yet) downloaded.
	AvatarPath string

	// Content carries the note's augmentable text. Holes still open here
	// may be filled later, as referenced entities trickle in out of band.
	Content *content.Dynamic

	// ReferencedNotes and ReferencedProfiles are the sets of entities the
	// note text mentions, as currently known; unresolved ones have a
	// pending feedback request behind them.
	ReferencedNotes    []nostr.ID
	ReferencedProfiles []nostr.PubKey
}

// IncomingReaction is a kind-7 event with a resolved target.
type IncomingReaction struct {
	Event  nostr.Event
	Target nostr.ID

	// Glyph is the reaction content, "+" when the event carried none.
	Glyph string
}

// IncomingMetadata is a fresh Persona for some pubkey.
type IncomingMetadata struct {
	Persona Persona

	// AvatarPath is set when the avatar is already in the local cache.
	AvatarPath string
}

// IncomingPreview is a fetched link preview re-entering the stream.
type IncomingPreview struct {
	Preview preview.Preview
}

func (IncomingNote) incoming() {}
func (IncomingReaction) incoming() {}
func (IncomingMetadata) incoming() {}
func (IncomingPreview) incoming() {}
