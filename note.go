package plume

import (
	"fmt"

	"fiatjaf.com/nostr"
)

// TextNote binds a kind-1 event to the best-known Persona of its author at
// the time of construction. The persona may be the empty fallback; it can
// be superseded later by an IncomingMetadata for the same pubkey.
type TextNote struct {
	Event  nostr.Event
	Author Persona
}

// Repost is the kind-6 wrapper around a reposted note: the outer event and
// the best-known persona of whoever reposted. The inner note itself
// travels as the TextNote it wraps.
type Repost struct {
	Event nostr.Event
	By    Persona
}

// ParseRepost extracts the inner event embedded as JSON in a repost's
// content. A repost whose content does not decode to a text note is
// malformed and gets dropped by the caller, never retried.
func ParseRepost(outer nostr.Event) (nostr.Event, error) {
	var inner nostr.Event
	if err := inner.UnmarshalJSON([]byte(outer.Content)); err != nil {
		return inner, fmt.Errorf("repost %s carries undecodable content: %w", outer.ID, err)
	}
	if inner.Kind != nostr.KindTextNote {
		return inner, fmt.Errorf("repost %s embeds a %v, not a text note", outer.ID, inner.Kind)
	}
	if inner.ID == nostr.ZeroID {
		return inner, fmt.Errorf("repost %s embeds an event without an id", outer.ID)
	}
	return inner, nil
}

// RepliesTo returns the event this note replies to, following NIP-10: a
// tag marked "reply" wins; otherwise the last unmarked "e" tag does. Tags
// marked "mention" never count as reply targets.
func RepliesTo(tags nostr.Tags) (nostr.ID, bool) {
	var last, root nostr.ID
	found := false
	rooted := false
	for _, tag := range tags {
		if len(tag) < 2 || tag[0] != "e" {
			continue
		}
		id, err := nostr.IDFromHex(tag[1])
		if err != nil {
			continue
		}
		if len(tag) >= 4 {
			switch tag[3] {
			case "reply":
				return id, true
			case "mention":
				continue
			case "root":
				root, rooted = id, true
				continue
			}
		}
		last = id
		found = true
	}
	if found {
		return last, true
	}
	if rooted {
		// a lone "root" marker means a direct reply to the thread root
		return root, true
	}
	return last, false
}

// ThreadRoot returns the root of the thread this note belongs to: a tag
// marked "root" wins, otherwise the first "e" tag.
func ThreadRoot(tags nostr.Tags) (nostr.ID, bool) {
	var first nostr.ID
	found := false
	for _, tag := range tags {
		if len(tag) < 2 || tag[0] != "e" {
			continue
		}
		id, err := nostr.IDFromHex(tag[1])
		if err != nil {
			continue
		}
		if len(tag) >= 4 && tag[3] == "root" {
			return id, true
		}
		if !found {
			first = id
			found = true
		}
	}
	return first, found
}

// ReactsTo returns the target of a kind-7 reaction. NIP-25 says the last
// "e" tag wins, so tags are scanned in reverse. A reaction without a
// target is meaningless and gets dropped upstream.
func ReactsTo(tags nostr.Tags) (nostr.ID, bool) {
	for i := len(tags) - 1; i >= 0; i-- {
		tag := tags[i]
		if len(tag) < 2 || tag[0] != "e" {
			continue
		}
		if id, err := nostr.IDFromHex(tag[1]); err == nil {
			return id, true
		}
	}
	return nostr.ZeroID, false
}
