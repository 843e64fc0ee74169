// Package content parses raw note text for protocol references and turns
// each into a placeholder plus a lazily-fillable "hole". Holes are filled
// as referenced entities become available and the augmented text is
// re-rendered on demand.
package content

import (
	"fmt"
	"html"
	"slices"
	"strings"

	"fiatjaf.com/nostr"
	"fiatjaf.com/nostr/nip19"
)

type holeKind int

const (
	// fixedHole is rendered once at parse time and never awaits data:
	// hashtags, bare urls, naddr codes.
	fixedHole holeKind = iota

	// personaHole awaits profile metadata for a pubkey.
	personaHole

	// eventHole awaits another event by id.
	eventHole
)

// Hole is a half-open byte range [Start, End) in the original note text,
// its current replacement markup, and the matcher data deciding which
// newly-available entity resolves it. A hole transitions one way only:
// placeholder to resolved markup, never back.
type Hole struct {
	Start, End int

	kind     holeKind
	markup   string
	resolved bool

	pubkey  nostr.PubKey
	eventID nostr.ID
	relays  []string
	url     string
}

// Markup returns the hole's current replacement text.
func (h *Hole) Markup() string { return h.markup }

// Resolved reports whether the hole has been filled with live data.
// Fixed holes are born resolved.
func (h *Hole) Resolved() bool { return h.resolved }

// Dynamic is the derived, non-persistent augmentable form of one note's
// text. Instances belonging to different notes share no state; a single
// instance is owned by the presentation task of its note.
type Dynamic struct {
	// Original is the raw, untrimmed note content. Hole ranges are byte
	// offsets into this exact string; any trimming for display must
	// happen to the augmented output, never before parsing.
	Original string

	holes []*Hole
}

// ProvideProfile resolves every still-open persona hole matching pk with a
// link labeled name. Irrelevant pubkeys are a no-op and providing the same
// profile twice renders the same markup. Returns whether anything changed.
func (d *Dynamic) ProvideProfile(pk nostr.PubKey, name string) bool {
	changed := false
	for _, h := range d.holes {
		if h.resolved || h.kind != personaHole || h.pubkey != pk {
			continue
		}
		h.markup = profileMarkup(pk, h.relays, name)
		h.resolved = true
		changed = true
	}
	return changed
}

// ProvideEvent resolves every still-open event hole matching evt's id with
// an excerpt of its content. Same idempotency contract as ProvideProfile.
func (d *Dynamic) ProvideEvent(evt nostr.Event) bool {
	changed := false
	for _, h := range d.holes {
		if h.resolved || h.kind != eventHole || h.eventID != evt.ID {
			continue
		}
		h.markup = eventMarkup(evt.ID, h.relays, excerpt(evt.Content, 64))
		h.resolved = true
		changed = true
	}
	return changed
}

// Augment renders the text with every hole's current markup substituted
// in. Holes are applied from the end of the string toward the start so
// that earlier byte offsets stay valid across replacements of different
// length. Output is deterministic for an unmodified hole set.
func (d *Dynamic) Augment() string {
	holes := slices.Clone(d.holes)
	slices.SortFunc(holes, func(a, b *Hole) int { return b.Start - a.Start })

	out := d.Original
	for _, h := range holes {
		out = out[:h.Start] + h.markup + out[h.End:]
	}
	return out
}

// ReferencedProfiles returns the pubkeys of all persona holes, resolved or
// not, with the relay hints attached to each.
func (d *Dynamic) ReferencedProfiles() []nostr.ProfilePointer {
	var refs []nostr.ProfilePointer
	for _, h := range d.holes {
		if h.kind == personaHole {
			refs = append(refs, nostr.ProfilePointer{PublicKey: h.pubkey, Relays: h.relays})
		}
	}
	return refs
}

// ReferencedEvents returns the ids of all event holes with their relay
// hints.
func (d *Dynamic) ReferencedEvents() []nostr.EventPointer {
	var refs []nostr.EventPointer
	for _, h := range d.holes {
		if h.kind == eventHole {
			ref := nostr.EventPointer{ID: h.eventID, Relays: h.relays}
			refs = append(refs, ref)
		}
	}
	return refs
}

// Links returns every bare URL found in the text, for preview fetching.
func (d *Dynamic) Links() []string {
	var links []string
	for _, h := range d.holes {
		if h.url != "" {
			links = append(links, h.url)
		}
	}
	return links
}

// Open reports how many holes are still awaiting data.
func (d *Dynamic) Open() int {
	n := 0
	for _, h := range d.holes {
		if !h.resolved {
			n++
		}
	}
	return n
}

// Holes exposes the hole list for inspection, mostly by tests.
func (d *Dynamic) Holes() []*Hole { return d.holes }

func profileMarkup(pk nostr.PubKey, relays []string, label string) string {
	var code string
	if len(relays) > 0 {
		code = nip19.EncodeNprofile(pk, relays)
	} else {
		code = nip19.EncodeNpub(pk)
	}
	return fmt.Sprintf(`<a href="nostr:%s">@%s</a>`, code, html.EscapeString(label))
}

func eventMarkup(id nostr.ID, relays []string, label string) string {
	code := nip19.EncodeNevent(id, relays, nostr.ZeroPK)
	return fmt.Sprintf(`<a href="nostr:%s">%s</a>`, code, html.EscapeString(label))
}

func hashtagMarkup(tag string) string {
	return fmt.Sprintf(`<a href="hashtag:%s">#%s</a>`, strings.ToLower(tag), tag)
}

func urlMarkup(url string) string {
	escaped := html.EscapeString(url)
	return fmt.Sprintf(`<a href="%s">%s</a>`, escaped, escaped)
}

func excerpt(s string, max int) string {
	runes := []rune(strings.TrimSpace(s))
	if len(runes) <= max {
		return string(runes)
	}
	return string(runes[:max]) + "…"
}

func shorten(code string) string {
	if len(code) <= 16 {
		return code
	}
	return code[:12] + "…"
}
