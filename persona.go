package plume

import (
	"fmt"

	"fiatjaf.com/nostr"
	"fiatjaf.com/nostr/nip19"
	"github.com/tidwall/gjson"
)

// Persona is the latest-known profile projection for a public key. Two
// Personas with the same pubkey are the same identity regardless of how
// their metadata differs; the whole thing is replaced wholesale whenever
// fresher metadata arrives.
type Persona struct {
	PubKey      nostr.PubKey
	Name        string
	DisplayName string
	About       string
	Picture     string
	Banner      string
	Website     string
	NIP05       string

	// Verified is the throttled NIP-05 verification state, recomputed on
	// its own schedule, not every time metadata arrives.
	Verified bool

	// Raw is the kind-0 content field exactly as received.
	Raw string
}

// EmptyPersona synthesizes the nameless fallback used whenever a pubkey is
// referenced before any metadata for it is known. Every code path that
// needs an author must be able to proceed with one of these.
func EmptyPersona(pk nostr.PubKey) Persona {
	return Persona{PubKey: pk}
}

// ParsePersona builds a Persona from a kind-0 metadata event. An
// unparseable content field yields an empty persona for the author rather
// than an error: malformed metadata is treated as absent.
func ParsePersona(evt nostr.Event) Persona {
	p := EmptyPersona(evt.PubKey)
	if evt.Kind != nostr.KindProfileMetadata {
		return p
	}

	p.Raw = evt.Content
	if !gjson.Valid(evt.Content) {
		return p
	}

	res := gjson.Parse(evt.Content)
	p.Name = res.Get("name").String()
	p.DisplayName = res.Get("display_name").String()
	p.About = res.Get("about").String()
	p.Picture = res.Get("picture").String()
	p.Banner = res.Get("banner").String()
	p.Website = res.Get("website").String()
	p.NIP05 = res.Get("nip05").String()
	return p
}

// Npub returns the bech32 form of the persona's public key.
func (p Persona) Npub() string {
	return nip19.EncodeNpub(p.PubKey)
}

// ShortName returns the best human-readable handle currently known:
// display name, then name, then an abbreviated npub.
func (p Persona) ShortName() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	if p.Name != "" {
		return p.Name
	}
	npub := p.Npub()
	return fmt.Sprintf("%s…%s", npub[:10], npub[len(npub)-4:])
}

// HasName reports whether any metadata-derived name is known at all.
func (p Persona) HasName() bool {
	return p.Name != "" || p.DisplayName != ""
}
