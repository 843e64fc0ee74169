package content

import (
	"regexp"
	"strconv"

	"fiatjaf.com/nostr"
	"fiatjaf.com/nostr/nip19"
	"mvdan.cc/xurls/v2"
)

var (
	entityRe = regexp.MustCompile(`(?:nostr:)?\b(npub|nprofile|note|nevent|naddr)1[02-9ac-hj-np-z]+\b`)

	// hashtags: a word following '#', but not the positional '#[N]' form
	hashtagRe = regexp.MustCompile(`#([A-Za-z0-9_]+)`)

	positionalRe = regexp.MustCompile(`#\[(\d+)\]`)

	urlMatcher = xurls.Strict()
)

// Parse scans an event's content for protocol references and builds its
// Dynamic form. Four independent passes run in priority order: bech32
// entity tokens, positional #[N] mentions, bare urls, #hashtags. When a
// later pass proposes a range overlapping an earlier hole, the earlier
// hole wins and the later match is skipped, so the passes cannot fight
// over the same bytes (urls run before hashtags so fragments don't get
// claimed as tags).
func Parse(evt nostr.Event) *Dynamic {
	d := &Dynamic{Original: evt.Content}

	for _, loc := range entityRe.FindAllStringIndex(evt.Content, -1) {
		if h := entityHole(evt.Content, loc[0], loc[1]); h != nil {
			d.claim(h)
		}
	}

	for _, m := range positionalRe.FindAllStringSubmatchIndex(evt.Content, -1) {
		if h := positionalHole(evt, m); h != nil {
			d.claim(h)
		}
	}

	for _, loc := range urlMatcher.FindAllStringIndex(evt.Content, -1) {
		url := evt.Content[loc[0]:loc[1]]
		d.claim(&Hole{
			Start:    loc[0],
			End:      loc[1],
			kind:     fixedHole,
			markup:   urlMarkup(url),
			resolved: true,
			url:      url,
		})
	}

	for _, m := range hashtagRe.FindAllStringSubmatchIndex(evt.Content, -1) {
		tag := evt.Content[m[2]:m[3]]
		d.claim(&Hole{
			Start:    m[0],
			End:      m[1],
			kind:     fixedHole,
			markup:   hashtagMarkup(tag),
			resolved: true,
		})
	}

	return d
}

// claim adds a hole unless its range overlaps one claimed by an earlier
// pass.
func (d *Dynamic) claim(h *Hole) {
	for _, other := range d.holes {
		if h.Start < other.End && other.Start < h.End {
			return
		}
	}
	d.holes = append(d.holes, h)
}

// entityHole decodes one bech32 entity token. Tokens that fail to decode
// are left as literal text.
func entityHole(text string, start, end int) *Hole {
	token := text[start:end]
	code := token
	if len(code) > 6 && code[:6] == "nostr:" {
		code = code[6:]
	}

	prefix, data, err := nip19.Decode(code)
	if err != nil {
		return nil
	}

	switch prefix {
	case "npub":
		pk := data.(nostr.PubKey)
		return &Hole{
			Start:  start,
			End:    end,
			kind:   personaHole,
			markup: profilePlaceholder(code),
			pubkey: pk,
		}
	case "nprofile":
		pp := data.(nostr.ProfilePointer)
		return &Hole{
			Start:  start,
			End:    end,
			kind:   personaHole,
			markup: profilePlaceholder(code),
			pubkey: pp.PublicKey,
			relays: pp.Relays,
		}
	case "note":
		id := data.(nostr.ID)
		return &Hole{
			Start:   start,
			End:     end,
			kind:    eventHole,
			markup:  eventPlaceholder(code),
			eventID: id,
		}
	case "nevent":
		ep := data.(nostr.EventPointer)
		return &Hole{
			Start:   start,
			End:     end,
			kind:    eventHole,
			markup:  eventPlaceholder(code),
			eventID: ep.ID,
			relays:  ep.Relays,
		}
	case "naddr":
		// addressable entities carry no event id to await; render a fixed
		// internal link
		return &Hole{
			Start:    start,
			End:      end,
			kind:     fixedHole,
			markup:   eventPlaceholder(code),
			resolved: true,
		}
	}
	return nil
}

// positionalHole resolves a legacy #[N] mention against the event's own
// tag list. Out-of-range indices and tags of other types stay literal.
func positionalHole(evt nostr.Event, m []int) *Hole {
	n, err := strconv.Atoi(evt.Content[m[2]:m[3]])
	if err != nil || n < 0 || n >= len(evt.Tags) {
		return nil
	}

	tag := evt.Tags[n]
	if len(tag) < 2 {
		return nil
	}

	var hint []string
	if len(tag) >= 3 && tag[2] != "" {
		hint = []string{tag[2]}
	}

	switch tag[0] {
	case "e":
		id, err := nostr.IDFromHex(tag[1])
		if err != nil {
			return nil
		}
		return &Hole{
			Start:   m[0],
			End:     m[1],
			kind:    eventHole,
			markup:  eventPlaceholder(nip19.EncodeNevent(id, hint, nostr.ZeroPK)),
			eventID: id,
			relays:  hint,
		}
	case "p":
		pk, err := nostr.PubKeyFromHex(tag[1])
		if err != nil {
			return nil
		}
		return &Hole{
			Start:  m[0],
			End:    m[1],
			kind:   personaHole,
			markup: profilePlaceholder(nip19.EncodeNpub(pk)),
			pubkey: pk,
			relays: hint,
		}
	}
	return nil
}

func profilePlaceholder(code string) string {
	return `<a href="nostr:` + code + `">@` + shorten(code) + `</a>`
}

func eventPlaceholder(code string) string {
	return `<a href="nostr:` + code + `">` + shorten(code) + `</a>`
}
