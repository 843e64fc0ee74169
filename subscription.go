package plume

import (
	"slices"
	"strings"

	"fiatjaf.com/nostr"
)

// Subscription describes interest in a slice of the network: a single
// hashtag, a single author, or an OR-combination of two sub-expressions.
// There is deliberately no AND and no negation; relay filters are
// disjunctive-friendly and conjunctions are expressed as separate
// subscriptions.
//
// The same value is used in two directions: compiled to one relay filter
// with Filter(), and used as a lane predicate with Accepts().
type Subscription interface {
	// Hashtags collects every hashtag leaf, recursively.
	Hashtags() []string

	// Pubkeys collects every author leaf, recursively.
	Pubkeys() []nostr.PubKey

	// Add combines this subscription with another under OR. It builds a
	// new node and mutates neither operand; repeated Add yields a
	// left-leaning tree, which is fine since traversal is always full.
	Add(other Subscription) Subscription

	// Filter compiles the whole tree to a single relay filter. Hashtags
	// are lowercased; both lists are deduplicated and sorted so that
	// filter construction is reproducible.
	Filter() nostr.Filter

	// Accepts reports whether an incoming event belongs to this
	// subscription's lane: its hashtags intersect ours, or its author is
	// one of ours.
	Accepts(evt nostr.Event) bool

	subscription()
}

// Hashtag is a subscription to a single "t" tag value.
type Hashtag string

// Author is a subscription to one pubkey, with optional relay hints.
type Author struct {
	PubKey nostr.PubKey
	Relays []string
}

// Union is the OR of two subscriptions.
type Union struct {
	A, B Subscription
}

func (h Hashtag) Hashtags() []string { return []string{string(h)} }
func (h Hashtag) Pubkeys() []nostr.PubKey { return nil }
func (h Hashtag) Add(other Subscription) Subscription {
	return Union{A: h, B: other}
}
func (h Hashtag) Filter() nostr.Filter { return compile(h) }
func (h Hashtag) Accepts(evt nostr.Event) bool { return accepts(h, evt) }
func (h Hashtag) subscription() {}

func (a Author) Hashtags() []string { return nil }
func (a Author) Pubkeys() []nostr.PubKey { return []nostr.PubKey{a.PubKey} }
func (a Author) Add(other Subscription) Subscription {
	return Union{A: a, B: other}
}
func (a Author) Filter() nostr.Filter { return compile(a) }
func (a Author) Accepts(evt nostr.Event) bool { return accepts(a, evt) }
func (a Author) subscription() {}

func (u Union) Hashtags() []string {
	return append(u.A.Hashtags(), u.B.Hashtags()...)
}
func (u Union) Pubkeys() []nostr.PubKey {
	return append(u.A.Pubkeys(), u.B.Pubkeys()...)
}
func (u Union) Add(other Subscription) Subscription {
	return Union{A: u, B: other}
}
func (u Union) Filter() nostr.Filter { return compile(u) }
func (u Union) Accepts(evt nostr.Event) bool { return accepts(u, evt) }
func (u Union) subscription() {}

func compile(s Subscription) nostr.Filter {
	filter := nostr.Filter{
		Kinds: []nostr.Kind{nostr.KindTextNote, nostr.KindRepost},
	}

	if tags := normalizeHashtags(s.Hashtags()); len(tags) > 0 {
		filter.Tags = nostr.TagMap{"t": tags}
	}

	pubkeys := slices.Clone(s.Pubkeys())
	if len(pubkeys) > 0 {
		slices.SortFunc(pubkeys, func(a, b nostr.PubKey) int {
			return strings.Compare(a.Hex(), b.Hex())
		})
		filter.Authors = slices.Compact(pubkeys)
	}

	return filter
}

func accepts(s Subscription, evt nostr.Event) bool {
	tags := normalizeHashtags(s.Hashtags())
	for tag := range evt.Tags.FindAll("t") {
		if slices.Contains(tags, strings.ToLower(tag[1])) {
			return true
		}
	}
	return slices.Contains(s.Pubkeys(), evt.PubKey)
}

func normalizeHashtags(tags []string) []string {
	for i, tag := range tags {
		tags[i] = strings.ToLower(tag)
	}
	slices.Sort(tags)
	return slices.Compact(tags)
}
