package content

import (
	"strings"
	"testing"

	"fiatjaf.com/nostr"
	"github.com/stretchr/testify/require"
)

const (
	samplePubKeyHex = "3bf0c63fcb93463407af97a5e5ee64fa883d107ef9e558472c4eb9aaaefa459d"
	sampleNpub      = "npub180cvv07tjdrrgpa0j7j7tmnyl2yr6yr7l8j4s3evf6u64th6gkwsyjh6w6"
	sampleNevent    = "nevent1qqsr0f9w78uyy09qwmjt0kv63j4l7sxahq33725lqyyp79whlfjurwspz4mhxue69uhh56nzv34hxcfwv9ehw6nyddhqygpm7rrrljungc6q0tuh5hj7ue863q73qlheu4vywtzwhx42a7j9n5x0aedk"
	sampleEventHex  = "37a4aef1f8423ca076e4b7d99a8cabff40ddb8231f2a9f01081f15d7fa65c1ba"
)

func TestParseProfileToken(t *testing.T) {
	evt := nostr.Event{Content: "hello nostr:" + sampleNpub + " friend"}
	d := Parse(evt)

	refs := d.ReferencedProfiles()
	require.Len(t, refs, 1)
	require.Equal(t, samplePubKeyHex, refs[0].PublicKey.Hex())
	require.Equal(t, 1, d.Open())

	augmented := d.Augment()
	require.True(t, strings.HasPrefix(augmented, "hello "))
	require.True(t, strings.HasSuffix(augmented, " friend"))
	require.Contains(t, augmented, `<a href="nostr:`+sampleNpub+`"`)
}

func TestParseEventToken(t *testing.T) {
	evt := nostr.Event{Content: "quoting nostr:" + sampleNevent}
	d := Parse(evt)

	refs := d.ReferencedEvents()
	require.Len(t, refs, 1)
	require.Equal(t, sampleEventHex, refs[0].ID.Hex())
	require.Equal(t, []string{"wss://zjbdksa.aswjdkn"}, refs[0].Relays)
}

func TestParseInvalidTokenStaysLiteral(t *testing.T) {
	evt := nostr.Event{Content: "an invalid nevent1aaa token"}
	d := Parse(evt)

	require.Empty(t, d.Holes())
	require.Equal(t, evt.Content, d.Augment())
}

func TestParseHashtag(t *testing.T) {
	evt := nostr.Event{Content: "get your free #Banana today"}
	d := Parse(evt)

	require.Len(t, d.Holes(), 1)
	require.Equal(t, 0, d.Open(), "hashtags never await external data")
	require.Contains(t, d.Augment(), `<a href="hashtag:banana">#Banana</a>`)
}

func TestParseURL(t *testing.T) {
	evt := nostr.Event{Content: "visit https://banana.com/path?q=1 now"}
	d := Parse(evt)

	require.Equal(t, []string{"https://banana.com/path?q=1"}, d.Links())
	require.Contains(t, d.Augment(), `<a href="https://banana.com/path?q=1">`)
}

func TestParseURLFragmentIsNotAHashtag(t *testing.T) {
	evt := nostr.Event{Content: "see https://banana.com/page#section for details"}
	d := Parse(evt)

	require.Equal(t, []string{"https://banana.com/page#section"}, d.Links())
	for _, h := range d.Holes() {
		require.NotContains(t, h.Markup(), "hashtag:")
	}
}

func TestParsePositionalMention(t *testing.T) {
	evt := nostr.Event{
		Content: "shoutout to #[0] and note #[1]",
		Tags: nostr.Tags{
			{"p", samplePubKeyHex},
			{"e", sampleEventHex, "wss://relay.example.com"},
		},
	}
	d := Parse(evt)

	profiles := d.ReferencedProfiles()
	require.Len(t, profiles, 1)
	require.Equal(t, samplePubKeyHex, profiles[0].PublicKey.Hex())

	events := d.ReferencedEvents()
	require.Len(t, events, 1)
	require.Equal(t, sampleEventHex, events[0].ID.Hex())
	require.Equal(t, []string{"wss://relay.example.com"}, events[0].Relays)
}

func TestParsePositionalOutOfRange(t *testing.T) {
	evt := nostr.Event{Content: "ghost mention #[7]", Tags: nostr.Tags{{"p", samplePubKeyHex}}}
	d := Parse(evt)
	require.Empty(t, d.ReferencedProfiles())
	require.Empty(t, d.ReferencedEvents())
}

func TestProvideProfile(t *testing.T) {
	pk := nostr.MustPubKeyFromHex(samplePubKeyHex)
	evt := nostr.Event{Content: "hello nostr:" + sampleNpub}
	d := Parse(evt)

	before := d.Augment()

	// an irrelevant pubkey is a no-op
	other := nostr.MustPubKeyFromHex("79be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798")
	require.False(t, d.ProvideProfile(other, "nobody"))
	require.Equal(t, before, d.Augment())

	require.True(t, d.ProvideProfile(pk, "fiatjaf"))
	require.Equal(t, 0, d.Open())
	once := d.Augment()
	require.Contains(t, once, ">@fiatjaf</a>")

	// filling again with the same value changes nothing
	require.False(t, d.ProvideProfile(pk, "fiatjaf"))
	require.Equal(t, once, d.Augment())
}

func TestProvideEvent(t *testing.T) {
	evt := nostr.Event{Content: "quoting nostr:" + sampleNevent + " here"}
	d := Parse(evt)

	quoted := nostr.Event{
		ID:      nostr.MustIDFromHex(sampleEventHex),
		Kind:    nostr.KindTextNote,
		Content: "the quoted note",
	}
	require.True(t, d.ProvideEvent(quoted))
	require.Contains(t, d.Augment(), "the quoted note")
	require.False(t, d.ProvideEvent(quoted))
}

func TestAugmentDeterministic(t *testing.T) {
	evt := nostr.Event{
		Content: "a #tag, a url https://x.com and nostr:" + sampleNpub,
	}
	d := Parse(evt)
	require.Equal(t, d.Augment(), d.Augment())

	d.ProvideProfile(nostr.MustPubKeyFromHex(samplePubKeyHex), "someone")
	require.Equal(t, d.Augment(), d.Augment())
}

func TestAugmentReplacesBackToFront(t *testing.T) {
	// two holes of very different replacement lengths; the earlier one
	// must not shift the later one's range
	evt := nostr.Event{Content: "#a middle #bbbbbb end"}
	d := Parse(evt)
	require.Len(t, d.Holes(), 2)

	out := d.Augment()
	require.Contains(t, out, `<a href="hashtag:a">#a</a> middle`)
	require.Contains(t, out, `<a href="hashtag:bbbbbb">#bbbbbb</a> end`)
}
