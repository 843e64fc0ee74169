package plume

import (
	"encoding/json"
	"testing"

	"fiatjaf.com/nostr"
	"github.com/stretchr/testify/require"
)

var (
	idA = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
	idB = "abcdef0123456789abcdef0123456789abcdef0123456789abcdef0123456789"
	idC = "fedcba9876543210fedcba9876543210fedcba9876543210fedcba9876543210"
)

func TestRepliesTo(t *testing.T) {
	tests := []struct {
		name  string
		tags  nostr.Tags
		want  string
		found bool
	}{
		{
			name:  "marked reply wins",
			tags:  nostr.Tags{{"e", idA, "", "reply"}, {"e", idB}},
			want:  idA,
			found: true,
		},
		{
			name:  "unmarked last wins",
			tags:  nostr.Tags{{"e", idA}, {"e", idB}, {"e", idC}},
			want:  idC,
			found: true,
		},
		{
			name:  "single unmarked",
			tags:  nostr.Tags{{"e", idA}},
			want:  idA,
			found: true,
		},
		{
			name:  "lone root marker is the parent",
			tags:  nostr.Tags{{"e", idA, "", "root"}},
			want:  idA,
			found: true,
		},
		{
			name:  "mentions never count",
			tags:  nostr.Tags{{"e", idA, "", "mention"}},
			found: false,
		},
		{
			name:  "no e tags",
			tags:  nostr.Tags{{"p", idA}},
			found: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, found := RepliesTo(tt.tags)
			require.Equal(t, tt.found, found)
			if tt.found {
				require.Equal(t, tt.want, id.Hex())
			}
		})
	}
}

func TestReactsTo(t *testing.T) {
	// NIP-25: the last e tag wins
	tags := nostr.Tags{{"e", idA}, {"e", idB}}
	id, found := ReactsTo(tags)
	require.True(t, found)
	require.Equal(t, idB, id.Hex())

	_, found = ReactsTo(nostr.Tags{{"p", idA}})
	require.False(t, found)
}

func TestThreadRoot(t *testing.T) {
	tags := nostr.Tags{{"e", idA}, {"e", idB, "", "root"}}
	id, found := ThreadRoot(tags)
	require.True(t, found)
	require.Equal(t, idB, id.Hex())

	id, found = ThreadRoot(nostr.Tags{{"e", idA}, {"e", idB}})
	require.True(t, found)
	require.Equal(t, idA, id.Hex(), "without a marker the first e tag is the root")
}

func TestParseRepost(t *testing.T) {
	inner := nostr.Event{
		ID:        nostr.MustIDFromHex(idA),
		PubKey:    nostr.MustPubKeyFromHex(idB),
		Kind:      nostr.KindTextNote,
		CreatedAt: nostr.Timestamp(1700000000),
		Content:   "the original note",
	}
	body, err := json.Marshal(inner)
	require.NoError(t, err)

	outer := nostr.Event{Kind: nostr.KindRepost, Content: string(body)}
	got, err := ParseRepost(outer)
	require.NoError(t, err)
	require.Equal(t, inner.ID, got.ID)
	require.Equal(t, "the original note", got.Content)
}

func TestParseRepostMalformed(t *testing.T) {
	outer := nostr.Event{Kind: nostr.KindRepost, Content: "not json at all"}
	_, err := ParseRepost(outer)
	require.Error(t, err)
}

func TestParseRepostWrongKind(t *testing.T) {
	inner := nostr.Event{
		ID:   nostr.MustIDFromHex(idA),
		Kind: nostr.KindReaction,
	}
	body, err := json.Marshal(inner)
	require.NoError(t, err)

	outer := nostr.Event{Kind: nostr.KindRepost, Content: string(body)}
	_, err = ParseRepost(outer)
	require.Error(t, err)
}
