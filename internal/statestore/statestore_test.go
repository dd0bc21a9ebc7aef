package statestore

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livetriage/internal/conversation"
)

func sampleState() *conversation.State {
	ts := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	return &conversation.State{
		ThreadKey:         "acme/widgets#42",
		Category:          "bug",
		CompletenessScore: 40,
		SharedFindings: []conversation.SharedFinding{
			{DiscoveredBy: "alice", Category: "bug", Content: "fails on v2.1 only"},
		},
		Users: map[string]*conversation.UserConversation{
			"alice": {
				Username:         "alice",
				LoopCount:        2,
				AskedFields:      []string{"logs", "version"},
				FirstInteraction: ts,
				LastInteraction:  ts,
				CasePacket:       map[string]string{"version": "2.1.0"},
			},
		},
		LastUpdated: ts,
	}
}

func TestEmbedExtractRoundTrip(t *testing.T) {
	store := New(2000)
	state := sampleState()

	text, err := store.Embed("", state)
	require.NoError(t, err)

	got := store.Extract(text)
	require.NotNil(t, got)
	if diff := cmp.Diff(state, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestEmbedKeepsVisibleTextReadable(t *testing.T) {
	store := New(2000)
	text, err := store.Embed("Thanks for the report!", sampleState())
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(text, "Thanks for the report!"))
	assert.Contains(t, text, markerPrefix)
	assert.True(t, strings.HasSuffix(text, markerSuffix))
}

func TestLargeStateIsCompressed(t *testing.T) {
	store := New(2000)
	state := sampleState()
	// Inflate the state well past the threshold.
	for i := 0; i < 200; i++ {
		state.AddFinding(conversation.SharedFinding{
			DiscoveredBy: "alice",
			Category:     "bug",
			Content:      strings.Repeat("observation ", 5),
		})
	}

	text, err := store.Embed("", state)
	require.NoError(t, err)

	payload, ok := lastMarkerPayload(text)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(payload, compressedTag),
		"payload over threshold should carry the compressed tag")

	got := store.Extract(text)
	require.NotNil(t, got)
	if diff := cmp.Diff(state, got); diff != "" {
		t.Errorf("compressed round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestExtractUsesLastMarker(t *testing.T) {
	store := New(2000)

	first := sampleState()
	first.CompletenessScore = 10
	second := sampleState()
	second.CompletenessScore = 90

	a, err := store.Embed("older comment", first)
	require.NoError(t, err)
	b, err := store.Embed("newer comment", second)
	require.NoError(t, err)

	got := store.Extract(a + "\n" + b)
	require.NotNil(t, got)
	assert.Equal(t, 90, got.CompletenessScore)
}

func TestExtractCorruptPayloadReturnsNil(t *testing.T) {
	store := New(2000)

	cases := map[string]string{
		"no marker":       "just a plain comment",
		"corrupt json":    markerPrefix + `{"thread_key": oops` + markerSuffix,
		"corrupt base64":  markerPrefix + compressedTag + "!!!not-base64!!!" + markerSuffix,
		"corrupt deflate": markerPrefix + compressedTag + "aGVsbG8=" + markerSuffix,
	}
	for name, text := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Nil(t, store.Extract(text))
		})
	}
}

func TestExtractIgnoresUnknownFields(t *testing.T) {
	store := New(2000)
	text := markerPrefix + `{"thread_key":"acme/widgets#7","future_field":123}` + markerSuffix

	got := store.Extract(text)
	require.NotNil(t, got)
	assert.Equal(t, "acme/widgets#7", got.ThreadKey)
}

func TestExtractSkipsUnterminatedMarker(t *testing.T) {
	store := New(2000)
	good, err := store.Embed("", sampleState())
	require.NoError(t, err)

	// A truncated marker after a good one must not mask it.
	text := good + "\n" + markerPrefix + `{"thread_key":"trunc`
	got := store.Extract(text)
	require.NotNil(t, got)
	assert.Equal(t, "acme/widgets#42", got.ThreadKey)
}
