package chat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenThread(t *testing.T) {
	ctx := context.Background()

	t.Run("QuoteIDRequired", func(t *testing.T) {
		env := newTestEnv(Options{})
		_, err := env.manager.OpenThread(ctx, OpenThreadRequest{ShipmentID: "S1"})
		require.Error(t, err)
	})

	t.Run("NoMatchMintsThenResolveFindsIt", func(t *testing.T) {
		env := newTestEnv(Options{})

		first, err := env.manager.OpenThread(ctx, OpenThreadRequest{QuoteID: "Q1"})
		require.NoError(t, err)
		assert.Equal(t, "T1", first.ThreadID)
		assert.Equal(t, "CH-T1", first.ConversationSID)
		assert.True(t, first.Created, "an empty directory cannot match, so the server minted")

		// The minted thread is now cached; resolving the same context again
		// must find it instead of minting a second one.
		second, err := env.manager.OpenThread(ctx, OpenThreadRequest{QuoteID: "Q1"})
		require.NoError(t, err)
		assert.Equal(t, "T1", second.ThreadID)
		assert.False(t, second.Created)

		mints, _ := env.tokens.counts()
		assert.Equal(t, 1, mints)
	})

	t.Run("ExplicitPriorThreadPreferred", func(t *testing.T) {
		env := newTestEnv(Options{})
		env.store.rows = []ThreadSummary{thread("T1", "Q1"), thread("T2", "Q1")}
		require.NoError(t, env.manager.FetchThreads(ctx, true))

		result, err := env.manager.OpenThread(ctx, OpenThreadRequest{QuoteID: "Q1", ThreadID: "T2"})
		require.NoError(t, err)
		assert.Equal(t, "T2", result.ThreadID)
		assert.False(t, result.Created)
		// Minting still goes by quote so the server can create-or-find.
		assert.Equal(t, "Q1", env.tokens.lastRequest().QuoteID)
		assert.Empty(t, env.tokens.lastRequest().ThreadID)
	})

	t.Run("ScopingFieldsNarrowTheMatch", func(t *testing.T) {
		env := newTestEnv(Options{})
		a := thread("T1", "Q1")
		a.ShipmentID = "S1"
		b := thread("T2", "Q1")
		b.ShipmentID = "S2"
		env.store.rows = []ThreadSummary{a, b}
		require.NoError(t, env.manager.FetchThreads(ctx, true))

		result, err := env.manager.OpenThread(ctx, OpenThreadRequest{QuoteID: "Q1", ShipmentID: "S2"})
		require.NoError(t, err)
		assert.Equal(t, "T2", result.ThreadID)
		assert.False(t, result.Created)
	})

	t.Run("NoScopingFieldsPicksFirstCandidate", func(t *testing.T) {
		env := newTestEnv(Options{})
		env.store.rows = []ThreadSummary{thread("T1", "Q1"), thread("T2", "Q1")}
		require.NoError(t, env.manager.FetchThreads(ctx, true))

		result, err := env.manager.OpenThread(ctx, OpenThreadRequest{QuoteID: "Q1"})
		require.NoError(t, err)
		assert.Equal(t, "T1", result.ThreadID, "directory order decides the tie")
		assert.False(t, result.Created)
	})

	t.Run("UnmatchedScopeMintsNewThread", func(t *testing.T) {
		env := newTestEnv(Options{})
		row := thread("T1", "Q1")
		row.ShipmentID = "S1"
		env.store.rows = []ThreadSummary{row}
		require.NoError(t, env.manager.FetchThreads(ctx, true))

		env.tokens.respond = func(req MintRequest) *MintResponse {
			return &MintResponse{
				Token:           "token-fresh",
				ExpiresAt:       env.clock.Now().Add(time.Hour).Format(time.RFC3339),
				ThreadID:        "T9",
				ConversationSID: "CH-T9",
				QuoteID:         req.QuoteID,
				ShipmentID:      req.ShipmentID,
			}
		}

		result, err := env.manager.OpenThread(ctx, OpenThreadRequest{QuoteID: "Q1", ShipmentID: "S9"})
		require.NoError(t, err)
		assert.Equal(t, "T9", result.ThreadID)
		assert.True(t, result.Created)
		assert.Equal(t, "S9", env.tokens.lastRequest().ShipmentID)
	})

	t.Run("PeerOrganizationMatchesAgainstList", func(t *testing.T) {
		env := newTestEnv(Options{})
		row := thread("T1", "Q1")
		row.PeerShipperOrgIDs = []string{"org-a", "org-b"}
		env.store.rows = []ThreadSummary{row}
		require.NoError(t, env.manager.FetchThreads(ctx, true))

		result, err := env.manager.OpenThread(ctx, OpenThreadRequest{QuoteID: "Q1", PeerOrganizationID: "org-b"})
		require.NoError(t, err)
		assert.Equal(t, "T1", result.ThreadID)
		assert.False(t, result.Created)
	})

	t.Run("OpenLeavesThreadJoined", func(t *testing.T) {
		env := newTestEnv(Options{})
		env.store.rows = []ThreadSummary{thread("T1", "Q1")}
		require.NoError(t, env.manager.FetchThreads(ctx, true))

		_, err := env.manager.OpenThread(ctx, OpenThreadRequest{QuoteID: "Q1"})
		require.NoError(t, err)

		conv := env.client.conversation("CH-T1")
		require.NotNil(t, conv)
		joins, _, listeners := conv.stats()
		assert.Equal(t, 1, joins)
		assert.Equal(t, 1, listeners)
	})
}
