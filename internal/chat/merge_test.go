package chat

import (
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func msg(id, createdAt string, index *int64) Message {
	return Message{ID: id, Author: "user-1", CreatedAt: createdAt, Index: index}
}

func TestMergeMessages(t *testing.T) {
	t.Run("DeduplicatesByID", func(t *testing.T) {
		a := msg("m1", "2026-03-10T10:00:00Z", int64Ptr(1))
		b := msg("m2", "2026-03-10T10:01:00Z", int64Ptr(2))

		out := MergeMessages([]Message{a, b}, a, b, a)
		require.Len(t, out, 2)
		assert.Equal(t, "m1", out[0].ID)
		assert.Equal(t, "m2", out[1].ID)
	})

	t.Run("IncomingWinsOnConflict", func(t *testing.T) {
		stale := msg("m1", "2026-03-10T10:00:00Z", int64Ptr(1))
		fresh := stale
		fresh.Body = "edited body"

		out := MergeMessages([]Message{stale}, fresh)
		require.Len(t, out, 1)
		assert.Equal(t, "edited body", out[0].Body)
	})

	t.Run("OrdersBySequenceIndex", func(t *testing.T) {
		out := MergeMessages(nil,
			msg("m3", "2026-03-10T09:00:00Z", int64Ptr(3)),
			msg("m1", "2026-03-10T11:00:00Z", int64Ptr(1)),
			msg("m2", "2026-03-10T10:00:00Z", int64Ptr(2)),
		)
		require.Len(t, out, 3)
		// Index wins over timestamp.
		assert.Equal(t, []string{"m1", "m2", "m3"}, []string{out[0].ID, out[1].ID, out[2].ID})
	})

	t.Run("TimestampFallbackWhenIndexMissing", func(t *testing.T) {
		out := MergeMessages(nil,
			msg("late", "2026-03-10T11:00:00Z", nil),
			msg("early", "2026-03-10T09:00:00Z", int64Ptr(7)),
		)
		require.Len(t, out, 2)
		assert.Equal(t, "early", out[0].ID)
	})

	t.Run("InvalidTimestampSortsAsEpoch", func(t *testing.T) {
		out := MergeMessages(nil,
			msg("valid", "2026-03-10T09:00:00Z", nil),
			msg("broken", "not-a-timestamp", nil),
		)
		require.Len(t, out, 2)
		assert.Equal(t, "broken", out[0].ID)
	})

	t.Run("LexicalIDTieBreak", func(t *testing.T) {
		out := MergeMessages(nil,
			msg("b", "2026-03-10T10:00:00Z", nil),
			msg("a", "2026-03-10T10:00:00Z", nil),
		)
		require.Len(t, out, 2)
		assert.Equal(t, "a", out[0].ID)
		assert.Equal(t, "b", out[1].ID)
	})

	t.Run("CommutativeUnderCallOrder", func(t *testing.T) {
		msgs := []Message{
			msg("m1", "2026-03-10T10:00:00Z", int64Ptr(1)),
			msg("m2", "2026-03-10T10:00:00Z", nil),
			msg("m3", "broken", nil),
			msg("m4", "2026-03-10T10:02:00Z", int64Ptr(4)),
			msg("m5", "2026-03-10T10:02:00Z", nil),
		}

		forward := MergeMessages(MergeMessages(nil, msgs[:2]...), msgs[2:]...)

		shuffled := make([]Message, len(msgs))
		copy(shuffled, msgs)
		rand.New(rand.NewSource(1)).Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})
		var backward []Message
		for _, m := range shuffled {
			backward = MergeMessages(backward, m)
		}

		if diff := cmp.Diff(forward, backward); diff != "" {
			t.Fatalf("merge result depends on call order (-forward +backward):\n%s", diff)
		}
	})

	t.Run("DoesNotMutateInputs", func(t *testing.T) {
		existing := []Message{msg("m2", "2026-03-10T10:01:00Z", int64Ptr(2))}
		MergeMessages(existing, msg("m1", "2026-03-10T10:00:00Z", int64Ptr(1)))
		assert.Equal(t, "m2", existing[0].ID)
	})
}

func TestAuthorUserID(t *testing.T) {
	assert.Equal(t, "123", AuthorUserID("user-123"))
	assert.Equal(t, "system", AuthorUserID("system"))
}
