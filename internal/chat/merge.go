package chat

import (
	"sort"
	"strings"
	"time"
)

// MergeMessages overlays incoming messages onto an existing list and returns a
// new deduplicated, totally ordered slice. Incoming entries win on id conflict
// since backlog and live data are authoritative over stale cache. The function
// is pure: neither input slice is modified, so the history path and the live
// push path can both call it without coordination.
func MergeMessages(existing []Message, incoming ...Message) []Message {
	byID := make(map[string]Message, len(existing)+len(incoming))
	for _, m := range existing {
		byID[m.ID] = m
	}
	for _, m := range incoming {
		byID[m.ID] = m
	}

	out := make([]Message, 0, len(byID))
	for _, m := range byID {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		return CompareMessages(out[i], out[j]) < 0
	})
	return out
}

// CompareMessages defines the total order of a thread's message list:
// backend sequence index when both sides carry one and they differ, then
// parsed timestamp (unparseable sorts as the epoch), then lexical id so the
// order is deterministic even for same-millisecond, index-less messages.
func CompareMessages(a, b Message) int {
	if a.Index != nil && b.Index != nil && *a.Index != *b.Index {
		if *a.Index < *b.Index {
			return -1
		}
		return 1
	}

	at := parseMessageTime(a.CreatedAt)
	bt := parseMessageTime(b.CreatedAt)
	if !at.Equal(bt) {
		if at.Before(bt) {
			return -1
		}
		return 1
	}

	return strings.Compare(a.ID, b.ID)
}

func parseMessageTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Unix(0, 0).UTC()
	}
	return t
}
