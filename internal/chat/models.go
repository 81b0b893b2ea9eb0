package chat

import (
	"strings"
	"time"
)

// ThreadSummary is one row of the user's thread directory, as loaded from the
// relational store. Client code never mutates fields in place except the
// unread-count reset; everything else changes only through a re-fetch.
type ThreadSummary struct {
	ID                    string         `json:"id"`
	QuoteID               string         `json:"quoteId,omitempty"`
	ShipmentID            string         `json:"shipmentId,omitempty"`
	ShipperBranchOrgID    string         `json:"shipperBranchOrgId,omitempty"`
	GalleryBranchOrgID    string         `json:"galleryBranchOrgId,omitempty"`
	ConversationSID       string         `json:"conversationSid,omitempty"`
	ConversationType      string         `json:"conversationType,omitempty"`
	InitiatorShipperOrgID string         `json:"initiatorShipperOrgId,omitempty"`
	PeerShipperOrgIDs     []string       `json:"peerShipperOrgIds,omitempty"`
	Metadata              map[string]any `json:"metadata,omitempty"`
	LastMessageAt         time.Time      `json:"lastMessageAt,omitempty"`
	UnreadCount           int            `json:"unreadCount"`
}

// ThreadScope is the resolved business context of a thread, derived from the
// directory row (row fields first, metadata map second). It is rebuilt
// wholesale on every directory fetch.
type ThreadScope struct {
	ThreadID              string   `json:"threadId"`
	QuoteID               string   `json:"quoteId,omitempty"`
	ShipmentID            string   `json:"shipmentId,omitempty"`
	ShipperBranchOrgID    string   `json:"shipperBranchOrgId,omitempty"`
	GalleryBranchOrgID    string   `json:"galleryBranchOrgId,omitempty"`
	ConversationType      string   `json:"conversationType,omitempty"`
	InitiatorShipperOrgID string   `json:"initiatorShipperOrgId,omitempty"`
	PeerShipperOrgIDs     []string `json:"peerShipperOrgIds,omitempty"`
}

// SessionToken is the single process-wide messaging credential. A new mint
// always replaces the previous value as a whole.
type SessionToken struct {
	Token           string      `json:"-"`
	ExpiresAt       time.Time   `json:"expiresAt"`
	ThreadID        string      `json:"threadId"`
	ConversationSID string      `json:"conversationSid"`
	Scope           ThreadScope `json:"scope"`
}

// Message is a single chat message from either the paginated backlog or a
// live push event. Never mutated after creation.
type Message struct {
	ID           string `json:"id"`
	Body         string `json:"body,omitempty"`
	Author       string `json:"author"`
	AuthorUserID string `json:"authorUserId,omitempty"`
	CreatedAt    string `json:"createdAt"`
	// Index is the backend-assigned monotonic sequence number; nil when the
	// backend has not (yet) assigned one.
	Index *int64 `json:"index,omitempty"`
}

// conversationHandle records that the remote conversation object was fetched,
// joined and wired to the live listener. Created at most once per thread.
type conversationHandle struct {
	conv      RemoteConversation
	listening bool
	cancel    func()
}

// AuthorUserID derives the platform user id from a messaging identity.
// Identities are issued as "user-<id>"; anything else passes through.
func AuthorUserID(identity string) string {
	return strings.TrimPrefix(identity, "user-")
}

// withAuthorUserIDs returns a copy of msgs with the derived author user id
// filled in where the backend left it blank.
func withAuthorUserIDs(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	copy(out, msgs)
	for i := range out {
		if out[i].AuthorUserID == "" {
			out[i].AuthorUserID = AuthorUserID(out[i].Author)
		}
	}
	return out
}

// deriveScope builds the cached ThreadScope for a directory row. Row columns
// win over metadata entries of the same meaning.
func deriveScope(t ThreadSummary) ThreadScope {
	s := ThreadScope{
		ThreadID:              t.ID,
		QuoteID:               t.QuoteID,
		ShipmentID:            t.ShipmentID,
		ShipperBranchOrgID:    t.ShipperBranchOrgID,
		GalleryBranchOrgID:    t.GalleryBranchOrgID,
		ConversationType:      t.ConversationType,
		InitiatorShipperOrgID: t.InitiatorShipperOrgID,
		PeerShipperOrgIDs:     t.PeerShipperOrgIDs,
	}
	if s.QuoteID == "" {
		s.QuoteID = metaString(t.Metadata, "quoteId")
	}
	if s.ShipmentID == "" {
		s.ShipmentID = metaString(t.Metadata, "shipmentId")
	}
	if s.ShipperBranchOrgID == "" {
		s.ShipperBranchOrgID = metaString(t.Metadata, "shipperBranchOrgId")
	}
	if s.GalleryBranchOrgID == "" {
		s.GalleryBranchOrgID = metaString(t.Metadata, "galleryBranchOrgId")
	}
	if s.ConversationType == "" {
		s.ConversationType = metaString(t.Metadata, "conversationType")
	}
	if s.InitiatorShipperOrgID == "" {
		s.InitiatorShipperOrgID = metaString(t.Metadata, "initiatorShipperOrgId")
	}
	if len(s.PeerShipperOrgIDs) == 0 {
		s.PeerShipperOrgIDs = metaStrings(t.Metadata, "peerShipperOrgIds")
	}
	return s
}

func metaString(meta map[string]any, key string) string {
	if meta == nil {
		return ""
	}
	if v, ok := meta[key].(string); ok {
		return v
	}
	return ""
}

func metaStrings(meta map[string]any, key string) []string {
	if meta == nil {
		return nil
	}
	raw, ok := meta[key].([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
