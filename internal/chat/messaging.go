package chat

import "context"

// MessagingClient is the stateful handle to the remote real-time messaging
// backend, constructed from a minted session token. Exactly one client exists
// per manager; token refreshes are applied in place via UpdateToken.
type MessagingClient interface {
	// Conversation fetches the remote conversation object by its sid.
	Conversation(ctx context.Context, sid string) (RemoteConversation, error)

	// UpdateToken replaces the client's credential without reconnecting.
	UpdateToken(token string) error

	// OnTokenAboutToExpire registers the pre-expiry notification hook.
	OnTokenAboutToExpire(fn func())

	// OnTokenExpired registers the post-expiry notification hook.
	OnTokenExpired(fn func())

	// OnConnectionError registers the transport-failure hook (log only).
	OnConnectionError(fn func(error))

	// Shutdown tears the client down. Used on sign-out.
	Shutdown()
}

// RemoteConversation is a single remote conversation object.
type RemoteConversation interface {
	SID() string

	// Join adds the current identity as a participant. Joining a conversation
	// the identity already belongs to yields a conflict-shaped error which
	// callers must treat as success.
	Join(ctx context.Context) error

	// SendMessage posts a message and returns the backend's view of it.
	SendMessage(ctx context.Context, body string, attributes map[string]any) (Message, error)

	// Messages returns the first page of history, newest page of at most
	// pageSize entries.
	Messages(ctx context.Context, pageSize int) ([]Message, error)

	// OnMessageAdded subscribes to live message pushes. The returned cancel
	// func detaches the listener.
	OnMessageAdded(fn func(Message)) (cancel func())
}

// ClientFactory constructs a MessagingClient from a session token. Injected
// at the composition root so tests run against a fake backend.
type ClientFactory func(token string) (MessagingClient, error)

// AuthSession is the external authentication session provider. It issues the
// bearer credential used against the token-mint and provisioning endpoints.
type AuthSession interface {
	// UserID returns the signed-in platform user id, or ErrNoSession.
	UserID(ctx context.Context) (string, error)

	// BearerToken returns the platform credential, or ErrNoSession.
	BearerToken(ctx context.Context) (string, error)
}

// ThreadStore is the read-only view of the relational store's thread rows.
type ThreadStore interface {
	// ListThreads returns one offset-paged window of the user's threads,
	// ordered by last-message timestamp descending.
	ListThreads(ctx context.Context, userID string, limit, offset int) ([]ThreadSummary, error)
}

// TokenService fronts the token-mint and provisioning HTTP endpoints.
type TokenService interface {
	MintToken(ctx context.Context, bearer string, req MintRequest) (*MintResponse, error)
	Provision(ctx context.Context, bearer string) error
}

// MintRequest selects exactly one of QuoteID or ThreadID; quote-based minting
// lets the server create-or-find the thread. Optional fields are sent only
// when known so server-held defaults are not overwritten with empty values.
type MintRequest struct {
	QuoteID               string `json:"quoteId,omitempty"`
	ThreadID              string `json:"threadId,omitempty"`
	ShipmentID            string `json:"shipmentId,omitempty"`
	ShipperBranchOrgID    string `json:"shipperBranchOrgId,omitempty"`
	GalleryBranchOrgID    string `json:"galleryBranchOrgId,omitempty"`
	PeerOrganizationID    string `json:"peerOrganizationId,omitempty"`
	InitiatorShipperOrgID string `json:"initiatorShipperOrgId,omitempty"`
}

// MintResponse is the token endpoint's response body.
type MintResponse struct {
	Token                 string   `json:"token"`
	ExpiresAt             string   `json:"expiresAt"`
	ThreadID              string   `json:"threadId"`
	ConversationSID       string   `json:"conversationSid"`
	QuoteID               string   `json:"quoteId,omitempty"`
	ShipmentID            string   `json:"shipmentId,omitempty"`
	ShipperBranchOrgID    string   `json:"shipperBranchOrgId,omitempty"`
	GalleryBranchOrgID    string   `json:"galleryBranchOrgId,omitempty"`
	ConversationType      string   `json:"conversationType,omitempty"`
	PeerShipperOrgIDs     []string `json:"peerShipperOrgIds,omitempty"`
	InitiatorShipperOrgID string   `json:"initiatorShipperOrgId,omitempty"`
}
