package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

// RefreshOptions scopes a token refresh. Empty fields were not supplied by
// the caller and act as wildcards in the reuse check.
type RefreshOptions struct {
	Force                 bool
	ThreadID              string
	QuoteID               string
	ShipmentID            string
	ShipperBranchOrgID    string
	GalleryBranchOrgID    string
	PeerOrganizationID    string
	InitiatorShipperOrgID string
}

// TokenResult is what a caller needs for subsequent join/send calls.
type TokenResult struct {
	ThreadID        string      `json:"threadId"`
	ConversationSID string      `json:"conversationSid"`
	Scope           ThreadScope `json:"scope"`
}

// RefreshToken reuses or mints the process-wide session token.
//
// Reuse applies when the token is not forced, expires more than the safety
// buffer from now, and every field the caller actually supplied matches the
// current token's recorded scope. Otherwise a mint request is built (quote id
// preferred so the server can create-or-find the thread) and sent with the
// platform bearer credential. A "not a member" failure on the first attempt
// runs the provisioning fallback and retries exactly once, forced.
func (m *Manager) RefreshToken(ctx context.Context, opts RefreshOptions) (*TokenResult, error) {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	m.mu.RLock()
	current := m.token
	var cached *ThreadScope
	if opts.ThreadID != "" {
		if s, ok := m.scopes[opts.ThreadID]; ok {
			cached = &s
		}
	}
	m.mu.RUnlock()

	if !opts.Force && current != nil &&
		!current.ExpiresAt.Before(m.now().Add(m.expiryBuffer)) &&
		tokenCoversOptions(current, opts) {
		return &TokenResult{
			ThreadID:        current.ThreadID,
			ConversationSID: current.ConversationSID,
			Scope:           current.Scope,
		}, nil
	}

	bearer, err := m.auth.BearerToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve bearer credential: %w", err)
	}

	req := buildMintRequest(opts, cached)

	// Attempt 0, then on PermissionDenied provision once and run attempt 1.
	// Any further failure is terminal.
	for attempt := 0; ; attempt++ {
		resp, err := m.tokens.MintToken(ctx, bearer, req)
		if err == nil {
			return m.applyMintedToken(resp)
		}
		if attempt == 0 && IsPermissionDenied(err) {
			log.Warn().Err(err).Msg("token mint denied, provisioning messaging identity")
			m.runProvisioning(ctx)
			continue
		}
		m.setLastError(err)
		return nil, fmt.Errorf("mint session token: %w", err)
	}
}

// applyMintedToken commits a successful mint: replaces the token, persists
// the returned scope under the returned thread id, and creates or hot-updates
// the messaging client.
func (m *Manager) applyMintedToken(resp *MintResponse) (*TokenResult, error) {
	scope := ThreadScope{
		ThreadID:              resp.ThreadID,
		QuoteID:               resp.QuoteID,
		ShipmentID:            resp.ShipmentID,
		ShipperBranchOrgID:    resp.ShipperBranchOrgID,
		GalleryBranchOrgID:    resp.GalleryBranchOrgID,
		ConversationType:      resp.ConversationType,
		InitiatorShipperOrgID: resp.InitiatorShipperOrgID,
		PeerShipperOrgIDs:     resp.PeerShipperOrgIDs,
	}
	token := &SessionToken{
		Token:           resp.Token,
		ExpiresAt:       m.tokenExpiry(resp),
		ThreadID:        resp.ThreadID,
		ConversationSID: resp.ConversationSID,
		Scope:           scope,
	}

	m.mu.Lock()
	m.token = token
	m.scopes[resp.ThreadID] = scope
	client := m.client
	m.mu.Unlock()

	if client == nil {
		created, err := m.newClient(resp.Token)
		if err != nil {
			m.setLastError(err)
			return nil, fmt.Errorf("construct messaging client: %w", err)
		}
		m.attachClientLifecycle(created)

		m.mu.Lock()
		if m.client == nil {
			m.client = created
			client = nil
		} else {
			// A concurrent refresh won the race; keep its client.
			client = m.client
		}
		m.mu.Unlock()
		if client != nil {
			created.Shutdown()
			if err := client.UpdateToken(resp.Token); err != nil {
				log.Warn().Err(err).Msg("failed to hot-update messaging token")
			}
		}
	} else if err := client.UpdateToken(resp.Token); err != nil {
		log.Warn().Err(err).Msg("failed to hot-update messaging token")
	}

	log.Debug().
		Str("thread_id", resp.ThreadID).
		Str("conversation_sid", resp.ConversationSID).
		Time("expires_at", token.ExpiresAt).
		Msg("session token replaced")

	return &TokenResult{
		ThreadID:        resp.ThreadID,
		ConversationSID: resp.ConversationSID,
		Scope:           scope,
	}, nil
}

// attachClientLifecycle wires the expiry and transport hooks. Both expiry
// hooks fire a detached forced refresh whose failure is logged, never
// propagated: the original caller has long since completed.
func (m *Manager) attachClientLifecycle(client MessagingClient) {
	refresh := func(reason string) {
		go func() {
			if _, err := m.RefreshToken(context.Background(), RefreshOptions{Force: true}); err != nil {
				log.Error().Err(err).Str("reason", reason).Msg("background token refresh failed")
			}
		}()
	}
	client.OnTokenAboutToExpire(func() { refresh("about_to_expire") })
	client.OnTokenExpired(func() { refresh("expired") })
	client.OnConnectionError(func(err error) {
		log.Warn().Err(err).Msg("messaging connection error")
	})
}

// tokenExpiry reads expiresAt from the mint response, falling back to the
// exp claim of the (JWT-shaped) credential, then to a one-hour default.
func (m *Manager) tokenExpiry(resp *MintResponse) time.Time {
	if t, err := time.Parse(time.RFC3339, resp.ExpiresAt); err == nil {
		return t
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(resp.Token, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time
		}
	}
	log.Warn().Str("expires_at", resp.ExpiresAt).Msg("unreadable token expiry, assuming one hour")
	return m.now().Add(time.Hour)
}

// tokenCoversOptions checks every explicitly-supplied option field against
// the current token's recorded scope. Omitted fields are not checked, so a
// caller with a narrower context may reuse a token minted for a wider one.
func tokenCoversOptions(token *SessionToken, opts RefreshOptions) bool {
	if opts.ThreadID != "" && opts.ThreadID != token.ThreadID {
		return false
	}
	if opts.QuoteID != "" && opts.QuoteID != token.Scope.QuoteID {
		return false
	}
	if opts.ShipmentID != "" && opts.ShipmentID != token.Scope.ShipmentID {
		return false
	}
	if opts.ShipperBranchOrgID != "" && opts.ShipperBranchOrgID != token.Scope.ShipperBranchOrgID {
		return false
	}
	if opts.GalleryBranchOrgID != "" && opts.GalleryBranchOrgID != token.Scope.GalleryBranchOrgID {
		return false
	}
	if opts.InitiatorShipperOrgID != "" && opts.InitiatorShipperOrgID != token.Scope.InitiatorShipperOrgID {
		return false
	}
	if opts.PeerOrganizationID != "" && !containsString(token.Scope.PeerShipperOrgIDs, opts.PeerOrganizationID) {
		return false
	}
	return true
}

// buildMintRequest prefers quote-id minting so the server can create-or-find
// the thread. Optional fields come from the options first, then the cached
// scope, and are omitted entirely when neither defines them.
func buildMintRequest(opts RefreshOptions, cached *ThreadScope) MintRequest {
	pick := func(explicit string, fromScope func(*ThreadScope) string) string {
		if explicit != "" {
			return explicit
		}
		if cached != nil {
			return fromScope(cached)
		}
		return ""
	}

	req := MintRequest{
		ShipmentID:            pick(opts.ShipmentID, func(s *ThreadScope) string { return s.ShipmentID }),
		ShipperBranchOrgID:    pick(opts.ShipperBranchOrgID, func(s *ThreadScope) string { return s.ShipperBranchOrgID }),
		GalleryBranchOrgID:    pick(opts.GalleryBranchOrgID, func(s *ThreadScope) string { return s.GalleryBranchOrgID }),
		InitiatorShipperOrgID: pick(opts.InitiatorShipperOrgID, func(s *ThreadScope) string { return s.InitiatorShipperOrgID }),
		PeerOrganizationID:    opts.PeerOrganizationID,
	}

	quoteID := pick(opts.QuoteID, func(s *ThreadScope) string { return s.QuoteID })
	if quoteID != "" {
		req.QuoteID = quoteID
		return req
	}
	req.ThreadID = opts.ThreadID
	return req
}

func containsString(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}
