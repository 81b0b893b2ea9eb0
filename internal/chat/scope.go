package chat

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// OpenThreadRequest is the business context a UI call site opens a thread
// with. QuoteID is required; everything else narrows the match. ThreadID, if
// set, is an explicit prior thread to prefer.
type OpenThreadRequest struct {
	QuoteID               string `json:"quoteId"`
	ShipmentID            string `json:"shipmentId,omitempty"`
	ShipperBranchOrgID    string `json:"shipperBranchOrgId,omitempty"`
	GalleryBranchOrgID    string `json:"galleryBranchOrgId,omitempty"`
	PeerOrganizationID    string `json:"peerOrganizationId,omitempty"`
	InitiatorShipperOrgID string `json:"initiatorShipperOrgId,omitempty"`
	ThreadID              string `json:"threadId,omitempty"`
}

// OpenThreadResult reports the resolved thread and whether the server minted
// a new one.
type OpenThreadResult struct {
	ThreadID        string `json:"threadId"`
	ConversationSID string `json:"conversationSid,omitempty"`
	Created         bool   `json:"created"`
}

// OpenThread resolves a business context to a thread, minting one server-side
// when nothing matches, and joins it before returning so the caller can send
// and read immediately.
//
// Matching: candidates share the quote id; an explicit prior thread id wins
// when it is among them; otherwise the first candidate whose cached scope
// matches every explicitly supplied field (omitted fields are wildcards);
// with no scoping fields at all, the first candidate by quote id.
func (m *Manager) OpenThread(ctx context.Context, req OpenThreadRequest) (*OpenThreadResult, error) {
	if req.QuoteID == "" {
		return nil, fmt.Errorf("open thread: quote id is required")
	}

	candidates := m.candidatesByQuote(req.QuoteID)
	matched := matchCandidate(candidates, req)

	opts := RefreshOptions{
		ThreadID:              matched,
		QuoteID:               req.QuoteID,
		ShipmentID:            req.ShipmentID,
		ShipperBranchOrgID:    req.ShipperBranchOrgID,
		GalleryBranchOrgID:    req.GalleryBranchOrgID,
		PeerOrganizationID:    req.PeerOrganizationID,
		InitiatorShipperOrgID: req.InitiatorShipperOrgID,
	}
	result, err := m.RefreshToken(ctx, opts)
	if err != nil {
		return nil, err
	}

	threadID := matched
	if threadID == "" {
		threadID = result.ThreadID
	}
	created := !containsScope(candidates, threadID)

	if err := m.EnsureJoined(ctx, threadID); err != nil {
		return nil, err
	}

	log.Debug().
		Str("quote_id", req.QuoteID).
		Str("thread_id", threadID).
		Bool("created", created).
		Msg("thread resolved")

	return &OpenThreadResult{
		ThreadID:        threadID,
		ConversationSID: m.conversationSID(threadID),
		Created:         created,
	}, nil
}

// candidatesByQuote returns the scopes of directory threads sharing quoteID,
// in directory order.
func (m *Manager) candidatesByQuote(quoteID string) []ThreadScope {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []ThreadScope
	for _, id := range m.order {
		if s, ok := m.scopes[id]; ok && s.QuoteID == quoteID {
			out = append(out, s)
		}
	}
	return out
}

func matchCandidate(candidates []ThreadScope, req OpenThreadRequest) string {
	if len(candidates) == 0 {
		return ""
	}

	if req.ThreadID != "" && containsScope(candidates, req.ThreadID) {
		return req.ThreadID
	}

	if !hasScopingFields(req) {
		return candidates[0].ThreadID
	}

	for _, s := range candidates {
		if scopeMatchesRequest(s, req) {
			return s.ThreadID
		}
	}
	return ""
}

func hasScopingFields(req OpenThreadRequest) bool {
	return req.ShipmentID != "" || req.ShipperBranchOrgID != "" ||
		req.GalleryBranchOrgID != "" || req.PeerOrganizationID != "" ||
		req.InitiatorShipperOrgID != ""
}

// scopeMatchesRequest checks every explicitly supplied request field against
// the candidate's cached scope; omitted fields match anything.
func scopeMatchesRequest(s ThreadScope, req OpenThreadRequest) bool {
	if req.ShipmentID != "" && req.ShipmentID != s.ShipmentID {
		return false
	}
	if req.ShipperBranchOrgID != "" && req.ShipperBranchOrgID != s.ShipperBranchOrgID {
		return false
	}
	if req.GalleryBranchOrgID != "" && req.GalleryBranchOrgID != s.GalleryBranchOrgID {
		return false
	}
	if req.InitiatorShipperOrgID != "" && req.InitiatorShipperOrgID != s.InitiatorShipperOrgID {
		return false
	}
	if req.PeerOrganizationID != "" && !containsString(s.PeerShipperOrgIDs, req.PeerOrganizationID) {
		return false
	}
	return true
}

func containsScope(candidates []ThreadScope, threadID string) bool {
	for _, s := range candidates {
		if s.ThreadID == threadID {
			return true
		}
	}
	return false
}
