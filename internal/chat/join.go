package chat

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// EnsureJoined is the idempotent "connect and hydrate" operation. After the
// first successful pass for a thread it is a cheap no-op beyond the
// have-messages check.
func (m *Manager) EnsureJoined(ctx context.Context, threadID string) error {
	sid := m.conversationSID(threadID)

	// Unknown thread: one discovery fetch, then fall back to synthesizing a
	// minimal record from the current token (a freshly minted thread may not
	// be in the directory yet). The discovery reset must not prune: other
	// joined threads beyond page one keep their listeners and caches.
	if sid == "" {
		if err := m.fetchThreads(ctx, true, false); err != nil {
			log.Debug().Err(err).Str("thread_id", threadID).Msg("discovery fetch failed")
		}
		sid = m.conversationSID(threadID)
	}
	if sid == "" {
		sid = m.synthesizeFromToken(threadID)
	}
	if sid == "" {
		return fmt.Errorf("ensure joined %s: %w", threadID, ErrThreadNotFound)
	}

	m.mu.RLock()
	client := m.client
	m.mu.RUnlock()
	if client == nil {
		if _, err := m.RefreshToken(ctx, RefreshOptions{Force: true, ThreadID: threadID}); err != nil {
			return err
		}
		m.mu.RLock()
		client = m.client
		m.mu.RUnlock()
		if client == nil {
			return fmt.Errorf("ensure joined %s: no messaging client", threadID)
		}
	}

	m.mu.RLock()
	handle := m.handles[threadID]
	haveMessages := len(m.messages[threadID]) > 0
	m.mu.RUnlock()

	if handle != nil {
		if haveMessages {
			return nil
		}
		// Directory reset dropped the cache; re-hydrate without rejoining or
		// re-registering listeners.
		history, err := handle.conv.Messages(ctx, m.historyPageSize)
		if err != nil {
			m.setLastError(err)
			return fmt.Errorf("refetch history for %s: %w", threadID, err)
		}
		history = withAuthorUserIDs(history)
		m.mu.Lock()
		m.messages[threadID] = MergeMessages(m.messages[threadID], history...)
		m.mu.Unlock()
		return nil
	}

	conv, err := client.Conversation(ctx, sid)
	if err != nil {
		m.setLastError(err)
		return fmt.Errorf("fetch conversation %s: %w", sid, err)
	}

	if err := conv.Join(ctx); err != nil {
		if !IsConflict(err) {
			m.setLastError(err)
			return fmt.Errorf("join conversation %s: %w", sid, err)
		}
		log.Debug().Str("conversation_sid", sid).Msg("already a conversation member")
	}

	history, err := conv.Messages(ctx, m.historyPageSize)
	if err != nil {
		m.setLastError(err)
		return fmt.Errorf("fetch history for %s: %w", threadID, err)
	}
	history = withAuthorUserIDs(history)

	cancel := conv.OnMessageAdded(func(msg Message) {
		m.mergeLiveMessage(threadID, msg)
	})

	m.mu.Lock()
	if existing := m.handles[threadID]; existing != nil {
		// A concurrent EnsureJoined completed first; keep its handle and
		// listener, drop ours.
		m.mu.Unlock()
		cancel()
		return nil
	}
	m.handles[threadID] = &conversationHandle{conv: conv, listening: true, cancel: cancel}
	m.messages[threadID] = MergeMessages(m.messages[threadID], history...)
	m.mu.Unlock()

	log.Debug().
		Str("thread_id", threadID).
		Str("conversation_sid", sid).
		Int("history", len(history)).
		Msg("conversation joined and hydrated")
	return nil
}

// SendMessage ensures the thread is joined, then posts through the cached
// conversation handle and merges the backend's echo of the message.
func (m *Manager) SendMessage(ctx context.Context, threadID, body string, attributes map[string]any) (Message, error) {
	if err := m.EnsureJoined(ctx, threadID); err != nil {
		return Message{}, err
	}

	m.mu.RLock()
	handle := m.handles[threadID]
	m.mu.RUnlock()
	if handle == nil {
		return Message{}, fmt.Errorf("send to %s: %w", threadID, ErrThreadNotFound)
	}

	msg, err := handle.conv.SendMessage(ctx, body, attributes)
	if err != nil {
		m.setLastError(err)
		return Message{}, fmt.Errorf("send message to %s: %w", threadID, err)
	}
	m.mergeLiveMessage(threadID, msg)
	return msg, nil
}

func (m *Manager) mergeLiveMessage(threadID string, msg Message) {
	if msg.AuthorUserID == "" {
		msg.AuthorUserID = AuthorUserID(msg.Author)
	}
	m.mu.Lock()
	m.messages[threadID] = MergeMessages(m.messages[threadID], msg)
	m.mu.Unlock()
}

func (m *Manager) conversationSID(threadID string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if t, ok := m.threads[threadID]; ok {
		return t.ConversationSID
	}
	return ""
}

// synthesizeFromToken registers a minimal thread record when the current
// session token references a thread the directory has not picked up yet.
func (m *Manager) synthesizeFromToken(threadID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.token
	if t == nil || t.ThreadID != threadID || t.ConversationSID == "" {
		return ""
	}
	if _, ok := m.threads[threadID]; !ok {
		m.threads[threadID] = ThreadSummary{
			ID:                    threadID,
			QuoteID:               t.Scope.QuoteID,
			ShipmentID:            t.Scope.ShipmentID,
			ShipperBranchOrgID:    t.Scope.ShipperBranchOrgID,
			GalleryBranchOrgID:    t.Scope.GalleryBranchOrgID,
			ConversationSID:       t.ConversationSID,
			ConversationType:      t.Scope.ConversationType,
			InitiatorShipperOrgID: t.Scope.InitiatorShipperOrgID,
			PeerShipperOrgIDs:     t.Scope.PeerShipperOrgIDs,
		}
		m.order = append(m.order, threadID)
		m.scopes[threadID] = t.Scope
	}
	return t.ConversationSID
}
