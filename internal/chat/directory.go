package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

// FetchThreads loads one directory page from the relational store. reset=true
// replaces the directory from offset zero; reset=false appends the next page.
// Without an authenticated session the directory is cleared and the call
// succeeds (benign empty state). Store failures leave already-loaded threads
// untouched.
func (m *Manager) FetchThreads(ctx context.Context, reset bool) error {
	return m.fetchThreads(ctx, reset, true)
}

func (m *Manager) fetchThreads(ctx context.Context, reset, prune bool) error {
	userID, err := m.auth.UserID(ctx)
	if err != nil {
		if errors.Is(err, ErrNoSession) {
			m.resetState()
			return nil
		}
		m.setLastError(err)
		return fmt.Errorf("resolve session user: %w", err)
	}

	m.mu.Lock()
	if !reset {
		if m.loading || !m.hasMore {
			m.mu.Unlock()
			return nil
		}
	}
	m.loading = true
	// The paging offset counts rows fetched from the store, not directory
	// size: threads synthesized from a minted token sit in the directory
	// without a backing store row behind the window.
	offset := 0
	if !reset {
		offset = m.fetched
	}
	m.mu.Unlock()

	rows, err := m.store.ListThreads(ctx, userID, m.pageSize, offset)
	if err != nil {
		m.mu.Lock()
		m.loading = false
		m.lastError = err.Error()
		m.mu.Unlock()
		return fmt.Errorf("fetch thread directory: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.loading = false

	if reset {
		m.threads = make(map[string]ThreadSummary, len(rows))
		m.order = nil
		m.fetched = 0
	}
	m.fetched += len(rows)
	for _, row := range rows {
		if _, seen := m.threads[row.ID]; !seen {
			m.order = append(m.order, row.ID)
		}
		// Last write wins for duplicate ids across pages.
		m.threads[row.ID] = row
	}

	// Scopes are rebuilt wholesale so stale entries never outlive their row.
	scopes := make(map[string]ThreadScope, len(m.threads))
	for id, t := range m.threads {
		scopes[id] = deriveScope(t)
	}
	m.scopes = scopes

	if reset && prune {
		m.pruneStaleLocked()
	}

	m.hasMore = len(rows) == m.pageSize

	log.Debug().
		Bool("reset", reset).
		Int("page_rows", len(rows)).
		Int("directory_size", len(m.threads)).
		Bool("has_more", m.hasMore).
		Msg("thread directory fetched")
	return nil
}

// LoadMore appends the next directory page. No-op while a load is in flight
// or when no more pages remain.
func (m *Manager) LoadMore(ctx context.Context) error {
	m.mu.RLock()
	busy := m.loading || !m.hasMore
	m.mu.RUnlock()
	if busy {
		return nil
	}
	return m.FetchThreads(ctx, false)
}

// pruneStaleLocked drops cached messages and join handles for threads no
// longer present in the directory. Caller holds m.mu.
func (m *Manager) pruneStaleLocked() {
	for id := range m.messages {
		if _, ok := m.threads[id]; !ok {
			delete(m.messages, id)
		}
	}
	for id, h := range m.handles {
		if _, ok := m.threads[id]; !ok {
			if h.cancel != nil {
				h.cancel()
			}
			delete(m.handles, id)
		}
	}
}
