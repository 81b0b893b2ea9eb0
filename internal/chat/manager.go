package chat

import (
	"sort"
	"sync"
	"time"
)

const (
	defaultPageSize        = 30
	defaultHistoryPageSize = 10
	defaultExpiryBuffer    = 60 * time.Second
)

// Options tunes a Manager. Zero values fall back to production defaults.
type Options struct {
	PageSize          int
	HistoryPageSize   int
	TokenExpiryBuffer time.Duration
	Clock             func() time.Time
}

// Manager owns the conversation synchronization state for one signed-in user:
// the thread directory and its scopes, the single session token and messaging
// client, the per-thread join cache, and the per-thread message lists.
//
// Mutations replace whole values (slices and map entries are rebuilt, never
// edited in place) so readers under the RWMutex always see a fully-formed
// state. Token mints are serialized by refreshMu; concurrent refreshes for
// different threads race and the last one to complete wins, which is the
// accepted trade-off of sharing one token.
type Manager struct {
	store     ThreadStore
	tokens    TokenService
	auth      AuthSession
	newClient ClientFactory

	pageSize        int
	historyPageSize int
	expiryBuffer    time.Duration
	now             func() time.Time

	refreshMu sync.Mutex

	mu      sync.RWMutex
	threads map[string]ThreadSummary
	order   []string
	scopes  map[string]ThreadScope
	// fetched counts rows actually loaded from the store; it is the next
	// paging offset and excludes token-synthesized directory entries.
	fetched   int
	hasMore   bool
	loading   bool
	token     *SessionToken
	client    MessagingClient
	handles   map[string]*conversationHandle
	messages  map[string][]Message
	provision ProvisionState
	lastError string
}

// NewManager wires a manager from its collaborators. Every dependency is
// injected; nothing is process-global.
func NewManager(store ThreadStore, tokens TokenService, auth AuthSession, factory ClientFactory, opts Options) *Manager {
	m := &Manager{
		store:           store,
		tokens:          tokens,
		auth:            auth,
		newClient:       factory,
		pageSize:        opts.PageSize,
		historyPageSize: opts.HistoryPageSize,
		expiryBuffer:    opts.TokenExpiryBuffer,
		now:             opts.Clock,
		threads:         make(map[string]ThreadSummary),
		scopes:          make(map[string]ThreadScope),
		handles:         make(map[string]*conversationHandle),
		messages:        make(map[string][]Message),
	}
	if m.pageSize <= 0 {
		m.pageSize = defaultPageSize
	}
	if m.historyPageSize <= 0 {
		m.historyPageSize = defaultHistoryPageSize
	}
	if m.expiryBuffer <= 0 {
		m.expiryBuffer = defaultExpiryBuffer
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// Threads returns the directory in its display order.
func (m *Manager) Threads() []ThreadSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ThreadSummary, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.threads[id])
	}
	return out
}

// Messages returns the merged message list for a thread.
func (m *Manager) Messages(threadID string) []Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.messages[threadID]
}

// HasMore reports whether another directory page may exist.
func (m *Manager) HasMore() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hasMore
}

// Scope returns the cached business context of a thread.
func (m *Manager) Scope(threadID string) (ThreadScope, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.scopes[threadID]
	return s, ok
}

// MarkThreadRead resets a thread's unread count, the only client-side
// ThreadSummary mutation permitted.
func (m *Manager) MarkThreadRead(threadID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.threads[threadID]
	if !ok || t.UnreadCount == 0 {
		return
	}
	t.UnreadCount = 0
	m.threads[threadID] = t
}

// Status is a snapshot of the session state for the UI to render.
type Status struct {
	ThreadCount     int            `json:"threadCount"`
	HasMore         bool           `json:"hasMore"`
	TokenThreadID   string         `json:"tokenThreadId,omitempty"`
	TokenExpiresAt  *time.Time     `json:"tokenExpiresAt,omitempty"`
	ClientConnected bool           `json:"clientConnected"`
	Provisioning    ProvisionState `json:"provisioning"`
	LastError       string         `json:"lastError,omitempty"`
	JoinedThreadIDs []string       `json:"joinedThreadIds,omitempty"`
	HydratedThreads int            `json:"hydratedThreads"`
}

// Status reports the manager's current state, including the shared error slot.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := Status{
		ThreadCount:     len(m.threads),
		HasMore:         m.hasMore,
		ClientConnected: m.client != nil,
		Provisioning:    m.provision,
		LastError:       m.lastError,
	}
	if m.token != nil {
		st.TokenThreadID = m.token.ThreadID
		expires := m.token.ExpiresAt
		st.TokenExpiresAt = &expires
	}
	for id := range m.handles {
		st.JoinedThreadIDs = append(st.JoinedThreadIDs, id)
	}
	sort.Strings(st.JoinedThreadIDs)
	for _, msgs := range m.messages {
		if len(msgs) > 0 {
			st.HydratedThreads++
		}
	}
	return st
}

// SignOut clears all state and shuts the messaging client down.
func (m *Manager) SignOut() {
	m.resetState()
}

func (m *Manager) resetState() {
	m.mu.Lock()
	client := m.client
	handles := m.handles
	m.threads = make(map[string]ThreadSummary)
	m.order = nil
	m.scopes = make(map[string]ThreadScope)
	m.fetched = 0
	m.hasMore = false
	m.loading = false
	m.token = nil
	m.client = nil
	m.handles = make(map[string]*conversationHandle)
	m.messages = make(map[string][]Message)
	m.provision = ProvisionState{}
	m.lastError = ""
	m.mu.Unlock()

	for _, h := range handles {
		if h.cancel != nil {
			h.cancel()
		}
	}
	if client != nil {
		client.Shutdown()
	}
}

func (m *Manager) setLastError(err error) {
	if err == nil {
		return
	}
	m.mu.Lock()
	m.lastError = err.Error()
	m.mu.Unlock()
}
