package chat

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Shared fakes for the manager tests. Everything is deterministic and
// in-memory; counters are mutex-guarded because background refreshes run on
// their own goroutines.

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{t: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeAuth struct {
	userID    string
	bearer    string
	signedOut bool
}

func (f *fakeAuth) UserID(ctx context.Context) (string, error) {
	if f.signedOut {
		return "", ErrNoSession
	}
	return f.userID, nil
}

func (f *fakeAuth) BearerToken(ctx context.Context) (string, error) {
	if f.signedOut {
		return "", ErrNoSession
	}
	return f.bearer, nil
}

type fakeStore struct {
	mu    sync.Mutex
	rows  []ThreadSummary
	err   error
	calls int
}

func (f *fakeStore) ListThreads(ctx context.Context, userID string, limit, offset int) ([]ThreadSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if offset >= len(f.rows) {
		return nil, nil
	}
	end := offset + limit
	if end > len(f.rows) {
		end = len(f.rows)
	}
	page := make([]ThreadSummary, end-offset)
	copy(page, f.rows[offset:end])
	return page, nil
}

func (f *fakeStore) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeTokens struct {
	mu             sync.Mutex
	mintCalls      int
	provisionCalls int
	mintErrs       []error // error for the nth mint; nil entries succeed
	provisionErr   error
	respond        func(req MintRequest) *MintResponse
	lastReq        MintRequest
	expiresIn      time.Duration
	clock          *fakeClock
}

func (f *fakeTokens) MintToken(ctx context.Context, bearer string, req MintRequest) (*MintResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.mintCalls
	f.mintCalls++
	f.lastReq = req
	if n < len(f.mintErrs) && f.mintErrs[n] != nil {
		return nil, f.mintErrs[n]
	}
	if f.respond != nil {
		return f.respond(req), nil
	}

	threadID := req.ThreadID
	if threadID == "" {
		threadID = "T1"
	}
	ttl := f.expiresIn
	if ttl == 0 {
		ttl = time.Hour
	}
	now := time.Now()
	if f.clock != nil {
		now = f.clock.Now()
	}
	return &MintResponse{
		Token:           fmt.Sprintf("token-%d", n),
		ExpiresAt:       now.Add(ttl).Format(time.RFC3339),
		ThreadID:        threadID,
		ConversationSID: "CH-" + threadID,
		QuoteID:         req.QuoteID,
		ShipmentID:      req.ShipmentID,
	}, nil
}

func (f *fakeTokens) Provision(ctx context.Context, bearer string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.provisionCalls++
	return f.provisionErr
}

func (f *fakeTokens) counts() (mints, provisions int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mintCalls, f.provisionCalls
}

func (f *fakeTokens) lastRequest() MintRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastReq
}

type fakeClient struct {
	mu            sync.Mutex
	tokens        []string
	aboutToExpire []func()
	expired       []func()
	connErr       []func(error)
	convs         map[string]*fakeConversation
	convErr       error
	shutdown      bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{convs: make(map[string]*fakeConversation)}
}

func (f *fakeClient) Conversation(ctx context.Context, sid string) (RemoteConversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.convErr != nil {
		return nil, f.convErr
	}
	conv, ok := f.convs[sid]
	if !ok {
		conv = &fakeConversation{sid: sid}
		f.convs[sid] = conv
	}
	return conv, nil
}

func (f *fakeClient) UpdateToken(token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = append(f.tokens, token)
	return nil
}

func (f *fakeClient) OnTokenAboutToExpire(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aboutToExpire = append(f.aboutToExpire, fn)
}

func (f *fakeClient) OnTokenExpired(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expired = append(f.expired, fn)
}

func (f *fakeClient) OnConnectionError(fn func(error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connErr = append(f.connErr, fn)
}

func (f *fakeClient) Shutdown() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdown = true
}

func (f *fakeClient) fireAboutToExpire() {
	f.mu.Lock()
	fns := make([]func(), len(f.aboutToExpire))
	copy(fns, f.aboutToExpire)
	f.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (f *fakeClient) updateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tokens)
}

func (f *fakeClient) conversation(sid string) *fakeConversation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.convs[sid]
}

type fakeConversation struct {
	mu           sync.Mutex
	sid          string
	joinCalls    int
	joinErr      error
	history      []Message
	historyCalls int
	listeners    int
	onAdded      func(Message)
	nextIndex    int64
}

func (f *fakeConversation) SID() string { return f.sid }

func (f *fakeConversation) Join(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joinCalls++
	return f.joinErr
}

func (f *fakeConversation) SendMessage(ctx context.Context, body string, attributes map[string]any) (Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextIndex++
	return Message{
		ID:        fmt.Sprintf("%s-msg-%d", f.sid, f.nextIndex),
		Body:      body,
		Author:    "user-self",
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Index:     int64Ptr(f.nextIndex),
	}, nil
}

func (f *fakeConversation) Messages(ctx context.Context, pageSize int) ([]Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.historyCalls++
	if len(f.history) > pageSize {
		return f.history[:pageSize], nil
	}
	return f.history, nil
}

func (f *fakeConversation) OnMessageAdded(fn func(Message)) (cancel func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners++
	f.onAdded = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.listeners--
	}
}

func (f *fakeConversation) push(msg Message) {
	f.mu.Lock()
	fn := f.onAdded
	f.mu.Unlock()
	if fn != nil {
		fn(msg)
	}
}

func (f *fakeConversation) stats() (joins, historyFetches, listeners int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.joinCalls, f.historyCalls, f.listeners
}

// testEnv bundles a manager with its fakes.
type testEnv struct {
	manager *Manager
	clock   *fakeClock
	auth    *fakeAuth
	store   *fakeStore
	tokens  *fakeTokens
	client  *fakeClient
	factory *factorySpy
}

type factorySpy struct {
	mu     sync.Mutex
	calls  int
	client *fakeClient
	err    error
}

func (f *factorySpy) new(token string) (MessagingClient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.client, nil
}

func (f *factorySpy) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestEnv(opts Options) *testEnv {
	env := &testEnv{
		clock:  newFakeClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)),
		auth:   &fakeAuth{userID: "42", bearer: "platform-bearer"},
		store:  &fakeStore{},
		client: newFakeClient(),
	}
	env.tokens = &fakeTokens{clock: env.clock}
	env.factory = &factorySpy{client: env.client}
	if opts.Clock == nil {
		opts.Clock = env.clock.Now
	}
	env.manager = NewManager(env.store, env.tokens, env.auth, env.factory.new, opts)
	return env
}

func int64Ptr(v int64) *int64 { return &v }

func thread(id, quoteID string) ThreadSummary {
	return ThreadSummary{
		ID:              id,
		QuoteID:         quoteID,
		ConversationSID: "CH-" + id,
	}
}
