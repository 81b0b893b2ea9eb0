// Package messaging is the reference driver for the remote real-time
// messaging backend: REST for conversation objects and history, one
// websocket for live message pushes, and local timers for the token expiry
// hooks. Anything satisfying the interfaces in internal/chat can replace it.
package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/crateline/internal/chat"
)

// aboutToExpireLead is how far before token expiry the pre-expiry hook fires.
const aboutToExpireLead = 3 * time.Minute

// Client implements chat.MessagingClient.
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu            sync.Mutex
	token         string
	aboutToExpire []func()
	expired       []func()
	connErr       []func(error)
	subs          map[string]map[int]func(chat.Message)
	nextSubID     int
	expireTimer   *time.Timer
	expiredTimer  *time.Timer

	ws     *websocket.Conn
	closed chan struct{}
	once   sync.Once
}

// NewFactory returns a chat.ClientFactory for the backend at baseURL.
func NewFactory(baseURL string) chat.ClientFactory {
	return func(token string) (chat.MessagingClient, error) {
		return Dial(baseURL, token)
	}
}

// Dial connects to the backend with a freshly minted session token.
func Dial(baseURL, token string) (*Client, error) {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		token:      token,
		subs:       make(map[string]map[int]func(chat.Message)),
		closed:     make(chan struct{}),
	}

	wsURL := strings.Replace(c.baseURL, "http", "ws", 1) + "/v1/events"
	header := http.Header{"Authorization": {"Bearer " + token}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		return nil, fmt.Errorf("dial messaging events: %w", err)
	}
	c.ws = conn

	c.scheduleExpiry(token)
	go c.readLoop()
	return c, nil
}

func (c *Client) Conversation(ctx context.Context, sid string) (chat.RemoteConversation, error) {
	var resp struct {
		SID string `json:"sid"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/conversations/"+sid, nil, &resp); err != nil {
		return nil, err
	}
	return &conversation{client: c, sid: resp.SID}, nil
}

func (c *Client) UpdateToken(token string) error {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
	c.scheduleExpiry(token)
	return nil
}

func (c *Client) OnTokenAboutToExpire(fn func()) {
	c.mu.Lock()
	c.aboutToExpire = append(c.aboutToExpire, fn)
	c.mu.Unlock()
}

func (c *Client) OnTokenExpired(fn func()) {
	c.mu.Lock()
	c.expired = append(c.expired, fn)
	c.mu.Unlock()
}

func (c *Client) OnConnectionError(fn func(error)) {
	c.mu.Lock()
	c.connErr = append(c.connErr, fn)
	c.mu.Unlock()
}

func (c *Client) Shutdown() {
	c.once.Do(func() {
		close(c.closed)
		c.mu.Lock()
		if c.expireTimer != nil {
			c.expireTimer.Stop()
		}
		if c.expiredTimer != nil {
			c.expiredTimer.Stop()
		}
		ws := c.ws
		c.mu.Unlock()
		if ws != nil {
			ws.Close()
		}
	})
}

// scheduleExpiry arms the two expiry hooks from the token's exp claim. Tokens
// without a readable claim get no local timers; the backend still pushes its
// own expiry notification through the event stream.
func (c *Client) scheduleExpiry(token string) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.expireTimer != nil {
		c.expireTimer.Stop()
	}
	if c.expiredTimer != nil {
		c.expiredTimer.Stop()
	}

	until := time.Until(exp.Time)
	lead := until - aboutToExpireLead
	if lead < 0 {
		lead = 0
	}
	c.expireTimer = time.AfterFunc(lead, func() { c.fire(c.snapshot(&c.aboutToExpire)) })
	c.expiredTimer = time.AfterFunc(until, func() { c.fire(c.snapshot(&c.expired)) })
}

func (c *Client) snapshot(list *[]func()) []func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]func(), len(*list))
	copy(out, *list)
	return out
}

func (c *Client) fire(fns []func()) {
	select {
	case <-c.closed:
		return
	default:
	}
	for _, fn := range fns {
		fn()
	}
}

type wireEvent struct {
	Type            string       `json:"type"`
	ConversationSID string       `json:"conversationSid"`
	Message         chat.Message `json:"message"`
}

func (c *Client) readLoop() {
	for {
		var ev wireEvent
		if err := c.ws.ReadJSON(&ev); err != nil {
			select {
			case <-c.closed:
				return
			default:
			}
			c.mu.Lock()
			handlers := make([]func(error), len(c.connErr))
			copy(handlers, c.connErr)
			c.mu.Unlock()
			for _, fn := range handlers {
				fn(err)
			}
			log.Warn().Err(err).Msg("messaging event stream closed")
			return
		}

		if ev.Type != "messageAdded" {
			continue
		}
		c.mu.Lock()
		var fns []func(chat.Message)
		for _, fn := range c.subs[ev.ConversationSID] {
			fns = append(fns, fn)
		}
		c.mu.Unlock()
		for _, fn := range fns {
			fn(ev.Message)
		}
	}
}

func (c *Client) subscribe(sid string, fn func(chat.Message)) (cancel func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subs[sid] == nil {
		c.subs[sid] = make(map[int]func(chat.Message))
	}
	id := c.nextSubID
	c.nextSubID++
	c.subs[sid][id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs[sid], id)
	}
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.mu.Lock()
	req.Header.Set("Authorization", "Bearer "+c.token)
	c.mu.Unlock()
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("messaging request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &chat.APIError{Status: resp.StatusCode}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		var decoded struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &decoded) == nil {
			apiErr.Code = decoded.Code
			apiErr.Message = decoded.Message
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode messaging response: %w", err)
		}
	}
	return nil
}

type conversation struct {
	client *Client
	sid    string
}

func (cv *conversation) SID() string { return cv.sid }

func (cv *conversation) Join(ctx context.Context) error {
	path := "/v1/conversations/" + cv.sid + "/participants"
	return cv.client.do(ctx, http.MethodPost, path, struct{}{}, nil)
}

func (cv *conversation) SendMessage(ctx context.Context, body string, attributes map[string]any) (chat.Message, error) {
	payload := map[string]any{"body": body}
	if len(attributes) > 0 {
		payload["attributes"] = attributes
	}
	var msg chat.Message
	path := "/v1/conversations/" + cv.sid + "/messages"
	if err := cv.client.do(ctx, http.MethodPost, path, payload, &msg); err != nil {
		return chat.Message{}, err
	}
	return msg, nil
}

func (cv *conversation) Messages(ctx context.Context, pageSize int) ([]chat.Message, error) {
	var resp struct {
		Messages []chat.Message `json:"messages"`
	}
	path := fmt.Sprintf("/v1/conversations/%s/messages?pageSize=%d", cv.sid, pageSize)
	if err := cv.client.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

func (cv *conversation) OnMessageAdded(fn func(chat.Message)) (cancel func()) {
	return cv.client.subscribe(cv.sid, fn)
}
