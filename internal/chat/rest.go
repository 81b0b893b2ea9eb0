package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// RESTClient talks to the token-mint and provisioning endpoints. Mint calls
// are throttled so a burst of UI-triggered refreshes cannot hammer the
// endpoint.
type RESTClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewRESTClient creates a client for the chat API at baseURL.
func NewRESTClient(baseURL string) *RESTClient {
	return &RESTClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Every(200*time.Millisecond), 5),
	}
}

// MintToken requests a messaging session token scoped to the request's quote
// or thread.
func (c *RESTClient) MintToken(ctx context.Context, bearer string, req MintRequest) (*MintResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("token mint throttled: %w", err)
	}

	var resp MintResponse
	if err := c.post(ctx, "/chat/token", bearer, req, &resp); err != nil {
		return nil, err
	}
	if resp.Token == "" {
		return nil, fmt.Errorf("token endpoint returned an empty token")
	}
	return &resp, nil
}

// Provision bootstraps the caller's remote messaging identity. The body is
// empty; a 2xx means the identity now exists with its pre-approved
// memberships attached.
func (c *RESTClient) Provision(ctx context.Context, bearer string) error {
	return c.post(ctx, "/chat/provision", bearer, nil, nil)
}

func (c *RESTClient) post(ctx context.Context, path, bearer string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("X-Request-Id", uuid.NewString())
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("chat api request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode chat api response: %w", err)
		}
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return apiErr
	}

	var body struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err == nil {
		apiErr.Code = body.Code
		apiErr.Message = body.Message
		if apiErr.Message == "" {
			apiErr.Message = body.Error
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = string(bytes.TrimSpace(data))
	}
	return apiErr
}
