package chat

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the conditions callers are expected to branch on.
var (
	// ErrNoSession means there is no authenticated platform session. Directory
	// fetches treat this as an empty state, not a failure.
	ErrNoSession = errors.New("chat: no authenticated session")

	// ErrThreadNotFound means a thread could not be resolved from the
	// directory, a discovery fetch, or the current session token.
	ErrThreadNotFound = errors.New("chat: thread not found")
)

// APIError is a non-2xx response from the token-mint or provisioning
// endpoints, or a conflict-shaped failure from the messaging backend.
type APIError struct {
	Status  int    `json:"status"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("chat api: status %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("chat api: status %d: %s", e.Status, e.Message)
}

// IsPermissionDenied reports whether err is the "not a member" shape that
// triggers the one-shot provision-and-retry cycle.
func IsPermissionDenied(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.Status == 403 {
			return true
		}
		return containsFold(apiErr.Message, "not a member")
	}
	return err != nil && containsFold(err.Error(), "not a member")
}

// IsConflict reports whether err is an "already joined / already exists"
// response. Join treats these as success.
func IsConflict(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.Status == 409 {
			return true
		}
		return containsFold(apiErr.Message, "already exists") ||
			containsFold(apiErr.Message, "already a member")
	}
	if err == nil {
		return false
	}
	return containsFold(err.Error(), "already exists") ||
		containsFold(err.Error(), "already a member")
}

// IsFatalConfiguration reports whether a provisioning failure is a
// configuration-class error that no user action can retry past.
func IsFatalConfiguration(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == "server_misconfigured" {
			return true
		}
		return containsFold(apiErr.Message, "not configured") ||
			containsFold(apiErr.Message, "missing credentials")
	}
	return false
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
