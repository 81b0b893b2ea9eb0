package chat

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorClassification(t *testing.T) {
	t.Run("PermissionDenied", func(t *testing.T) {
		assert.True(t, IsPermissionDenied(&APIError{Status: 403}))
		assert.True(t, IsPermissionDenied(&APIError{Status: 400, Message: "User is NOT A MEMBER of channel"}))
		assert.True(t, IsPermissionDenied(fmt.Errorf("mint: %w", &APIError{Status: 403})))
		assert.True(t, IsPermissionDenied(errors.New("identity not a member")))
		assert.False(t, IsPermissionDenied(&APIError{Status: 500, Message: "boom"}))
		assert.False(t, IsPermissionDenied(nil))
	})

	t.Run("Conflict", func(t *testing.T) {
		assert.True(t, IsConflict(&APIError{Status: 409}))
		assert.True(t, IsConflict(&APIError{Status: 400, Message: "participant already exists"}))
		assert.True(t, IsConflict(errors.New("already a member")))
		assert.False(t, IsConflict(&APIError{Status: 403}))
		assert.False(t, IsConflict(nil))
	})

	t.Run("FatalConfiguration", func(t *testing.T) {
		assert.True(t, IsFatalConfiguration(&APIError{Status: 500, Code: "server_misconfigured"}))
		assert.True(t, IsFatalConfiguration(&APIError{Status: 500, Message: "messaging service not configured"}))
		assert.False(t, IsFatalConfiguration(&APIError{Status: 500, Message: "timeout"}))
		assert.False(t, IsFatalConfiguration(errors.New("not configured")), "bare errors are not configuration-class")
	})
}
