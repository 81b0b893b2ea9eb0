package chat

import (
	"context"
	"errors"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedTestToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-key"))
	require.NoError(t, err)
	return token
}

func TestBearerSession(t *testing.T) {
	ctx := context.Background()

	t.Run("SubjectBecomesUserID", func(t *testing.T) {
		s, err := NewBearerSession(signedTestToken(t, jwt.MapClaims{"sub": "42"}))
		require.NoError(t, err)

		id, err := s.UserID(ctx)
		require.NoError(t, err)
		assert.Equal(t, "42", id)
	})

	t.Run("EmptyTokenIsSignedOut", func(t *testing.T) {
		s, err := NewBearerSession("")
		require.NoError(t, err)

		_, err = s.UserID(ctx)
		assert.True(t, errors.Is(err, ErrNoSession))
		_, err = s.BearerToken(ctx)
		assert.True(t, errors.Is(err, ErrNoSession))
	})

	t.Run("MissingSubjectRejected", func(t *testing.T) {
		_, err := NewBearerSession(signedTestToken(t, jwt.MapClaims{"aud": "crateline"}))
		require.Error(t, err)
	})

	t.Run("MalformedTokenRejected", func(t *testing.T) {
		_, err := NewBearerSession("not.a.jwt")
		require.Error(t, err)
	})
}
