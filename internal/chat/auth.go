package chat

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// BearerSession is an AuthSession backed by a fixed platform credential, used
// when the service runs on behalf of a single signed-in user. The user id is
// read from the credential's subject claim.
type BearerSession struct {
	token  string
	userID string
}

// NewBearerSession builds a session from a JWT-shaped platform credential. An
// empty token yields a signed-out session (ErrNoSession on use).
func NewBearerSession(token string) (*BearerSession, error) {
	s := &BearerSession{token: token}
	if token == "" {
		return s, nil
	}

	claims := jwt.MapClaims{}
	// The credential is verified by the platform's endpoints, not here; only
	// the subject claim is needed locally.
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("failed to parse session credential: %w", err)
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, fmt.Errorf("session credential has no subject claim")
	}
	s.userID = sub
	return s, nil
}

func (s *BearerSession) UserID(ctx context.Context) (string, error) {
	if s.token == "" {
		return "", ErrNoSession
	}
	return s.userID, nil
}

func (s *BearerSession) BearerToken(ctx context.Context) (string, error) {
	if s.token == "" {
		return "", ErrNoSession
	}
	return s.token, nil
}
