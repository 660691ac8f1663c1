// Package auth verifies client tokens and resolves them to identities.
package auth

import (
	"context"
	"strings"
)

// Identity is the verified user behind a token.
type Identity struct {
	UserID      string
	Username    string
	DisplayName string
	Email       string
	AvatarURL   string
}

// Name returns the display name, falling back to the username.
func (i Identity) Name() string {
	if strings.TrimSpace(i.DisplayName) != "" {
		return i.DisplayName
	}
	return i.Username
}

// Authenticator verifies an opaque token. Any failure is reported as an
// error matching merr.ErrAuthentication.
type Authenticator interface {
	Verify(ctx context.Context, token string) (Identity, error)
}
