package auth

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/alis2001/chat-service/internal/merr"
)

// IDTokenVerifier is satisfied by *oidc.IDTokenVerifier.
type IDTokenVerifier interface {
	Verify(ctx context.Context, rawIDToken string) (*oidc.IDToken, error)
}

// OIDCAuthenticator verifies ID tokens issued by an OpenID Connect provider.
type OIDCAuthenticator struct {
	verifier IDTokenVerifier
}

// NewOIDCAuthenticator discovers issuerURL and verifies tokens whose audience
// is clientID.
func NewOIDCAuthenticator(ctx context.Context, issuerURL, clientID string) (*OIDCAuthenticator, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, errors.Wrapf(err, "discover oidc provider %s", issuerURL)
	}
	return NewOIDCAuthenticatorWithVerifier(provider.Verifier(&oidc.Config{ClientID: clientID})), nil
}

func NewOIDCAuthenticatorWithVerifier(v IDTokenVerifier) *OIDCAuthenticator {
	return &OIDCAuthenticator{verifier: v}
}

type oidcClaims struct {
	Subject           string `json:"sub"`
	Email             string `json:"email"`
	PreferredUsername string `json:"preferred_username"`
	Name              string `json:"name"`
	Picture           string `json:"picture"`
}

func (a *OIDCAuthenticator) Verify(ctx context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, merr.ErrTokenRequired
	}
	idToken, err := a.verifier.Verify(ctx, token)
	if err != nil {
		return Identity{}, merr.WrapErrAuthentication(err, "verify id token")
	}
	var c oidcClaims
	if err := idToken.Claims(&c); err != nil {
		return Identity{}, merr.WrapErrAuthentication(err, "decode id token claims")
	}
	if c.Subject == "" {
		c.Subject = idToken.Subject
	}
	id := Identity{
		UserID:      c.Subject,
		Username:    c.PreferredUsername,
		DisplayName: c.Name,
		Email:       c.Email,
		AvatarURL:   c.Picture,
	}
	if id.Username == "" {
		id.Username = id.Email
	}
	if id.UserID == "" {
		return Identity{}, merr.WrapErrAuthentication(errors.New("empty subject"), "id token claims")
	}
	return id, nil
}
