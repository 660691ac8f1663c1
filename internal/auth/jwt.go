package auth

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/golang-jwt/jwt/v5"

	"github.com/alis2001/chat-service/internal/merr"
)

// Claims is the token payload issued by the account service. The user id
// travels in "id"; "sub" is accepted when "id" is absent.
type Claims struct {
	jwt.RegisteredClaims
	UserID            string `json:"id,omitempty"`
	Username          string `json:"username,omitempty"`
	PreferredUsername string `json:"preferred_username,omitempty"`
	Name              string `json:"name,omitempty"`
	Email             string `json:"email,omitempty"`
	Picture           string `json:"picture,omitempty"`
}

func (c *Claims) identity() (Identity, error) {
	id := Identity{
		UserID:      c.UserID,
		Username:    c.Username,
		DisplayName: c.Name,
		Email:       c.Email,
		AvatarURL:   c.Picture,
	}
	if id.UserID == "" {
		id.UserID = c.Subject
	}
	if id.Username == "" {
		id.Username = c.PreferredUsername
	}
	if id.UserID == "" {
		return Identity{}, errors.New("token carries no user id")
	}
	if id.Username == "" {
		id.Username = id.UserID
	}
	return id, nil
}

// JWTAuthenticator verifies HMAC-SHA256 signed tokens.
type JWTAuthenticator struct {
	secret []byte
	parser *jwt.Parser
}

// JWTOption configures a JWTAuthenticator.
type JWTOption func(*jwtOptions)

type jwtOptions struct {
	issuer string
	leeway time.Duration
	now    func() time.Time
}

// WithIssuer requires the "iss" claim to equal issuer.
func WithIssuer(issuer string) JWTOption {
	return func(o *jwtOptions) { o.issuer = issuer }
}

// WithLeeway sets the clock skew tolerated on exp, nbf and iat. Default 30s.
func WithLeeway(d time.Duration) JWTOption {
	return func(o *jwtOptions) { o.leeway = d }
}

// WithClock overrides the time source used for exp/nbf validation.
func WithClock(now func() time.Time) JWTOption {
	return func(o *jwtOptions) { o.now = now }
}

// NewJWTAuthenticator returns an authenticator for tokens signed with secret.
func NewJWTAuthenticator(secret string, opts ...JWTOption) (*JWTAuthenticator, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is empty")
	}
	o := jwtOptions{leeway: 30 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(o.leeway),
	}
	if o.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(o.issuer))
	}
	if o.now != nil {
		parserOpts = append(parserOpts, jwt.WithTimeFunc(o.now))
	}
	return &JWTAuthenticator{
		secret: []byte(secret),
		parser: jwt.NewParser(parserOpts...),
	}, nil
}

func (a *JWTAuthenticator) keyFunc(*jwt.Token) (any, error) {
	return a.secret, nil
}

// Verify checks signature, algorithm and time claims of token.
func (a *JWTAuthenticator) Verify(_ context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, merr.ErrTokenRequired
	}
	claims := &Claims{}
	if _, err := a.parser.ParseWithClaims(token, claims, a.keyFunc); err != nil {
		return Identity{}, merr.WrapErrAuthentication(err, "parse token")
	}
	id, err := claims.identity()
	if err != nil {
		return Identity{}, merr.WrapErrAuthentication(err, "token claims")
	}
	return id, nil
}

// Sign issues a token for id that expires after ttl. It is used by tools and
// tests that need a valid token for this authenticator.
func (a *JWTAuthenticator) Sign(id Identity, issuer string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UserID:   id.UserID,
		Username: id.Username,
		Name:     id.DisplayName,
		Email:    id.Email,
		Picture:  id.AvatarURL,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", errors.Wrap(err, "sign token")
	}
	return signed, nil
}
