package server

import (
	"context"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/alis2001/chat-service/internal/auth"
	"github.com/alis2001/chat-service/internal/log"
	"github.com/alis2001/chat-service/internal/store"
)

// OpenStore connects the store selected by cfg: Postgres when a database URL
// is set, memory otherwise, decorated with Redis typing indicators when a
// Redis address is set.
func OpenStore(ctx context.Context, cfg Config) (store.Store, error) {
	var st store.Store
	if cfg.Database.URL != "" {
		pg, err := store.OpenPostgres(ctx, cfg.Database.URL, cfg.Database.ConnectTimeout)
		if err != nil {
			return nil, err
		}
		log.Info("database ready")
		st = pg
	} else {
		log.Warn("no database configured, state is kept in memory")
		st = store.NewMemory()
	}

	if cfg.Redis.Addr == "" {
		return st, nil
	}
	rdb, err := store.DialRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password)
	if err != nil {
		return nil, errors.CombineErrors(err, st.Close())
	}
	log.Info("redis ready", zap.String("addr", cfg.Redis.Addr))
	return store.NewRedisTyping(st, rdb), nil
}

// NewAuthenticator builds the token verifier selected by cfg.
func NewAuthenticator(ctx context.Context, cfg AuthConfig) (auth.Authenticator, error) {
	switch {
	case cfg.OIDCIssuer != "":
		a, err := auth.NewOIDCAuthenticator(ctx, cfg.OIDCIssuer, cfg.OIDCClientID)
		if err != nil {
			return nil, err
		}
		log.Info("verifying OIDC ID tokens", zap.String("issuer", cfg.OIDCIssuer))
		return a, nil
	case cfg.JWTSecret != "":
		var opts []auth.JWTOption
		if cfg.JWTIssuer != "" {
			opts = append(opts, auth.WithIssuer(cfg.JWTIssuer))
		}
		if cfg.JWTLeeway > 0 {
			opts = append(opts, auth.WithLeeway(cfg.JWTLeeway))
		}
		return auth.NewJWTAuthenticator(cfg.JWTSecret, opts...)
	default:
		return nil, errors.New("no authenticator configured: set JWT_SECRET or OIDC_ISSUER")
	}
}
