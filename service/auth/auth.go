package auth

import (
	"context"
	"strings"
	"sync"
	"time"

	"CharChat/global/config"
	"CharChat/logger"
	"CharChat/service/chatclient"
	"CharChat/tools/errs"
	"CharChat/tools/security"

	"go.uber.org/zap"
)

// Static hands out fixed credentials.
type Static struct {
	UserID string
	Token  string
}

func (s Static) Credentials(context.Context) (chatclient.Credentials, error) {
	return chatclient.Credentials{UserID: s.UserID, Token: s.Token}, nil
}

// JWT mints HS* access tokens for one user and reuses them until they are
// within RefreshBefore of expiring.
type JWT struct {
	UserID        string
	Scopes        []string
	RefreshBefore time.Duration

	opts security.Options
	now  func() time.Time

	mu  sync.Mutex
	cur security.Token
}

func NewJWT(userID string, opts security.Options, scopes ...string) (*JWT, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errs.ErrInvalidConfig.WrapMsg("jwt auth needs a user id")
	}
	if len(opts.Secret) == 0 {
		return nil, errs.ErrInvalidConfig.WrapMsg("jwt auth needs a secret")
	}
	if opts.TTL <= 0 {
		opts.TTL = security.DefaultOptions(nil).TTL
	}
	return &JWT{
		UserID:        userID,
		Scopes:        scopes,
		RefreshBefore: opts.TTL / 5,
		opts:          opts,
		now:           time.Now,
	}, nil
}

func (j *JWT) Credentials(ctx context.Context) (chatclient.Credentials, error) {
	if err := ctx.Err(); err != nil {
		return chatclient.Credentials{}, err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cur.Value == "" || !j.now().Add(j.RefreshBefore).Before(j.cur.ExpireAt) {
		tok, err := security.Generate(j.opts, j.UserID, j.Scopes)
		if err != nil {
			return chatclient.Credentials{}, errs.WrapMsg(err, "mint chat token", "user", j.UserID)
		}
		j.cur = tok
		logger.Debug("minted chat token", zap.String("user", j.UserID), zap.Time("expireAt", tok.ExpireAt))
	}
	return chatclient.Credentials{UserID: j.UserID, Token: j.cur.Value}, nil
}

// Verify checks a token issued with the same secret and issuer.
func (j *JWT) Verify(token string) (*security.Claims, error) {
	return security.Verify(j.opts, token, "")
}

// FromConfig picks the provider: a static token wins, then local JWT minting.
// With neither, credentials come back empty and Connect reports it.
func FromConfig(cfg config.AuthConfig) (chatclient.AuthStore, error) {
	if cfg.Token != "" || cfg.JWTSecret == "" {
		return Static{UserID: cfg.UserID, Token: cfg.Token}, nil
	}
	opts := security.DefaultOptions([]byte(cfg.JWTSecret))
	opts.Issuer = cfg.JWTIssuer
	if cfg.JWTTTL > 0 {
		opts.TTL = cfg.JWTTTL
	}
	return NewJWT(cfg.UserID, opts, "chat")
}
