package security

import (
	"net/http"
	"strings"

	"CharChat/tools/errs"
	"CharChat/tools/security"

	"github.com/gin-gonic/gin"
)

// context keys set by Middleware
const (
	CtxTokenKey  = "authorization"
	CtxClaimsKey = "claims"
)

type Options struct {
	HeaderToken               string // default "authorization"
	EnableAuthorizationBearer bool   // default true
	// Verify validates the token; nil accepts any non-empty token.
	Verify func(token string) (*security.Claims, error)
}

func DefaultOptions() *Options {
	return &Options{
		HeaderToken:               CtxTokenKey,
		EnableAuthorizationBearer: true,
	}
}

// JWTOptions verifies HS* tokens signed with secret.
func JWTOptions(secret []byte, issuer string) *Options {
	opts := DefaultOptions()
	jwtOpts := security.DefaultOptions(secret)
	jwtOpts.Issuer = issuer
	opts.Verify = func(token string) (*security.Claims, error) {
		return security.Verify(jwtOpts, token, "")
	}
	return opts
}

func tokenFrom(c *gin.Context, opts *Options) string {
	token := strings.TrimSpace(c.GetHeader(opts.HeaderToken))
	if token != "" && !strings.HasPrefix(strings.ToLower(token), "bearer ") {
		return token
	}
	if !opts.EnableAuthorizationBearer {
		return ""
	}
	authz := strings.TrimSpace(c.GetHeader("Authorization"))
	if len(authz) > len("bearer ") && strings.EqualFold(authz[:len("bearer ")], "bearer ") {
		return strings.TrimSpace(authz[len("bearer "):])
	}
	return ""
}

func Middleware(opts *Options) gin.HandlerFunc {
	if opts == nil {
		opts = DefaultOptions()
	}
	return func(c *gin.Context) {
		token := tokenFrom(c, opts)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errs.ErrMissingCredentials.WithDetail("bearer token required"))
			return
		}
		c.Set(CtxTokenKey, token)
		if opts.Verify != nil {
			claims, err := opts.Verify(token)
			if err != nil {
				c.AbortWithStatusJSON(http.StatusUnauthorized, errs.ErrMissingCredentials.WithDetail(err.Error()))
				return
			}
			c.Set(CtxClaimsKey, claims)
		}
		c.Next()
	}
}

// ClaimsFrom returns the claims Middleware stored, if any.
func ClaimsFrom(c *gin.Context) (*security.Claims, bool) {
	v, ok := c.Get(CtxClaimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*security.Claims)
	return claims, ok
}
