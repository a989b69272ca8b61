package security

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// CtxTokenKey holds the bearer token found on the request, if any.
const CtxTokenKey = "authorization"

type Options struct {
	HeaderToken               string // checked first, default "Authorization"
	QueryToken                string // default "token"
	EnableAuthorizationBearer bool   // strip a "Bearer " prefix, default true

	// Required aborts with 401 when no token is present. The websocket route
	// leaves it off because the token may arrive in the first frame.
	Required bool
}

func DefaultOptions() *Options {
	return &Options{
		HeaderToken:               "Authorization",
		QueryToken:                "token",
		EnableAuthorizationBearer: true,
	}
}

func Middleware(opts *Options) gin.HandlerFunc {
	if opts == nil {
		opts = DefaultOptions()
	}
	return func(c *gin.Context) {
		token := extract(c, opts)
		if token != "" {
			c.Set(CtxTokenKey, token)
		}
		if token == "" && opts.Required {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing token"})
			return
		}
		c.Next()
	}
}

// Token returns the token stored by Middleware, or extracts it with the
// default options when the middleware did not run.
func Token(c *gin.Context) string {
	if v := c.GetString(CtxTokenKey); v != "" {
		return v
	}
	return extract(c, DefaultOptions())
}

func extract(c *gin.Context, opts *Options) string {
	token := strings.TrimSpace(c.GetHeader(opts.HeaderToken))
	if token != "" && opts.EnableAuthorizationBearer {
		if len(token) > len("bearer ") && strings.EqualFold(token[:len("bearer ")], "bearer ") {
			token = strings.TrimSpace(token[len("bearer "):])
		}
	}
	if token == "" && opts.QueryToken != "" {
		token = strings.TrimSpace(c.Query(opts.QueryToken))
	}
	return token
}
