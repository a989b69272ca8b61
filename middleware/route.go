package middleware

import (
	"github.com/gin-gonic/gin"

	midsec "PRelay/middleware/security"
)

type RouteOpt struct {
	IsAuth bool
	// Auth overrides the token options; nil means midsec.DefaultOptions with Required set.
	Auth *midsec.Options
}

func (o RouteOpt) handlers(handler gin.HandlerFunc) []gin.HandlerFunc {
	if !o.IsAuth {
		return []gin.HandlerFunc{handler}
	}
	opts := o.Auth
	if opts == nil {
		opts = midsec.DefaultOptions()
		opts.Required = true
	}
	return []gin.HandlerFunc{midsec.Middleware(opts), handler}
}

func GET(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	r.GET(path, opt.handlers(handler)...)
}
