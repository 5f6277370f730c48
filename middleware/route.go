package middleware

import (
	"github.com/gin-gonic/gin"
)

// RouteOpt: Auth runs before the handler when set.
type RouteOpt struct {
	Auth gin.HandlerFunc
}

func (o RouteOpt) chain(handler gin.HandlerFunc) []gin.HandlerFunc {
	if o.Auth == nil {
		return []gin.HandlerFunc{handler}
	}
	return []gin.HandlerFunc{o.Auth, handler}
}

func POST(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	r.POST(path, opt.chain(handler)...)
}

func GET(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	r.GET(path, opt.chain(handler)...)
}

func DELETE(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	r.DELETE(path, opt.chain(handler)...)
}
