package middleware

import "github.com/gin-gonic/gin"

// Guards bundles the per-route middleware feature handlers attach.
// Cache may be nil, in which case routes are served uncached.
type Guards struct {
	Auth  gin.HandlerFunc
	Admin gin.HandlerFunc
	Cache gin.HandlerFunc
}

// Cached returns the cache middleware or a pass-through.
func (g Guards) Cached() gin.HandlerFunc {
	if g.Cache == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return g.Cache
}
