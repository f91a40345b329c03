package httpapi

import (
	"github.com/gin-gonic/gin"

	"github.com/router-for-me/llmgateway/internal/authn"
	"github.com/router-for-me/llmgateway/internal/route"
)

// ctxKeySource and ctxIdentity are the gin context keys the downstream
// auth middleware populates for handleProxy to read back.
const (
	ctxKeySource = "httpapi.keySource"
	ctxIdentity  = "httpapi.identity"
)

// authMiddleware implements the Downstream Authenticator (spec §4.1): it
// peeks the key source (needed, unconsumed, by the route classifier),
// then extracts and authenticates the key, stripping it from the request
// before any downstream handler -- in particular before dispatch -- ever
// sees it.
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ks := authn.PeekKeySource(c.Request)
		c.Set(ctxKeySource, ks)

		snap := s.deps.Snapshots.Current()
		key := authn.ExtractKey(c.Request)
		identity, err := authn.Authenticate(snap, key)
		if err != nil {
			writeError(c, err)
			c.Abort()
			return
		}
		c.Set(ctxIdentity, identity)
		c.Next()
	}
}

func (s *Server) adminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		snap := s.deps.Snapshots.Current()
		key := authn.ExtractAdminKey(c.Request)
		if err := authn.AuthenticateAdmin(snap, key); err != nil {
			writeError(c, err)
			c.Abort()
			return
		}
		c.Next()
	}
}

func keySourceFromContext(c *gin.Context) route.KeySource {
	v, ok := c.Get(ctxKeySource)
	if !ok {
		return route.KeySourceNone
	}
	ks, _ := v.(route.KeySource)
	return ks
}

func identityFromContext(c *gin.Context) authn.Identity {
	v, _ := c.Get(ctxIdentity)
	id, _ := v.(authn.Identity)
	return id
}
