package auth

import (
	"net/http"

	"ms-storefront/internal/models"
	"ms-storefront/internal/utils"

	"github.com/gin-gonic/gin"
)

const ginIdentityKey = "identity"

// GinMiddleware is the gin flavor of Middleware, for the checkout service.
func GinMiddleware(v *Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		rawToken, err := ExtractBearer(c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, utils.ErrorResponse("Authentication required", err.Error()))
			return
		}

		identity, err := v.VerifyToken(c.Request.Context(), rawToken)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, utils.ErrorResponse("Authentication required", "invalid token"))
			return
		}

		c.Set(ginIdentityKey, identity)
		c.Next()
	}
}

// WithGinIdentity injects an identity, used by handler tests.
func WithGinIdentity(c *gin.Context, identity models.Identity) {
	c.Set(ginIdentityKey, identity)
}

// IdentityFromGin returns the authenticated caller on a gin request.
func IdentityFromGin(c *gin.Context) (models.Identity, bool) {
	value, exists := c.Get(ginIdentityKey)
	if !exists {
		return models.Identity{}, false
	}
	identity, ok := value.(models.Identity)
	return identity, ok
}
