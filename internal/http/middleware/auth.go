package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"storefront-payments/internal/apperr"
)

// HeaderAuthenticatedUser is set by the auth proxy in front of this service
// after it has verified the caller with the identity provider.
const HeaderAuthenticatedUser = "X-Authenticated-User"

const ctxKeyUser = "authenticated_user"

func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := strings.TrimSpace(c.GetHeader(HeaderAuthenticatedUser))
		if user == "" {
			Fail(c, apperr.UnauthorizedErr("Authentication required."))
			return
		}
		c.Set(ctxKeyUser, user)
		c.Next()
	}
}

func AuthenticatedUser(c *gin.Context) string {
	return c.GetString(ctxKeyUser)
}
