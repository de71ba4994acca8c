package middlewares

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/stock_backend/utils"
)

// AuthMiddleware resolves the JWT from "Authorization: Bearer" (or the legacy
// "token" header) and puts the tenant and actor into the request context.
// Requests without a token pass through unauthenticated.
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimSpace(strings.TrimPrefix(c.Request.Header.Get("Authorization"), "Bearer "))
		if token == "" {
			token = strings.TrimSpace(c.Request.Header.Get("token"))
		}
		if token == "" {
			c.Next()
			return
		}

		claims, err := utils.JwtValidate(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		ctx := utils.SetTokenInContext(c.Request.Context(), token)
		if claims.BusinessId != "" {
			ctx = utils.SetBusinessIdInContext(ctx, claims.BusinessId)
		}
		ctx = utils.SetUserIdInContext(ctx, claims.UserId)
		ctx = utils.SetUserNameInContext(ctx, claims.UserName)
		if claims.IsAdmin {
			ctx = utils.SetIsAdminInContext(ctx, true)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
