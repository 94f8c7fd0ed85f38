package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"sidescreen/internal/core/services"
	apperrors "sidescreen/pkg/errors"
)

const (
	OperatorKey = "operator"
	ScopeKey    = "scope"
)

// AuthMiddleware requires a valid bearer token and stores the operator name
// under OperatorKey. Observe-scoped tokens are limited to GET and HEAD.
func AuthMiddleware(authService services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortWith(c, apperrors.NewUnauthorizedError("authorization header required"))
			return
		}

		scheme, token, ok := strings.Cut(authHeader, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			abortWith(c, apperrors.NewUnauthorizedError("invalid authorization header format"))
			return
		}

		claims, err := authService.ValidateToken(token)
		if err != nil {
			abortWith(c, apperrors.NewUnauthorizedError(err.Error()))
			return
		}

		if !claims.CanControl() && c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
			abortWith(c, apperrors.NewForbiddenError("token scope "+string(claims.Scope)+" is read-only"))
			return
		}

		c.Set(OperatorKey, claims.Operator)
		c.Set(ScopeKey, string(claims.Scope))
		c.Next()
	}
}

func abortWith(c *gin.Context, appErr *apperrors.AppError) {
	c.AbortWithStatusJSON(appErr.HTTPStatus, gin.H{
		"error":   string(appErr.Code),
		"message": appErr.Message,
	})
}
