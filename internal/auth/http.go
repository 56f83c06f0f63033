// ABOUTME: Gin middleware for JWT authentication on API endpoints
// ABOUTME: Extracts the bearer token from the Authorization header and stores the subject

package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// SubjectKey is the gin context key holding the authenticated subject.
const SubjectKey = "auth.subject"

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// Middleware rejects requests without a valid bearer token with 401.
// The subject is stored on the gin context and the request context.
func Middleware(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, errMsg := extractBearerToken(c.GetHeader("Authorization"))
		if errMsg != "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errMsg})
			return
		}

		subject, err := verifier.Verify(token)
		if err != nil {
			msg := "invalid token"
			if errors.Is(err, ErrExpiredToken) {
				msg = "token expired"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
			return
		}

		c.Set(SubjectKey, subject)
		c.Request = c.Request.WithContext(WithSubject(c.Request.Context(), subject))
		c.Next()
	}
}
