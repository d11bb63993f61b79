package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/student-results-api/internal/middleware"
	"github.com/noah-isme/student-results-api/internal/models"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	claims, ok := middleware.Claims(c)
	if !ok {
		return nil
	}
	return claims
}

// actorID is the user recorded as the author of a write, empty for anonymous callers.
func actorID(c *gin.Context) string {
	if claims := claimsFromContext(c); claims != nil {
		return claims.UserID
	}
	return ""
}
