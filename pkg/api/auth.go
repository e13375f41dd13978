package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/loopsymphony/symphony/pkg/models"
	"github.com/loopsymphony/symphony/pkg/store"
)

const authContextKey = "symphony_auth"

// authenticate resolves X-Api-Key to an app and, when X-User-Id is present,
// to a per-app user profile created on first sight.
func (s *Server) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := c.GetHeader("X-Api-Key")
		if apiKey == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing X-Api-Key header"})
			return
		}

		app, err := s.deps.Store.AppByAPIKey(c.Request.Context(), apiKey)
		if errors.Is(err, store.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid API key"})
			return
		}
		if err != nil {
			s.log.Error("api key lookup failed", "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			return
		}
		if !app.IsActive {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "app is deactivated"})
			return
		}

		auth := &models.AuthContext{App: &app}
		if externalID := c.GetHeader("X-User-Id"); externalID != "" {
			user, err := s.deps.Store.GetOrCreateUser(c.Request.Context(), app.ID, externalID)
			if err != nil {
				s.log.Error("user resolution failed", "app_id", app.ID, "error", err)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
				return
			}
			auth.User = &user
		}

		c.Set(authContextKey, auth)
		c.Next()
	}
}

// authFrom returns the resolved identity for the request.
func authFrom(c *gin.Context) *models.AuthContext {
	if v, ok := c.Get(authContextKey); ok {
		if auth, ok := v.(*models.AuthContext); ok {
			return auth
		}
	}
	return &models.AuthContext{}
}
