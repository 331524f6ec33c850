package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"sba-cms/pkg/models"
)

// userKey is the gin context key holding the authenticated *models.User.
const userKey = "user"

// AuthRequired verifies the bearer token and stores its user in the context.
// It aborts with 401 and never calls the next handler itself, so it works
// both as route middleware and from Dispatch.
func (s *Server) AuthRequired(c *gin.Context) {
	token := bearerToken(c.GetHeader("Authorization"))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	user, err := s.Tokens.Verify(token)
	if err != nil {
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	c.Set(userKey, user)
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// CurrentUser returns the user stored by AuthRequired, if any.
func CurrentUser(c *gin.Context) (*models.User, bool) {
	v, ok := c.Get(userKey)
	if !ok {
		return nil, false
	}
	user, ok := v.(*models.User)
	return user, ok
}

func (s *Server) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
		return
	}

	user, err := s.Auth.Authenticate(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}

	token, err := s.Tokens.Issue(user)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.LoginResponse{Token: token, User: *user})
}

func (s *Server) User(c *gin.Context) {
	user, ok := CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	c.JSON(http.StatusOK, user)
}
