package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"sba-cms/pkg/logging"
	"sba-cms/pkg/models"
	"sba-cms/pkg/services"
)

// Action is the value of the ?action= query parameter on the action API.
type Action string

const (
	ActionLogin       Action = "login"
	ActionUser        Action = "user"
	ActionGetEntry    Action = "get_entry"
	ActionSaveEntry   Action = "save_entry"
	ActionListEntries Action = "list_entries"
	ActionUploadMedia Action = "upload_media"
	ActionGetMedia    Action = "get_media"
	ActionDeleteFile  Action = "delete_file"
)

type route struct {
	method    string
	protected bool
	limit     gin.HandlerFunc
	handler   gin.HandlerFunc
}

// Server holds the services behind the HTTP surface.
type Server struct {
	Content *services.ContentRepository
	Media   *services.MediaStore
	Auth    *services.Authenticator
	Tokens  *services.TokenIssuer
	Contact *services.ContactService
	DB      *services.Database

	MaxUploadBytes int64
	LoginLimit     gin.HandlerFunc
	ContactLimit   gin.HandlerFunc

	routes map[Action]route
}

func (s *Server) table() map[Action]route {
	if s.routes == nil {
		s.routes = map[Action]route{
			ActionLogin:       {method: http.MethodPost, limit: s.LoginLimit, handler: s.Login},
			ActionUser:        {method: http.MethodGet, protected: true, handler: s.User},
			ActionGetEntry:    {method: http.MethodGet, handler: s.GetEntry},
			ActionSaveEntry:   {method: http.MethodPost, protected: true, handler: s.SaveEntry},
			ActionListEntries: {method: http.MethodGet, handler: s.ListEntries},
			ActionUploadMedia: {method: http.MethodPost, protected: true, handler: s.UploadMedia},
			ActionGetMedia:    {method: http.MethodGet, handler: s.GetMedia},
			ActionDeleteFile:  {method: http.MethodPost, protected: true, handler: s.DeleteFile},
		}
	}
	return s.routes
}

// Dispatch resolves ?action= against the routing table. Authentication runs
// before the handler reads the body.
func (s *Server) Dispatch(c *gin.Context) {
	action := c.Query("action")
	rt, ok := s.table()[Action(action)]
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid action: " + action})
		return
	}
	if c.Request.Method != rt.method {
		c.Header("Allow", rt.method)
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "Method Not Allowed"})
		return
	}

	if rt.limit != nil {
		if rt.limit(c); c.IsAborted() {
			return
		}
	}
	if rt.protected {
		if s.AuthRequired(c); c.IsAborted() {
			return
		}
	}
	rt.handler(c)
}

func (s *Server) GetEntry(c *gin.Context) {
	data, err := s.Content.Get(c.Request.Context(), c.Query("collection"), c.Query("slug"))
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Entry not found"})
			return
		}
		respondError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", data)
}

func (s *Server) ListEntries(c *gin.Context) {
	entries, err := s.Content.List(c.Request.Context(), c.Query("collection"))
	if err != nil {
		respondError(c, err)
		return
	}
	if entries == nil {
		entries = []models.ContentEntry{}
	}
	c.JSON(http.StatusOK, entries)
}

func (s *Server) SaveEntry(c *gin.Context) {
	var req models.SaveEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
		return
	}

	if err := s.Content.Save(c.Request.Context(), req.Collection, req.Slug, req.Data); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// respondError maps service errors to a status and a message safe to show.
func respondError(c *gin.Context, err error) {
	var input *services.InputError
	switch {
	case errors.As(err, &input):
		c.JSON(http.StatusBadRequest, gin.H{"error": input.Msg})
	case errors.Is(err, services.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input"})
	case errors.Is(err, services.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
	case errors.Is(err, services.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
	case errors.Is(err, services.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	default:
		_ = c.Error(err)
		logging.Error().Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Server error"})
	}
}

// readBody reads at most limit bytes of the request body.
func readBody(c *gin.Context, limit int64) ([]byte, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
	return io.ReadAll(c.Request.Body)
}
