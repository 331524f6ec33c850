package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// maxContactBytes caps a contact form body.
const maxContactBytes = 1 << 20

// SubmitContact handles POST /forms/contact?type=quickcontact|longassbrief.
func (s *Server) SubmitContact(c *gin.Context) {
	raw, err := readBody(c, maxContactBytes)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Request too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON input"})
		return
	}

	if err := s.Contact.Submit(c.Request.Context(), c.Query("type"), raw); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
