package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"sba-cms/pkg/models"
)

func (s *Server) UploadMedia(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.MaxUploadBytes)

	file, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "File too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file uploaded"})
		return
	}

	src, err := file.Open()
	if err != nil {
		respondError(c, err)
		return
	}
	defer src.Close()

	asset, err := s.Media.Upload(c.Request.Context(), src, file.Filename)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": asset.URL, "path": asset.Path})
}

func (s *Server) GetMedia(c *gin.Context) {
	assets, err := s.Media.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	if assets == nil {
		assets = []models.MediaAsset{}
	}
	c.JSON(http.StatusOK, assets)
}

func (s *Server) DeleteFile(c *gin.Context) {
	var req models.DeleteFileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
		return
	}

	if err := s.Media.Delete(c.Request.Context(), req.Path); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
