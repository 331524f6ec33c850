package models

// MediaAsset describes one stored upload. Name embeds a _<unix> suffix.
type MediaAsset struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	URL      string `json:"url"`
	Path     string `json:"path"` // relative, web-servable
	Size     int64  `json:"size"`
	MimeType string `json:"mimeType,omitempty"`
}

type DeleteFileRequest struct {
	Path string `json:"path" binding:"required"`
}
