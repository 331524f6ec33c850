package models

import (
	"encoding/json"
	"time"
)

// Contact form types as addressed by the ?type= query parameter.
const (
	FormQuickContact = "quickcontact"
	FormProjectBrief = "longassbrief"
)

// Request log type values.
const (
	RequestTypeQuick = "quick"
	RequestTypeBrief = "brief"
)

type QuickContact struct {
	Name    string `json:"name" validate:"required"`
	Email   string `json:"email" validate:"required,email"`
	Message string `json:"message" validate:"required"`
}

// ProjectBrief holds the two required brief fields; the full submission is
// kept as raw JSON alongside.
type ProjectBrief struct {
	StartupName string `json:"startupName" validate:"required"`
	ContactInfo string `json:"contactInfo" validate:"required"`
}

// ContactRequest is one persisted row of the request log.
type ContactRequest struct {
	Type      string          `json:"type"`
	Name      string          `json:"name"`
	Email     string          `json:"email"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"created_at"`
}
