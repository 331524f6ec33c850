package models

import "encoding/json"

// ContentEntry is one stored document, unique by (Collection, Slug).
type ContentEntry struct {
	Collection string          `json:"-"`
	Slug       string          `json:"slug"`
	Data       json.RawMessage `json:"data"`
}

// SaveEntryRequest is the body of a save_entry call.
type SaveEntryRequest struct {
	Collection string          `json:"collection" binding:"required"`
	Slug       string          `json:"slug" binding:"required"`
	Data       json.RawMessage `json:"data" binding:"required"`
}
