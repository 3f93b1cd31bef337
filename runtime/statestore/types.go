package statestore

import (
	"encoding/json"
	"time"
)

// defaultTTLHours is the default TTL for documents in expiring stores.
const defaultTTLHours = 24

// defaultListLimit applies when ListOptions.Limit is 0.
const defaultListLimit = 100

// Document is a stored MAT-JSON document with the task context it was saved under.
type Document struct {
	ID        string          `json:"id"`
	Task      string          `json:"task,omitempty"`
	Workflow  string          `json:"workflow,omitempty"`
	Data      json.RawMessage `json:"data"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func validateDocument(doc *Document) error {
	if doc == nil || len(doc.Data) == 0 {
		return ErrInvalidDocument
	}
	if doc.ID == "" {
		return ErrInvalidID
	}
	return nil
}

func cloneDocument(doc *Document) *Document {
	c := *doc
	c.Data = append(json.RawMessage(nil), doc.Data...)
	return &c
}

// paginate applies offset and limit to a sorted ID list.
func paginate(ids []string, offset, limit int) []string {
	if limit == 0 {
		limit = defaultListLimit
	}
	if offset >= len(ids) {
		return []string{}
	}
	end := offset + limit
	if end > len(ids) {
		end = len(ids)
	}
	return ids[offset:end]
}
