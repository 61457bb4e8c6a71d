package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// PlanRecord is one archived planning run.
type PlanRecord struct {
	ID           string
	CreatedAt    time.Time
	Days         int
	Model        string
	PlanJSON     string // JSON array of day entries
	ShoppingJSON string // JSON object keyed by shopping category
	Markdown     string
	ShoppingText string
	Remarks      string
}
