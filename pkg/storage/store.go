package storage

import (
	"time"
)

// Record is a journaled persistent parameter
type Record struct {
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ParamStore journals persist.* parameters across restarts
type ParamStore interface {
	// Save records the latest value of name
	Save(name, value string) error
	// Get returns the journaled record for name
	Get(name string) (Record, bool, error)
	// Delete removes name from the journal
	Delete(name string) error
	// ForEach visits every readable record in name order. Records that
	// cannot be decoded are skipped.
	ForEach(fn func(name string, rec Record) error) error
	// Close flushes and closes the journal
	Close() error
}
