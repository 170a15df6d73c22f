// Package activitylog persists the activity and error events published by
// every pipeline stage and serves them back for inspection.
package activitylog

import (
	"context"
	"fmt"
	"time"
)

type Level string

const (
	LevelInfo  Level = "info"
	LevelError Level = "error"
)

// Entry is one persisted event.
type Entry struct {
	ID        string    `json:"id"`
	Time      time.Time `json:"time"`
	Level     Level     `json:"level"`
	Source    string    `json:"source"`
	Subject   string    `json:"subject,omitempty"`
	Message   string    `json:"message"`
	ErrorKind string    `json:"errorKind,omitempty"`
	Payload   string    `json:"payload,omitempty"`
}

// Query filters entries. Zero fields match everything.
type Query struct {
	Start   time.Time
	End     time.Time
	Source  string
	Level   Level
	Subject string
	Limit   int
}

func (q Query) match(e Entry) bool {
	if !q.Start.IsZero() && e.Time.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && e.Time.After(q.End) {
		return false
	}
	if q.Source != "" && e.Source != q.Source {
		return false
	}
	if q.Level != "" && e.Level != q.Level {
		return false
	}
	if q.Subject != "" && e.Subject != q.Subject {
		return false
	}
	return true
}

// Store persists entries. Append ignores an entry whose id is already
// stored.
type Store interface {
	Append(ctx context.Context, e Entry) error
	Query(ctx context.Context, q Query) ([]Entry, error)
	Close() error
}

// Config selects the backend.
type Config struct {
	Backend string `json:"backend" koanf:"backend"` // sqlite or jsonl
	Path    string `json:"path" koanf:"path"`
}

// Open returns the configured store.
func Open(cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", "sqlite":
		return NewSQLiteStore(cfg.Path)
	case "jsonl":
		return NewJSONLStore(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown activity log backend %q", cfg.Backend)
	}
}
