package store

import (
	"context"
	"errors"
	"time"

	"remindbot/internal/reminder"
)

var (
	// ErrNotFound is returned when operating on an unknown job id.
	ErrNotFound = errors.New("store: job not found")
	// ErrWrite wraps persistence failures. Callers must not assume partial
	// success after seeing it.
	ErrWrite = errors.New("store: write failed")
)

// Config configures the sqlite job store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// Order selects list ordering: next fire time for display, id for stable
// pagination.
type Order int

const (
	OrderNextFire Order = iota
	OrderID
)

// Filter narrows List results. Zero-value string fields match everything.
type Filter struct {
	GuildID   string
	ChannelID string
	UserID    string
	Paused    *bool
	Order     Order
}

// Store is the durable table of job records, keyed by id.
//
// Concurrent reads/writes to distinct ids do not interfere; writes to the
// same id serialize (sqlite runs this store on a single connection).
type Store interface {
	// Create assigns an id when the record carries none, derives the next
	// fire time, and persists atomically.
	Create(ctx context.Context, job *reminder.Job) (id string, err error)

	Get(ctx context.Context, id string) (*reminder.Job, error)

	List(ctx context.Context, f Filter) ([]*reminder.Job, error)

	// Update applies mutate to the stored record inside one transaction and
	// re-derives the next fire time before committing. Returns the
	// committed record.
	Update(ctx context.Context, id string, mutate func(*reminder.Job) error) (*reminder.Job, error)

	// Delete is idempotent: deleting an absent id is a no-op, so
	// fire-and-delete races never surface spurious failures.
	Delete(ctx context.Context, id string) error

	Close() error
}
