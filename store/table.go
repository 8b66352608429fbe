// Package store defines the durable tables behind the cache and the Store
// that keeps them consistent.
//
// A cache is backed by three tables sharing one key space (storage keys):
//
//   - content:  key → raw bytes
//   - access:   key → JSON AccessRecord
//   - schedule: singleton ScheduleRecord under ScheduleKey
//
// Table implementations live in subpackages (fsstore, sqlite, s3). Any type
// satisfying Table can be used.
package store

import (
	"context"

	"github.com/jmgilman/go/contentcache/errors"
)

// Logical table names.
const (
	ContentTable  = "content"
	AccessTable   = "access"
	ScheduleTable = "schedule"
)

var (
	// ErrNotFound is returned by Table.Get when the key is absent.
	ErrNotFound = errors.New(errors.CodeNotFound, "entry not found")

	// ErrNotOpen is returned by table operations before Open or after Close.
	ErrNotOpen = errors.New(errors.CodeClosed, "table is not open")
)

// Table is a durable key/value table. Implementations must be safe for
// concurrent use. Delete of an absent key is not an error.
type Table interface {
	// Name returns the logical table name.
	Name() string

	// Open prepares the table for use. Opening an open table is a no-op.
	Open(ctx context.Context) error

	// IsOpen reports whether the table is ready for use.
	IsOpen() bool

	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores value under key, replacing any existing value.
	Put(ctx context.Context, key string, value []byte) error

	// Delete removes key.
	Delete(ctx context.Context, key string) error

	// Contains reports whether key is present.
	Contains(ctx context.Context, key string) (bool, error)

	// Keys returns every key in the table, in no particular order.
	Keys(ctx context.Context) ([]string, error)

	// Clear removes every key.
	Clear(ctx context.Context) error

	// Close releases resources. The table may be reopened.
	Close() error
}

// Sizer is implemented by tables that can report the size of a value without
// reading it.
type Sizer interface {
	Size(ctx context.Context, key string) (int64, error)
}

// Totaler is implemented by tables that can sum their value sizes directly.
type Totaler interface {
	TotalSize(ctx context.Context) (int64, error)
}
