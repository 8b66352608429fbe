package store

import (
	"context"
	"hash/maphash"
	"sync"
	"time"

	"github.com/jmgilman/go/contentcache/errors"
)

// lockStripes is the number of mutexes keys are hashed onto.
const lockStripes = 256

// Store pairs the content, access and schedule tables and keeps content and
// access rows consistent. Read-modify-write of an access record is atomic per
// key.
type Store struct {
	content  Table
	access   Table
	schedule Table

	// Keys share a fixed set of mutexes. No method holds more than one.
	seed  maphash.Seed
	locks [lockStripes]sync.Mutex
}

// New returns a Store over the three tables. The tables are not opened.
func New(content, access, schedule Table) (*Store, error) {
	if content == nil || access == nil || schedule == nil {
		return nil, errors.New(errors.CodeInvalidInput, "content, access and schedule tables are required")
	}
	return &Store{
		content:  content,
		access:   access,
		schedule: schedule,
		seed:     maphash.MakeSeed(),
	}, nil
}

func (s *Store) keyLock(key string) *sync.Mutex {
	return &s.locks[maphash.String(s.seed, key)%lockStripes]
}

func (s *Store) tables() []Table {
	return []Table{s.content, s.access, s.schedule}
}

// Open opens every table that is not already open.
func (s *Store) Open(ctx context.Context) error {
	for _, t := range s.tables() {
		if t.IsOpen() {
			continue
		}
		if err := t.Open(ctx); err != nil {
			return errors.WithContext(
				errors.Wrap(err, errors.CodeStorage, "failed to open table"),
				"table", t.Name())
		}
	}
	return nil
}

// Close closes every table and returns the joined errors.
func (s *Store) Close() error {
	var errs []error
	for _, t := range s.tables() {
		if err := t.Close(); err != nil {
			errs = append(errs, errors.WithContext(err, "table", t.Name()))
		}
	}
	return errors.Join(errs...)
}

// HasContent reports whether key has a content row.
func (s *Store) HasContent(ctx context.Context, key string) (bool, error) {
	ok, err := s.content.Contains(ctx, key)
	if err != nil {
		return false, errors.Wrap(err, errors.CodeStorage, "failed to check content")
	}
	return ok, nil
}

// ReadContent returns the stored bytes for key, or ErrNotFound.
func (s *Store) ReadContent(ctx context.Context, key string) ([]byte, error) {
	data, err := s.content.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, errors.Wrap(err, errors.CodeStorage, "failed to read content")
	}
	return data, nil
}

// ContentSize returns the stored size of key's content.
func (s *Store) ContentSize(ctx context.Context, key string) (int64, error) {
	if sizer, ok := s.content.(Sizer); ok {
		n, err := sizer.Size(ctx, key)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return 0, errors.Wrap(err, errors.CodeStorage, "failed to stat content")
		}
		return n, err
	}
	data, err := s.ReadContent(ctx, key)
	if err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

// ContentKeys lists every key in the content table.
func (s *Store) ContentKeys(ctx context.Context) ([]string, error) {
	keys, err := s.content.Keys(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeStorage, "failed to list content")
	}
	return keys, nil
}

// AccessKeys lists every key in the access table.
func (s *Store) AccessKeys(ctx context.Context) ([]string, error) {
	keys, err := s.access.Keys(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeStorage, "failed to list access records")
	}
	return keys, nil
}

// TotalSize returns the sum of all content sizes. Keys removed while the
// total is being computed and corrupted content are skipped.
func (s *Store) TotalSize(ctx context.Context) (int64, error) {
	if totaler, ok := s.content.(Totaler); ok {
		total, err := totaler.TotalSize(ctx)
		if err != nil {
			return 0, errors.Wrap(err, errors.CodeStorage, "failed to total content size")
		}
		return total, nil
	}

	keys, err := s.ContentKeys(ctx)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, key := range keys {
		n, err := s.ContentSize(ctx, key)
		if errors.Is(err, ErrNotFound) || errors.HasCode(err, errors.CodeCorrupted) {
			continue
		}
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// ReadAccess returns the access record for key. A missing record returns
// ErrNotFound; an unparseable one returns a CORRUPTED error.
func (s *Store) ReadAccess(ctx context.Context, key string) (AccessRecord, error) {
	data, err := s.access.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return AccessRecord{}, err
		}
		return AccessRecord{}, errors.Wrap(err, errors.CodeStorage, "failed to read access record")
	}
	rec, err := DecodeAccess(data)
	if err != nil {
		return AccessRecord{}, errors.WithContext(err, "key", key)
	}
	return rec, nil
}

func (s *Store) writeAccess(ctx context.Context, key string, rec AccessRecord) error {
	data, err := EncodeAccess(rec)
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal, "failed to encode access record")
	}
	if err := s.access.Put(ctx, key, data); err != nil {
		return errors.Wrap(err, errors.CodeStorage, "failed to write access record")
	}
	return nil
}

// Touch records one access to key at now and returns the updated record.
// A missing or unparseable record is replaced by a fresh one, unless the
// content is gone too, in which case nothing is written and ErrNotFound is
// returned.
func (s *Store) Touch(ctx context.Context, key string, now time.Time) (AccessRecord, error) {
	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	rec, err := s.ReadAccess(ctx, key)
	if err != nil && !errors.Is(err, ErrNotFound) && !errors.HasCode(err, errors.CodeCorrupted) {
		return AccessRecord{}, err
	}
	if err != nil {
		ok, cerr := s.content.Contains(ctx, key)
		if cerr != nil {
			return AccessRecord{}, errors.Wrap(cerr, errors.CodeStorage, "failed to check content")
		}
		if !ok {
			return AccessRecord{}, ErrNotFound
		}
		rec = AccessRecord{}
	}

	rec = rec.Bump(now)
	if err := s.writeAccess(ctx, key, rec); err != nil {
		return AccessRecord{}, err
	}
	return rec, nil
}

// WriteEntry stores data under key and sets its access record to one access
// at now. Content is written first; if the access record cannot be written
// the content row is removed again so the two tables stay paired.
func (s *Store) WriteEntry(ctx context.Context, key string, data []byte, now time.Time) error {
	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	if err := s.content.Put(ctx, key, data); err != nil {
		return errors.Wrap(err, errors.CodeStorage, "failed to write content")
	}

	if err := s.writeAccess(ctx, key, AccessRecord{AccessCount: 1, LastAccessed: now}); err != nil {
		if derr := s.content.Delete(ctx, key); derr != nil {
			return errors.Join(err, errors.Wrap(derr, errors.CodeStorage, "failed to roll back content"))
		}
		return err
	}
	return nil
}

// RemoveEntry deletes key from both the content and access tables. Both
// deletes are attempted even if one fails.
func (s *Store) RemoveEntry(ctx context.Context, key string) error {
	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	var errs []error
	if err := s.content.Delete(ctx, key); err != nil {
		errs = append(errs, errors.Wrap(err, errors.CodeStorage, "failed to delete content"))
	}
	if err := s.access.Delete(ctx, key); err != nil {
		errs = append(errs, errors.Wrap(err, errors.CodeStorage, "failed to delete access record"))
	}
	return errors.Join(errs...)
}

// RemoveAccess deletes only the access record for key.
func (s *Store) RemoveAccess(ctx context.Context, key string) error {
	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	if err := s.access.Delete(ctx, key); err != nil {
		return errors.Wrap(err, errors.CodeStorage, "failed to delete access record")
	}
	return nil
}

// ReadSchedule returns the schedule record. ok is false if none was stored.
func (s *Store) ReadSchedule(ctx context.Context) (rec ScheduleRecord, ok bool, err error) {
	data, err := s.schedule.Get(ctx, ScheduleKey)
	if errors.Is(err, ErrNotFound) {
		return ScheduleRecord{}, false, nil
	}
	if err != nil {
		return ScheduleRecord{}, false, errors.Wrap(err, errors.CodeStorage, "failed to read schedule")
	}
	rec, err = DecodeSchedule(data)
	if err != nil {
		return ScheduleRecord{}, false, err
	}
	return rec, true, nil
}

// WriteSchedule stores the schedule record.
func (s *Store) WriteSchedule(ctx context.Context, rec ScheduleRecord) error {
	data, err := EncodeSchedule(rec)
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal, "failed to encode schedule")
	}
	if err := s.schedule.Put(ctx, ScheduleKey, data); err != nil {
		return errors.Wrap(err, errors.CodeStorage, "failed to write schedule")
	}
	return nil
}

// ClearAll empties every table. A table that fails is skipped; the failures
// are returned joined after every table has been attempted.
func (s *Store) ClearAll(ctx context.Context) error {
	var errs []error
	for _, t := range s.tables() {
		if err := t.Clear(ctx); err != nil {
			errs = append(errs, errors.WithContext(
				errors.Wrap(err, errors.CodeStorage, "failed to clear table"),
				"table", t.Name()))
		}
	}
	return errors.Join(errs...)
}
