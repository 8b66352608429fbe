package store

import (
	"encoding/json"
	"time"

	"github.com/jmgilman/go/contentcache/errors"
)

// ScheduleKey is the key of the singleton record in the schedule table.
const ScheduleKey = "cleanup"

// AccessRecord tracks how often and how recently an entry was used.
type AccessRecord struct {
	AccessCount  uint64    `json:"access_count"`
	LastAccessed time.Time `json:"last_accessed"`
}

// Bump returns the record after one more access at now.
func (r AccessRecord) Bump(now time.Time) AccessRecord {
	return AccessRecord{AccessCount: r.AccessCount + 1, LastAccessed: now}
}

// Age returns how long ago the record was last accessed.
func (r AccessRecord) Age(now time.Time) time.Duration {
	return now.Sub(r.LastAccessed)
}

// ScheduleRecord holds the time of the last completed cleanup sweep.
type ScheduleRecord struct {
	LastCleanupRun time.Time `json:"last_cleanup_run"`
}

// EncodeAccess serializes r.
func EncodeAccess(r AccessRecord) ([]byte, error) {
	r.LastAccessed = r.LastAccessed.UTC()
	return json.Marshal(r)
}

// DecodeAccess parses an access record. Malformed input or a record without
// a timestamp is reported as CORRUPTED.
func DecodeAccess(data []byte) (AccessRecord, error) {
	var r AccessRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return AccessRecord{}, errors.Wrap(err, errors.CodeCorrupted, "malformed access record")
	}
	if r.LastAccessed.IsZero() {
		return AccessRecord{}, errors.New(errors.CodeCorrupted, "access record has no last_accessed")
	}
	return r, nil
}

// EncodeSchedule serializes r.
func EncodeSchedule(r ScheduleRecord) ([]byte, error) {
	r.LastCleanupRun = r.LastCleanupRun.UTC()
	return json.Marshal(r)
}

// DecodeSchedule parses a schedule record.
func DecodeSchedule(data []byte) (ScheduleRecord, error) {
	var r ScheduleRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return ScheduleRecord{}, errors.Wrap(err, errors.CodeCorrupted, "malformed schedule record")
	}
	return r, nil
}
