package stores

import (
	"errors"
	"time"

	"github.com/openfroyo/graphpatch/pkg/engine"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("not found")

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RunFilter narrows ListRuns.
type RunFilter struct {
	// TargetID limits runs to one target when set.
	TargetID string
	Limit    int
	Offset   int
}

// EventFilter narrows ListEvents.
type EventFilter struct {
	TargetID string
	Type     engine.EventType
	// Since excludes events recorded before it when non-zero.
	Since  time.Time
	Limit  int
	Offset int
}

// AuditEntry is a persisted audit trail event.
type AuditEntry struct {
	ID int64 `json:"id"`
	engine.Event
}

const defaultPageSize = 50

func pageSize(limit int) int {
	if limit <= 0 {
		return defaultPageSize
	}
	return limit
}

// unixNano stores times as integer nanoseconds.
func unixNano(t time.Time) int64 {
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
