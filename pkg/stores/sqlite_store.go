package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/openfroyo/graphpatch/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements engine.PlanStore and engine.Recorder using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

var (
	_ engine.PlanStore = (*SQLiteStore)(nil)
	_ engine.Recorder  = (*SQLiteStore)(nil)
)

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	// Every connection to :memory: opens a separate database.
	if isMemory(cfg.Path) {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{cfg: cfg}, nil
}

func isMemory(path string) bool {
	return path == ":memory:" || strings.Contains(path, "mode=memory")
}

// dsn adds the connection pragmas understood by modernc.org/sqlite.
func (s *SQLiteStore) dsn() string {
	sep := "?"
	if strings.Contains(s.cfg.Path, "?") {
		sep = "&"
	}
	params := "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate"
	if !isMemory(s.cfg.Path) {
		params += "&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}
	return s.cfg.Path + sep + params
}

// Init opens the database connection.
func (s *SQLiteStore) Init(ctx context.Context) error {
	db, err := sql.Open("sqlite", s.dsn())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Open creates, initializes and migrates a store.
func Open(ctx context.Context, cfg Config) (*SQLiteStore, error) {
	s, err := NewSQLiteStore(cfg)
	if err != nil {
		return nil, err
	}
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

// withTx runs fn in a transaction and commits when it returns nil.
func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

const patchColumns = `target_id, plan_id, code, actions, contains_destructive, actor, created_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPatch(row rowScanner) (*engine.PendingPatch, error) {
	var (
		patch       engine.PendingPatch
		actions     string
		destructive int
		createdAt   int64
	)
	if err := row.Scan(&patch.TargetID, &patch.PlanID, &patch.Code, &actions, &destructive, &patch.Actor, &createdAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(actions), &patch.Actions); err != nil {
		return nil, fmt.Errorf("failed to decode actions of plan %s: %w", patch.PlanID, err)
	}
	patch.ContainsDestructive = destructive != 0
	patch.CreatedAt = fromUnixNano(createdAt)
	return &patch, nil
}

// Get returns the pending patch of targetID.
func (s *SQLiteStore) Get(ctx context.Context, targetID string) (*engine.PendingPatch, error) {
	query := `SELECT ` + patchColumns + ` FROM pending_patches WHERE target_id = ?`

	patch, err := scanPatch(s.db.QueryRowContext(ctx, query, targetID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.ErrPatchNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pending patch: %w", err)
	}
	return patch, nil
}

// Put stores patch in its target's slot and reports whether it replaced one.
func (s *SQLiteStore) Put(ctx context.Context, patch *engine.PendingPatch) (bool, error) {
	actions, err := json.Marshal(patch.Actions)
	if err != nil {
		return false, fmt.Errorf("failed to encode actions: %w", err)
	}

	var replaced bool
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var existing int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM pending_patches WHERE target_id = ?`, patch.TargetID,
		).Scan(&existing); err != nil {
			return fmt.Errorf("failed to check pending patch: %w", err)
		}
		replaced = existing > 0

		query := `
			INSERT INTO pending_patches (` + patchColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(target_id) DO UPDATE SET
				plan_id = excluded.plan_id,
				code = excluded.code,
				actions = excluded.actions,
				contains_destructive = excluded.contains_destructive,
				actor = excluded.actor,
				created_at = excluded.created_at
		`
		if _, err := tx.ExecContext(ctx, query,
			patch.TargetID,
			patch.PlanID,
			patch.Code,
			string(actions),
			boolInt(patch.ContainsDestructive),
			patch.Actor,
			unixNano(patch.CreatedAt),
		); err != nil {
			return fmt.Errorf("failed to store pending patch: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return replaced, nil
}

// Consume clears the pending slot of targetID if it still holds planID.
// The check and the delete are one statement, so two processes sharing the
// database cannot both consume the same patch.
func (s *SQLiteStore) Consume(ctx context.Context, targetID, planID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM pending_patches WHERE target_id = ? AND plan_id = ?`, targetID, planID)
	if err != nil {
		return false, fmt.Errorf("failed to consume pending patch: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to consume pending patch: %w", err)
	}
	return n == 1, nil
}

// DeleteExpired removes and returns patches created before cutoff.
func (s *SQLiteStore) DeleteExpired(ctx context.Context, cutoff time.Time) ([]*engine.PendingPatch, error) {
	var removed []*engine.PendingPatch
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT `+patchColumns+` FROM pending_patches WHERE created_at < ? ORDER BY created_at`,
			unixNano(cutoff))
		if err != nil {
			return fmt.Errorf("failed to list expired patches: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			patch, err := scanPatch(rows)
			if err != nil {
				return fmt.Errorf("failed to scan expired patch: %w", err)
			}
			removed = append(removed, patch)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("error iterating expired patches: %w", err)
		}
		rows.Close()

		if _, err := tx.ExecContext(ctx, `DELETE FROM pending_patches WHERE created_at < ?`, unixNano(cutoff)); err != nil {
			return fmt.Errorf("failed to delete expired patches: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// ListPending returns every pending patch ordered by creation time.
func (s *SQLiteStore) ListPending(ctx context.Context) ([]*engine.PendingPatch, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+patchColumns+` FROM pending_patches ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending patches: %w", err)
	}
	defer rows.Close()

	patches := []*engine.PendingPatch{}
	for rows.Next() {
		patch, err := scanPatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pending patch: %w", err)
		}
		patches = append(patches, patch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pending patches: %w", err)
	}
	return patches, nil
}

// RecordApply persists a finished run with its action results.
func (s *SQLiteStore) RecordApply(ctx context.Context, result *engine.ApplyResult) error {
	if err := result.Status.Validate(); err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		query := `
			INSERT INTO runs (id, plan_id, target_id, actor, reason, status, success_count, failure_count, started_at, completed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`
		if _, err := tx.ExecContext(ctx, query,
			result.RunID,
			result.PlanID,
			result.TargetID,
			result.Actor,
			result.Reason,
			string(result.Status),
			result.SuccessCount,
			result.FailureCount,
			unixNano(result.StartedAt),
			unixNano(result.CompletedAt),
		); err != nil {
			return fmt.Errorf("failed to create run: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO action_results (run_id, seq, line, handler_id, success, changed, affected_id, error, duration_ns)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare action result insert: %w", err)
		}
		defer stmt.Close()

		for i, r := range result.Results {
			if _, err := stmt.ExecContext(ctx,
				result.RunID,
				i,
				r.Line,
				r.HandlerID,
				boolInt(r.Success),
				boolInt(r.Changed),
				r.AffectedID,
				r.Error,
				int64(r.Duration),
			); err != nil {
				return fmt.Errorf("failed to record result of line %d: %w", r.Line, err)
			}
		}
		return nil
	})
}

const runColumns = `id, plan_id, target_id, actor, reason, status, success_count, failure_count, started_at, completed_at`

func scanRun(row rowScanner) (*engine.ApplyResult, error) {
	var (
		run                  engine.ApplyResult
		status               string
		startedAt, completed int64
	)
	if err := row.Scan(&run.RunID, &run.PlanID, &run.TargetID, &run.Actor, &run.Reason, &status,
		&run.SuccessCount, &run.FailureCount, &startedAt, &completed); err != nil {
		return nil, err
	}
	run.Status = engine.RunStatus(status)
	run.StartedAt = fromUnixNano(startedAt)
	run.CompletedAt = fromUnixNano(completed)
	return &run, nil
}

// GetRun retrieves a run with its action results.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*engine.ApplyResult, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT line, handler_id, success, changed, affected_id, error, duration_ns
		FROM action_results
		WHERE run_id = ?
		ORDER BY seq
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list action results: %w", err)
	}
	defer rows.Close()

	run.Results = []engine.ActionResult{}
	for rows.Next() {
		var (
			r                engine.ActionResult
			success, changed int
			duration         int64
		)
		if err := rows.Scan(&r.Line, &r.HandlerID, &success, &changed, &r.AffectedID, &r.Error, &duration); err != nil {
			return nil, fmt.Errorf("failed to scan action result: %w", err)
		}
		r.Success = success != 0
		r.Changed = changed != 0
		r.Duration = time.Duration(duration)
		run.Results = append(run.Results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating action results: %w", err)
	}

	return run, nil
}

// ListRuns lists runs newest first, without their action results.
func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]*engine.ApplyResult, error) {
	query := `
		SELECT ` + runColumns + `
		FROM runs
		WHERE (? = '' OR target_id = ?)
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, filter.TargetID, filter.TargetID, pageSize(filter.Limit), filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*engine.ApplyResult{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// RecordEvent appends an audit trail entry.
func (s *SQLiteStore) RecordEvent(ctx context.Context, event engine.Event) error {
	query := `
		INSERT INTO audit (type, target_id, plan_id, actor, message, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	if _, err := s.db.ExecContext(ctx, query,
		string(event.Type),
		event.TargetID,
		event.PlanID,
		event.Actor,
		event.Message,
		unixNano(event.Timestamp),
	); err != nil {
		return fmt.Errorf("failed to create audit entry: %w", err)
	}
	return nil
}

// ListEvents lists audit entries newest first.
func (s *SQLiteStore) ListEvents(ctx context.Context, filter EventFilter) ([]*AuditEntry, error) {
	var since int64
	if !filter.Since.IsZero() {
		since = unixNano(filter.Since)
	}

	query := `
		SELECT id, type, target_id, plan_id, actor, message, timestamp
		FROM audit
		WHERE (? = '' OR target_id = ?)
		  AND (? = '' OR type = ?)
		  AND timestamp >= ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query,
		filter.TargetID, filter.TargetID,
		string(filter.Type), string(filter.Type),
		since,
		pageSize(filter.Limit), filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	entries := []*AuditEntry{}
	for rows.Next() {
		var (
			entry     AuditEntry
			eventType string
			ts        int64
		)
		if err := rows.Scan(&entry.ID, &eventType, &entry.TargetID, &entry.PlanID, &entry.Actor, &entry.Message, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entry.Type = engine.EventType(eventType)
		entry.Timestamp = fromUnixNano(ts)
		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}

	return entries, nil
}

// PruneHistory deletes runs and audit entries older than before. Action
// results go with their runs.
func (s *SQLiteStore) PruneHistory(ctx context.Context, before time.Time) (int64, error) {
	var total int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, query := range []string{
			`DELETE FROM runs WHERE completed_at < ?`,
			`DELETE FROM audit WHERE timestamp < ?`,
		} {
			result, err := tx.ExecContext(ctx, query, unixNano(before))
			if err != nil {
				return fmt.Errorf("failed to prune history: %w", err)
			}
			n, err := result.RowsAffected()
			if err != nil {
				return fmt.Errorf("failed to get rows affected: %w", err)
			}
			total += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}
