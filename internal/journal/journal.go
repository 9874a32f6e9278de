// Package journal persists resolution events to SQLite so operators can
// audit which states the service derived and when.
package journal

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/stratushq/entitlements/internal/logging"
	"github.com/stratushq/entitlements/internal/metrics"
)

const (
	flushInterval     = 5 * time.Second
	retentionInterval = time.Hour
	maxBufferSize     = 512
	defaultListLimit  = 100
	maxListLimit      = 1000
)

// Event is one recorded resolution.
type Event struct {
	ID            string        `json:"id"`
	At            time.Time     `json:"at"`
	State         string        `json:"state"`
	ActualPlan    string        `json:"actualPlan"`
	EffectivePlan string        `json:"effectivePlan"`
	Duration      time.Duration `json:"duration"`
}

// Filter narrows List results.
type Filter struct {
	State string
	Limit int
}

// Stats summarizes journal contents.
type Stats struct {
	TotalEvents   int64            `json:"totalEvents"`
	EventsByState map[string]int64 `json:"eventsByState"`
	OldestEvent   *time.Time       `json:"oldestEvent,omitempty"`
	NewestEvent   *time.Time       `json:"newestEvent,omitempty"`
}

// Journal buffers resolution events in memory and batch-writes them to a
// single-writer SQLite database. A nil *Journal is a disabled journal:
// Record is a no-op, List returns no events.
type Journal struct {
	db        *sql.DB
	retention time.Duration
	logger    zerolog.Logger

	mu     sync.Mutex
	buffer []Event

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// Open creates or opens the journal database at path. retention bounds how
// long events are kept; zero disables pruning.
func Open(path string, retention time.Duration) (*Journal, error) {
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open journal database: %w", err)
	}

	// SQLite permits one writer; serializing through a single connection
	// avoids SQLITE_BUSY under concurrent resolutions.
	db.SetMaxOpenConns(1)

	j := &Journal{
		db:        db,
		retention: retention,
		logger:    logging.NewLogger("journal"),
		buffer:    make([]Event, 0, maxBufferSize),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}

	if err := j.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize journal schema: %w", err)
	}

	go j.backgroundWorker()

	j.logger.Info().Str("path", path).Dur("retention", retention).Msg("Resolution journal opened")
	return j, nil
}

func (j *Journal) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS resolution_events (
		id TEXT PRIMARY KEY,
		at INTEGER NOT NULL,
		state TEXT NOT NULL,
		actual_plan TEXT NOT NULL,
		effective_plan TEXT NOT NULL,
		duration_us INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_resolution_events_at ON resolution_events(at);
	CREATE INDEX IF NOT EXISTS idx_resolution_events_state_at ON resolution_events(state, at);
	`
	_, err := j.db.Exec(schema)
	return err
}

// Record buffers an event for the next batch write. Missing IDs and
// timestamps are filled in. When the buffer is full the oldest buffered
// event is dropped rather than blocking the resolution path.
func (j *Journal) Record(ev Event) {
	if j == nil {
		return
	}

	if ev.ID == "" {
		ev.ID = ulid.Make().String()
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	j.mu.Lock()
	if len(j.buffer) >= maxBufferSize {
		j.buffer = j.buffer[1:]
		j.logger.Warn().Msg("Journal buffer full, dropping oldest event")
	}
	j.buffer = append(j.buffer, ev)
	buffered := len(j.buffer)
	j.mu.Unlock()

	metrics.SetJournalBuffered(buffered)
}

func (j *Journal) backgroundWorker() {
	defer close(j.doneCh)

	flushTicker := time.NewTicker(flushInterval)
	defer flushTicker.Stop()
	retentionTicker := time.NewTicker(retentionInterval)
	defer retentionTicker.Stop()

	for {
		select {
		case <-flushTicker.C:
			if err := j.Flush(); err != nil {
				j.logger.Error().Err(err).Msg("Failed to flush journal buffer")
			}
		case <-retentionTicker.C:
			if err := j.pruneExpired(); err != nil {
				j.logger.Error().Err(err).Msg("Failed to prune expired journal events")
			}
		case <-j.stopCh:
			return
		}
	}
}

// Flush writes all buffered events in one transaction.
func (j *Journal) Flush() error {
	if j == nil {
		return nil
	}

	j.mu.Lock()
	if len(j.buffer) == 0 {
		j.mu.Unlock()
		return nil
	}
	batch := j.buffer
	j.buffer = make([]Event, 0, maxBufferSize)
	j.mu.Unlock()

	metrics.SetJournalBuffered(0)

	tx, err := j.db.Begin()
	if err != nil {
		return fmt.Errorf("begin journal transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR IGNORE INTO resolution_events (id, at, state, actual_plan, effective_plan, duration_us)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare journal insert: %w", err)
	}
	defer stmt.Close()

	for _, ev := range batch {
		if _, err := stmt.Exec(ev.ID, ev.At.UnixMilli(), ev.State, ev.ActualPlan, ev.EffectivePlan, ev.Duration.Microseconds()); err != nil {
			return fmt.Errorf("insert journal event %s: %w", ev.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit journal transaction: %w", err)
	}

	j.logger.Debug().Int("events", len(batch)).Msg("Flushed journal buffer")
	return nil
}

func (j *Journal) pruneExpired() error {
	if j.retention <= 0 {
		return nil
	}

	cutoff := time.Now().Add(-j.retention).UnixMilli()
	res, err := j.db.Exec(`DELETE FROM resolution_events WHERE at < ?`, cutoff)
	if err != nil {
		return err
	}
	if removed, err := res.RowsAffected(); err == nil && removed > 0 {
		j.logger.Info().Int64("removed", removed).Msg("Pruned expired journal events")
	}
	return nil
}

// List returns recorded events, newest first. Buffered events are flushed
// before reading so callers see their own writes.
func (j *Journal) List(filter Filter) ([]Event, error) {
	if j == nil {
		return nil, nil
	}
	if err := j.Flush(); err != nil {
		return nil, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	query := `SELECT id, at, state, actual_plan, effective_plan, duration_us FROM resolution_events`
	args := []any{}
	if state := strings.TrimSpace(filter.State); state != "" {
		query += ` WHERE state = ?`
		args = append(args, state)
	}
	query += ` ORDER BY at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := j.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query journal events: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0, limit)
	for rows.Next() {
		var (
			ev         Event
			atMillis   int64
			durationUS int64
		)
		if err := rows.Scan(&ev.ID, &atMillis, &ev.State, &ev.ActualPlan, &ev.EffectivePlan, &durationUS); err != nil {
			return nil, fmt.Errorf("scan journal event: %w", err)
		}
		ev.At = time.UnixMilli(atMillis).UTC()
		ev.Duration = time.Duration(durationUS) * time.Microsecond
		events = append(events, ev)
	}
	return events, rows.Err()
}

// GetStats reports totals for the stored events.
func (j *Journal) GetStats() (Stats, error) {
	stats := Stats{EventsByState: map[string]int64{}}
	if j == nil {
		return stats, nil
	}
	if err := j.Flush(); err != nil {
		return stats, err
	}

	rows, err := j.db.Query(`SELECT state, COUNT(*) FROM resolution_events GROUP BY state`)
	if err != nil {
		return stats, fmt.Errorf("query journal stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var state string
		var count int64
		if err := rows.Scan(&state, &count); err != nil {
			return stats, err
		}
		stats.EventsByState[state] = count
		stats.TotalEvents += count
	}
	if err := rows.Err(); err != nil {
		return stats, err
	}

	var oldest, newest sql.NullInt64
	if err := j.db.QueryRow(`SELECT MIN(at), MAX(at) FROM resolution_events`).Scan(&oldest, &newest); err != nil {
		return stats, err
	}
	if oldest.Valid {
		t := time.UnixMilli(oldest.Int64).UTC()
		stats.OldestEvent = &t
	}
	if newest.Valid {
		t := time.UnixMilli(newest.Int64).UTC()
		stats.NewestEvent = &t
	}
	return stats, nil
}

// Close flushes pending events and shuts the journal down. It waits up to
// five seconds for the background worker to exit.
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}

	j.stopOnce.Do(func() {
		close(j.stopCh)
	})

	select {
	case <-j.doneCh:
	case <-time.After(5 * time.Second):
		j.logger.Warn().Msg("Timed out waiting for journal worker to stop")
	}

	if err := j.Flush(); err != nil {
		j.logger.Error().Err(err).Msg("Failed to flush journal on close")
	}
	return j.db.Close()
}
