package db

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/relaybench/relaybench/internal/events"
)

const journalHandler = "journal"

// DefaultRecentLimit is used by Recent when limit is not positive.
const DefaultRecentLimit = 50

// MaxRecentLimit caps the rows returned by Recent.
const MaxRecentLimit = 1000

// Entry is one journaled connection.
type Entry struct {
	ID        int64     `json:"id"`
	EventID   string    `json:"event_id"`
	Port      int       `json:"port"`
	Command   string    `json:"command"`
	Raw       string    `json:"raw,omitempty"`
	State     string    `json:"state"`
	Changed   bool      `json:"changed"`
	Remote    string    `json:"remote"`
	Version   uint64    `json:"version"`
	CreatedAt time.Time `json:"created_at"`
}

// Journal records relay commands to SQLite. It is never read back into
// relay state.
type Journal struct {
	db *Database
}

// OpenJournal opens the journal database and migrates its schema.
func OpenJournal(dbPath string) (*Journal, error) {
	database, err := NewDatabase(dbPath)
	if err != nil {
		return nil, err
	}

	j := &Journal{db: database}
	if err := j.migrate(context.Background()); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate journal database: %w", err)
	}

	return j, nil
}

func (j *Journal) migrate(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS commands (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_id TEXT NOT NULL DEFAULT '',
			port INTEGER NOT NULL,
			command TEXT NOT NULL,
			raw TEXT NOT NULL DEFAULT '',
			state TEXT NOT NULL,
			changed INTEGER NOT NULL DEFAULT 0,
			remote TEXT NOT NULL DEFAULT '',
			version INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_commands_port_id ON commands(port, id);
		CREATE INDEX IF NOT EXISTS idx_commands_created_at ON commands(created_at);
	`

	if _, err := j.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}

	log.Debug().Msg("journal schema migrated")
	return nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Record appends one entry. A zero CreatedAt is set to now.
func (j *Journal) Record(ctx context.Context, e Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	_, err := j.db.Exec(ctx,
		`INSERT INTO commands (event_id, port, command, raw, state, changed, remote, version, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.EventID, e.Port, e.Command, e.Raw, e.State, boolToInt(e.Changed), e.Remote, e.Version, e.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to record command for port %d: %w", e.Port, err)
	}
	return nil
}

// Recent returns the latest entries of a port, newest first.
func (j *Journal) Recent(ctx context.Context, port, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	if limit > MaxRecentLimit {
		limit = MaxRecentLimit
	}

	rows, err := j.db.Query(ctx,
		`SELECT id, event_id, port, command, raw, state, changed, remote, version, created_at
		 FROM commands WHERE port = ? ORDER BY id DESC LIMIT ?`,
		port, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var (
			e       Entry
			changed int
			created int64
		)
		if err := rows.Scan(&e.ID, &e.EventID, &e.Port, &e.Command, &e.Raw, &e.State, &changed, &e.Remote, &e.Version, &created); err != nil {
			return nil, fmt.Errorf("failed to scan journal row: %w", err)
		}
		e.Changed = changed != 0
		e.CreatedAt = time.UnixMilli(created)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune deletes entries created before olderThan and returns how many were removed.
func (j *Journal) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := j.db.Exec(ctx, "DELETE FROM commands WHERE created_at < ?", olderThan.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to prune journal: %w", err)
	}
	return res.RowsAffected()
}

// Subscribe records every handled connection published on the bus.
func (j *Journal) Subscribe(eventBus *events.EventBus) {
	for _, t := range []events.EventType{events.EventCommandApplied, events.EventStateQueried, events.EventUnknownCommand} {
		eventBus.Subscribe(t, journalHandler, j.onCommand)
	}
}

// Unsubscribe stops recording.
func (j *Journal) Unsubscribe(eventBus *events.EventBus) {
	for _, t := range []events.EventType{events.EventCommandApplied, events.EventStateQueried, events.EventUnknownCommand} {
		eventBus.Unsubscribe(t, journalHandler)
	}
}

func (j *Journal) onCommand(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.CommandPayload)
	if !ok {
		return nil
	}
	return j.Record(ctx, EntryFromEvent(event, payload))
}

// EntryFromEvent converts a bus event into a journal entry.
func EntryFromEvent(event events.Event, p events.CommandPayload) Entry {
	return Entry{
		EventID:   event.ID,
		Port:      p.Port,
		Command:   p.Command.String(),
		Raw:       hex.EncodeToString(p.Raw),
		State:     p.State.String(),
		Changed:   p.Changed,
		Remote:    p.Remote,
		Version:   p.Version,
		CreatedAt: event.Time,
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
