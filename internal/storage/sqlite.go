package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/maphy9/mind-flow/internal/plan"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// tsLayout is fixed-width UTC so timestamps compare correctly as text.
const tsLayout = "2006-01-02T15:04:05.000Z07:00"

func formatTS(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func parseTS(s string) (time.Time, error) {
	return time.Parse(tsLayout, s)
}

// Store is the document store for reminders, chat state and notifications.
type Store struct {
	db *sql.DB

	mu      sync.Mutex
	subs    map[string]map[int]chan Change
	nextSub int
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "mindflow.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// A single connection avoids "database is locked" and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db, subs: make(map[string]map[int]chan Change)}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection and all change subscriptions.
func (s *Store) Close() error {
	s.mu.Lock()
	for user, m := range s.subs {
		for id, ch := range m {
			close(ch)
			delete(m, id)
		}
		delete(s.subs, user)
	}
	s.mu.Unlock()
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate applies embedded SQL migrations that haven't been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Reminders ---

const reminderColumns = `id, user_id, title, raw_time, schedule_type, hour, minute, when_ms, enabled, notification_ids, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReminder(row rowScanner) (Reminder, error) {
	var r Reminder
	var hour, minute, when sql.NullInt64
	var enabled int
	var ids, createdAt string
	if err := row.Scan(&r.ID, &r.UserID, &r.Title, &r.RawTime, &r.ScheduleType,
		&hour, &minute, &when, &enabled, &ids, &createdAt); err != nil {
		return Reminder{}, err
	}
	if hour.Valid {
		h := int(hour.Int64)
		r.Hour = &h
	}
	if minute.Valid {
		m := int(minute.Int64)
		r.Minute = &m
	}
	if when.Valid {
		w := when.Int64
		r.When = &w
	}
	r.Enabled = enabled != 0
	if err := json.Unmarshal([]byte(ids), &r.NotificationIDs); err != nil {
		return Reminder{}, fmt.Errorf("decoding notification_ids for %s: %w", r.ID, err)
	}
	if r.NotificationIDs == nil {
		r.NotificationIDs = []string{}
	}
	t, err := parseTS(createdAt)
	if err != nil {
		return Reminder{}, fmt.Errorf("parsing created_at: %w", err)
	}
	r.CreatedAt = t
	return r, nil
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func nullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func encodeIDs(ids []string) (string, error) {
	if ids == nil {
		ids = []string{}
	}
	b, err := json.Marshal(ids)
	return string(b), err
}

// CreateReminder inserts r with a server-assigned id and creation time.
func (s *Store) CreateReminder(ctx context.Context, r Reminder) (Reminder, error) {
	r.ID = uuid.New().String()
	r.CreatedAt = time.Now().UTC()
	if r.NotificationIDs == nil {
		r.NotificationIDs = []string{}
	}
	ids, err := encodeIDs(r.NotificationIDs)
	if err != nil {
		return Reminder{}, err
	}
	enabled := 0
	if r.Enabled {
		enabled = 1
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO reminders (`+reminderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.UserID, r.Title, r.RawTime, r.ScheduleType,
		nullInt(r.Hour), nullInt(r.Minute), nullInt64(r.When), enabled, ids, formatTS(r.CreatedAt),
	)
	if err != nil {
		return Reminder{}, fmt.Errorf("inserting reminder: %w", err)
	}
	s.publish(r.UserID, Change{Collection: CollectionReminders, Op: OpCreated, ID: r.ID})
	return r, nil
}

// GetReminder returns the user's reminder with the given id.
func (s *Store) GetReminder(ctx context.Context, userID, id string) (Reminder, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+reminderColumns+` FROM reminders WHERE user_id = ? AND id = ?`, userID, id)
	r, err := scanReminder(row)
	if err == sql.ErrNoRows {
		return Reminder{}, ErrNotFound
	}
	return r, err
}

// ListReminders returns the user's reminders, oldest first.
func (s *Store) ListReminders(ctx context.Context, userID string) ([]Reminder, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+reminderColumns+`
		FROM reminders WHERE user_id = ? ORDER BY created_at ASC, rowid ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []Reminder{}
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// UpdateReminderState merges the enabled flag and notification ids into an existing reminder.
func (s *Store) UpdateReminderState(ctx context.Context, userID, id string, enabled bool, notificationIDs []string) error {
	ids, err := encodeIDs(notificationIDs)
	if err != nil {
		return err
	}
	e := 0
	if enabled {
		e = 1
	}
	res, err := s.db.ExecContext(ctx, `UPDATE reminders SET enabled = ?, notification_ids = ? WHERE user_id = ? AND id = ?`,
		e, ids, userID, id)
	if err != nil {
		return fmt.Errorf("updating reminder %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	s.publish(userID, Change{Collection: CollectionReminders, Op: OpUpdated, ID: id})
	return nil
}

// DeleteReminder removes the user's reminder.
func (s *Store) DeleteReminder(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM reminders WHERE user_id = ? AND id = ?`, userID, id)
	if err != nil {
		return fmt.Errorf("deleting reminder %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	s.publish(userID, Change{Collection: CollectionReminders, Op: OpDeleted, ID: id})
	return nil
}

// --- Suggestions ---

// SaveSuggestion overwrites the checklist document for a message.
func (s *Store) SaveSuggestion(ctx context.Context, sg Suggestion) error {
	actions := sg.Actions
	if actions == nil {
		actions = []plan.ActionItem{}
	}
	b, err := json.Marshal(actions)
	if err != nil {
		return fmt.Errorf("encoding actions: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO suggestions (user_id, message_id, actions_json, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, message_id) DO UPDATE SET actions_json = excluded.actions_json, updated_at = excluded.updated_at`,
		sg.UserID, sg.MessageID, string(b), formatTS(time.Now()),
	)
	return err
}

// GetSuggestion returns the checklist document for a message.
func (s *Store) GetSuggestion(ctx context.Context, userID, messageID string) (Suggestion, error) {
	var raw, updatedAt string
	err := s.db.QueryRowContext(ctx, `SELECT actions_json, updated_at FROM suggestions WHERE user_id = ? AND message_id = ?`,
		userID, messageID).Scan(&raw, &updatedAt)
	if err == sql.ErrNoRows {
		return Suggestion{}, ErrNotFound
	}
	if err != nil {
		return Suggestion{}, err
	}
	return decodeSuggestion(userID, messageID, raw, updatedAt)
}

// ListSuggestions returns all checklist documents of a user keyed by message id.
func (s *Store) ListSuggestions(ctx context.Context, userID string) (map[string]Suggestion, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT message_id, actions_json, updated_at FROM suggestions WHERE user_id = ?`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]Suggestion)
	for rows.Next() {
		var messageID, raw, updatedAt string
		if err := rows.Scan(&messageID, &raw, &updatedAt); err != nil {
			return nil, err
		}
		sg, err := decodeSuggestion(userID, messageID, raw, updatedAt)
		if err != nil {
			return nil, err
		}
		result[messageID] = sg
	}
	return result, rows.Err()
}

// DeleteSuggestion removes the checklist document. Deleting a missing document is not an error.
func (s *Store) DeleteSuggestion(ctx context.Context, userID, messageID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM suggestions WHERE user_id = ? AND message_id = ?`, userID, messageID)
	return err
}

func decodeSuggestion(userID, messageID, raw, updatedAt string) (Suggestion, error) {
	sg := Suggestion{UserID: userID, MessageID: messageID}
	if err := json.Unmarshal([]byte(raw), &sg.Actions); err != nil {
		return Suggestion{}, fmt.Errorf("decoding suggestion %s: %w", messageID, err)
	}
	t, err := parseTS(updatedAt)
	if err != nil {
		return Suggestion{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	sg.UpdatedAt = t
	return sg, nil
}

// --- Chat messages ---

// AppendMessage stores a conversation turn, assigning id and timestamp when empty.
func (s *Store) AppendMessage(ctx context.Context, m ChatMessage) (ChatMessage, error) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, user_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.UserID, m.Role, m.Content, formatTS(m.CreatedAt),
	)
	if err != nil {
		return ChatMessage{}, fmt.Errorf("inserting message: %w", err)
	}
	return m, nil
}

// ListMessages returns the user's conversation in insertion order.
func (s *Store) ListMessages(ctx context.Context, userID string) ([]ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, role, content, created_at FROM messages WHERE user_id = ? ORDER BY seq ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []ChatMessage
	for rows.Next() {
		m := ChatMessage{UserID: userID}
		var createdAt string
		if err := rows.Scan(&m.ID, &m.Role, &m.Content, &createdAt); err != nil {
			return nil, err
		}
		t, err := parseTS(createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		m.CreatedAt = t
		results = append(results, m)
	}
	return results, rows.Err()
}
