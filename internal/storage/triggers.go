package storage

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

const triggerColumns = `id, user_id, title, body, kind, hour, minute, fire_at, status, attempts, max_attempts, last_error, created_at`

func scanTrigger(row rowScanner) (Trigger, error) {
	var t Trigger
	var fireAt, createdAt string
	var lastError sql.NullString
	if err := row.Scan(&t.ID, &t.UserID, &t.Title, &t.Body, &t.Kind, &t.Hour, &t.Minute,
		&fireAt, &t.Status, &t.Attempts, &t.MaxAttempts, &lastError, &createdAt); err != nil {
		return Trigger{}, err
	}
	t.LastError = lastError.String
	var err error
	if t.FireAt, err = parseTS(fireAt); err != nil {
		return Trigger{}, fmt.Errorf("parsing fire_at for trigger %s: %w", t.ID, err)
	}
	if t.CreatedAt, err = parseTS(createdAt); err != nil {
		return Trigger{}, fmt.Errorf("parsing created_at for trigger %s: %w", t.ID, err)
	}
	return t, nil
}

// CreateTrigger registers a pending notification and returns it with its id.
func (s *Store) CreateTrigger(ctx context.Context, t Trigger) (Trigger, error) {
	t.ID = uuid.New().String()
	t.Status = TriggerPending
	t.CreatedAt = time.Now().UTC()
	if t.MaxAttempts == 0 {
		t.MaxAttempts = 3
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO triggers (`+triggerColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, NULL, ?)`,
		t.ID, t.UserID, t.Title, t.Body, t.Kind, t.Hour, t.Minute,
		formatTS(t.FireAt), t.Status, t.MaxAttempts, formatTS(t.CreatedAt),
	)
	if err != nil {
		return Trigger{}, fmt.Errorf("inserting trigger: %w", err)
	}
	return t, nil
}

// GetTrigger returns a trigger by id.
func (s *Store) GetTrigger(ctx context.Context, id string) (Trigger, error) {
	t, err := scanTrigger(s.db.QueryRowContext(ctx, `SELECT `+triggerColumns+` FROM triggers WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return Trigger{}, ErrNotFound
	}
	return t, err
}

// ListTriggers returns the user's triggers that have not been cancelled, by next fire time.
func (s *Store) ListTriggers(ctx context.Context, userID string) ([]Trigger, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+triggerColumns+`
		FROM triggers WHERE user_id = ? AND status != 'cancelled' ORDER BY fire_at ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Trigger
	for rows.Next() {
		t, err := scanTrigger(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, t)
	}
	return results, rows.Err()
}

// CancelTrigger marks the user's trigger cancelled. Unknown ids are not an error.
func (s *Store) CancelTrigger(ctx context.Context, userID, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE triggers SET status = 'cancelled' WHERE user_id = ? AND id = ?`, userID, id)
	if err != nil {
		return fmt.Errorf("cancelling trigger %s: %w", id, err)
	}
	return nil
}

// ClaimDueTriggers atomically moves up to limit pending triggers whose fire time
// is at or before now into the delivering state and returns them.
func (s *Store) ClaimDueTriggers(ctx context.Context, now time.Time, limit int) ([]Trigger, error) {
	if limit <= 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT `+triggerColumns+`
		FROM triggers
		WHERE status = 'pending' AND fire_at <= ?
		ORDER BY fire_at ASC, created_at ASC
		LIMIT ?`, formatTS(now), limit)
	if err != nil {
		return nil, fmt.Errorf("selecting due triggers: %w", err)
	}
	var due []Trigger
	for rows.Next() {
		t, err := scanTrigger(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		due = append(due, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	claimed := due[:0]
	for _, t := range due {
		res, err := tx.ExecContext(ctx, `UPDATE triggers SET status = 'delivering' WHERE id = ? AND status = 'pending'`, t.ID)
		if err != nil {
			return nil, fmt.Errorf("updating trigger status: %w", err)
		}
		if n, _ := res.RowsAffected(); n != 1 {
			continue
		}
		t.Status = TriggerDelivering
		claimed = append(claimed, t)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}
	return claimed, nil
}

// CompleteTrigger finishes a delivery. A non-nil next re-arms the trigger
// (daily repeat); otherwise it is marked fired.
func (s *Store) CompleteTrigger(ctx context.Context, id string, next *time.Time) error {
	var res sql.Result
	var err error
	if next != nil {
		// A concurrent cancel wins over re-arming.
		res, err = s.db.ExecContext(ctx, `UPDATE triggers SET status = 'pending', fire_at = ?, attempts = 0, last_error = NULL
			WHERE id = ? AND status = 'delivering'`, formatTS(*next), id)
	} else {
		res, err = s.db.ExecContext(ctx, `UPDATE triggers SET status = 'fired' WHERE id = ? AND status = 'delivering'`, id)
	}
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM triggers WHERE id = ?`, id).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return ErrNotFound
		}
	}
	return nil
}

// FailTrigger records a delivery failure, retrying with exponential backoff
// until max attempts is reached.
func (s *Store) FailTrigger(ctx context.Context, id string, errMsg string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning fail transaction: %w", err)
	}
	defer tx.Rollback()

	var attempts, maxAttempts int
	var status string
	err = tx.QueryRowContext(ctx, `SELECT attempts, max_attempts, status FROM triggers WHERE id = ?`, id).Scan(&attempts, &maxAttempts, &status)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if status == TriggerCancelled {
		return nil
	}

	attempts++
	if attempts >= maxAttempts {
		_, err = tx.ExecContext(ctx, `UPDATE triggers SET status = 'failed', attempts = ?, last_error = ? WHERE id = ?`,
			attempts, errMsg, id)
	} else {
		backoff := time.Duration(math.Pow(2, float64(attempts))) * time.Second
		_, err = tx.ExecContext(ctx, `UPDATE triggers SET status = 'pending', attempts = ?, last_error = ?, fire_at = ? WHERE id = ?`,
			attempts, errMsg, formatTS(time.Now().Add(backoff)), id)
	}
	if err != nil {
		return err
	}
	return tx.Commit()
}

// --- Deliveries ---

// SaveDelivery appends a delivered notification to the user's inbox.
func (s *Store) SaveDelivery(ctx context.Context, d Delivery) (Delivery, error) {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.DeliveredAt.IsZero() {
		d.DeliveredAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO deliveries (id, trigger_id, user_id, title, body, delivered_at) VALUES (?, ?, ?, ?, ?, ?)`,
		d.ID, d.TriggerID, d.UserID, d.Title, d.Body, formatTS(d.DeliveredAt),
	)
	if err != nil {
		return Delivery{}, fmt.Errorf("inserting delivery: %w", err)
	}
	return d, nil
}

// ListDeliveries returns the user's most recent deliveries, newest first.
func (s *Store) ListDeliveries(ctx context.Context, userID string, limit int) ([]Delivery, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, trigger_id, title, body, delivered_at
		FROM deliveries WHERE user_id = ? ORDER BY delivered_at DESC, rowid DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []Delivery{}
	for rows.Next() {
		d := Delivery{UserID: userID}
		var deliveredAt string
		if err := rows.Scan(&d.ID, &d.TriggerID, &d.Title, &d.Body, &deliveredAt); err != nil {
			return nil, err
		}
		t, err := parseTS(deliveredAt)
		if err != nil {
			return nil, fmt.Errorf("parsing delivered_at: %w", err)
		}
		d.DeliveredAt = t
		results = append(results, d)
	}
	return results, rows.Err()
}

// --- Notification permissions ---

// GetPermission returns the stored permission for the user. ErrNotFound means
// the user has never been asked.
func (s *Store) GetPermission(ctx context.Context, userID string) (bool, error) {
	var granted int
	err := s.db.QueryRowContext(ctx, `SELECT granted FROM notification_permissions WHERE user_id = ?`, userID).Scan(&granted)
	if err == sql.ErrNoRows {
		return false, ErrNotFound
	}
	if err != nil {
		return false, err
	}
	return granted != 0, nil
}

// SetPermission stores the user's notification permission.
func (s *Store) SetPermission(ctx context.Context, userID string, granted bool) error {
	g := 0
	if granted {
		g = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notification_permissions (user_id, granted, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET granted = excluded.granted, updated_at = excluded.updated_at`,
		userID, g, formatTS(time.Now()),
	)
	return err
}
