package action

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// timeLayout is RFC3339 with fixed millisecond precision. time.RFC3339
// parses it back.
const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// Repository persists actions.
type Repository interface {
	// Create inserts a PENDING action. It returns ErrDeviceBusy when the
	// device already has a non-terminal action.
	Create(ctx context.Context, a *Action) error

	// GetByID returns ErrActionNotFound if the action does not exist.
	GetByID(ctx context.Context, id string) (*Action, error)

	// ListByDevice returns a device's actions in creation order.
	ListByDevice(ctx context.Context, deviceID string) ([]Action, error)

	// ListByStatus returns actions in any of the given statuses, oldest first.
	ListByStatus(ctx context.Context, statuses ...Status) ([]Action, error)

	// Update writes a's mutable fields only if the stored status is still
	// from. It returns ErrInvalidTransition when another writer got there
	// first and ErrActionNotFound when the action does not exist.
	Update(ctx context.Context, from Status, a *Action) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository on an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const selectAction = `
	SELECT id, device_id, type, params, status, result, failure_reason,
		created_at, started_at, completed_at, updated_at, deadline
	FROM actions`

// Create inserts a new action.
func (r *SQLiteRepository) Create(ctx context.Context, a *Action) error {
	params, err := marshalParams(a.Params)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO actions (id, device_id, type, params, status, result, failure_reason,
			created_at, started_at, completed_at, updated_at, deadline)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID,
		a.DeviceID,
		string(a.Type),
		params,
		string(a.Status),
		a.Result,
		string(a.FailureReason),
		formatTime(a.CreatedAt),
		nullableTime(a.StartedAt),
		nullableTime(a.CompletedAt),
		formatTime(a.UpdatedAt),
		nullableTime(a.Deadline),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			// Either the primary key or the one-active-action index. IDs are
			// random UUIDs, so the index is the realistic cause.
			if strings.Contains(err.Error(), "actions.device_id") {
				return ErrDeviceBusy
			}
			return fmt.Errorf("inserting action: duplicate id %s: %w", a.ID, err)
		}
		return fmt.Errorf("inserting action: %w", err)
	}
	return nil
}

// GetByID retrieves an action by its identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Action, error) {
	a, err := scanAction(r.db.QueryRowContext(ctx, selectAction+" WHERE id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrActionNotFound
		}
		return nil, fmt.Errorf("querying action by id: %w", err)
	}
	return a, nil
}

// ListByDevice returns a device's actions in creation order.
func (r *SQLiteRepository) ListByDevice(ctx context.Context, deviceID string) ([]Action, error) {
	return r.query(ctx, selectAction+" WHERE device_id = ? ORDER BY rowid", deviceID)
}

// ListByStatus returns actions in any of the given statuses.
func (r *SQLiteRepository) ListByStatus(ctx context.Context, statuses ...Status) ([]Action, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",")
	args := make([]any, len(statuses))
	for i, s := range statuses {
		args[i] = string(s)
	}
	return r.query(ctx, selectAction+" WHERE status IN ("+placeholders+") ORDER BY rowid", args...)
}

// Update performs a compare-and-set on status.
func (r *SQLiteRepository) Update(ctx context.Context, from Status, a *Action) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE actions
		SET status = ?, result = ?, failure_reason = ?, started_at = ?,
			completed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(a.Status),
		a.Result,
		string(a.FailureReason),
		nullableTime(a.StartedAt),
		nullableTime(a.CompletedAt),
		formatTime(a.UpdatedAt),
		a.ID,
		string(from),
	)
	if err != nil {
		return fmt.Errorf("updating action: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}

	current, err := r.GetByID(ctx, a.ID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s is %s, not %s", ErrInvalidTransition, a.ID, current.Status, from)
}

func (r *SQLiteRepository) query(ctx context.Context, query string, args ...any) ([]Action, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying actions: %w", err)
	}
	defer rows.Close()

	var actions []Action
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning action: %w", err)
		}
		actions = append(actions, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating actions: %w", err)
	}
	return actions, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAction(scanner rowScanner) (*Action, error) {
	var a Action
	var typ, params, status, reason, createdAt, updatedAt string
	var startedAt, completedAt, deadline sql.NullString

	err := scanner.Scan(
		&a.ID, &a.DeviceID, &typ, &params, &status, &a.Result, &reason,
		&createdAt, &startedAt, &completedAt, &updatedAt, &deadline,
	)
	if err != nil {
		return nil, err
	}

	a.Type = Type(typ)
	a.Status = Status(status)
	a.FailureReason = FailureReason(reason)

	if params != "" && params != "{}" && params != "null" {
		if err := json.Unmarshal([]byte(params), &a.Params); err != nil {
			return nil, fmt.Errorf("unmarshalling params: %w", err)
		}
	}

	if a.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if a.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	a.StartedAt = parseNullableTime(startedAt)
	a.CompletedAt = parseNullableTime(completedAt)
	a.Deadline = parseNullableTime(deadline)

	return &a, nil
}

func marshalParams(p Params) (string, error) {
	if len(p) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshalling params: %w", err)
	}
	return string(b), nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullableTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "PRIMARY KEY constraint failed")
}
