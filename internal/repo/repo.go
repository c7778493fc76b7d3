package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"taskreminder/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

// ErrNotFound aliases domain.ErrNotFound so scheduler and HTTP layers can
// match it without importing repo.
var ErrNotFound = domain.ErrNotFound

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r Repo) q(tx *sql.Tx) querier {
	if tx != nil {
		return tx
	}
	return r.DB
}

const taskColumns = `id,title,description,completed,alarm_enabled,alarm_mode,alarm_hours,alarm_minutes,alarm_seconds,alarm_timestamp,alarm_start_time,alarm_target_timestamp,alarm_duration,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (domain.Task, error) {
	var t domain.Task
	var description, mode sql.NullString
	var timestamp, start, target, duration sql.NullInt64
	err := row.Scan(&t.ID, &t.Title, &description, &t.Completed,
		&t.Alarm.Enabled, &mode, &t.Alarm.Hours, &t.Alarm.Minutes, &t.Alarm.Seconds, &timestamp,
		&start, &target, &duration, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if description.Valid {
		t.Description = description.String
	}
	t.Alarm.Mode = domain.AlarmModeDuration
	if mode.Valid && mode.String != "" {
		t.Alarm.Mode = domain.AlarmMode(mode.String)
	}
	if timestamp.Valid {
		t.Alarm.Timestamp = timestamp.Int64
	}
	t.AlarmStartTime = int64Ptr(start)
	t.AlarmTargetTimestamp = int64Ptr(target)
	t.AlarmDuration = int64Ptr(duration)
	return t, nil
}

// InsertTask appends a task after every existing one.
func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO tasks(`+taskColumns+`,position)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,(SELECT COALESCE(MAX(position),0)+1 FROM tasks))`,
		t.ID, t.Title, nullable(t.Description), t.Completed,
		t.Alarm.Enabled, alarmMode(t.Alarm), t.Alarm.Hours, t.Alarm.Minutes, t.Alarm.Seconds, nullableTimestamp(t.Alarm),
		nullableInt64Ptr(t.AlarmStartTime), nullableInt64Ptr(t.AlarmTargetTimestamp), nullableInt64Ptr(t.AlarmDuration),
		t.CreatedAt, t.UpdatedAt)
	return err
}

// UpdateTask rewrites every mutable column of t.
func (r Repo) UpdateTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE tasks SET title=?, description=?, completed=?, alarm_enabled=?, alarm_mode=?, alarm_hours=?, alarm_minutes=?, alarm_seconds=?, alarm_timestamp=?, alarm_start_time=?, alarm_target_timestamp=?, alarm_duration=?, updated_at=? WHERE id=?`,
		t.Title, nullable(t.Description), t.Completed,
		t.Alarm.Enabled, alarmMode(t.Alarm), t.Alarm.Hours, t.Alarm.Minutes, t.Alarm.Seconds, nullableTimestamp(t.Alarm),
		nullableInt64Ptr(t.AlarmStartTime), nullableInt64Ptr(t.AlarmTargetTimestamp), nullableInt64Ptr(t.AlarmDuration),
		t.UpdatedAt, t.ID)
	return affectedOne(res, err)
}

// SaveAlarm persists only the alarm configuration and timing fields.
func (r Repo) SaveAlarm(ctx context.Context, t domain.Task) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE tasks SET alarm_enabled=?, alarm_mode=?, alarm_hours=?, alarm_minutes=?, alarm_seconds=?, alarm_timestamp=?, alarm_start_time=?, alarm_target_timestamp=?, alarm_duration=? WHERE id=?`,
		t.Alarm.Enabled, alarmMode(t.Alarm), t.Alarm.Hours, t.Alarm.Minutes, t.Alarm.Seconds, nullableTimestamp(t.Alarm),
		nullableInt64Ptr(t.AlarmStartTime), nullableInt64Ptr(t.AlarmTargetTimestamp), nullableInt64Ptr(t.AlarmDuration),
		t.ID)
	return affectedOne(res, err)
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return r.GetTaskTx(ctx, nil, id)
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	return scanTask(r.q(tx).QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
}

type TaskFilters struct {
	Completed    *bool
	AlarmEnabled bool
	Limit        int
}

// ListTasks returns tasks in insertion order.
func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.Completed != nil {
		clauses = append(clauses, "completed=?")
		args = append(args, *f.Completed)
	}
	if f.AlarmEnabled {
		clauses = append(clauses, "alarm_enabled=1")
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + taskColumns + ` FROM tasks ` + where + ` ORDER BY position ASC, created_at ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) DeleteTask(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	return affectedOne(res, err)
}

// DeleteAllTasks removes every task and returns how many were deleted.
func (r Repo) DeleteAllTasks(ctx context.Context, tx *sql.Tx) (int64, error) {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM tasks`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountTasks returns total, completed and alarm-enabled task counts.
func (r Repo) CountTasks(ctx context.Context) (total, completed, withAlarm int, err error) {
	err = r.DB.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(completed),0), COALESCE(SUM(alarm_enabled),0) FROM tasks`).
		Scan(&total, &completed, &withAlarm)
	return total, completed, withAlarm, err
}

type EventFilters struct {
	Type       string
	EntityKind string
	EntityID   string
	// Before pages backwards from an event id.
	Before int64
	Limit  int
}

// LatestEvents returns events newest first.
func (r Repo) LatestEvents(ctx context.Context, f EventFilters) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.EntityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, f.EntityKind)
	}
	if f.EntityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, f.EntityID)
	}
	if f.Before > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.Before)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT id,ts,type,entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events WHERE %s ORDER BY id DESC LIMIT ?`, strings.Join(clauses, " AND "))
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.queryEvents(ctx, `SELECT id,ts,type,entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events WHERE id>? ORDER BY id ASC LIMIT ?`, cursor, limit)
}

// LatestEventID returns the most recent event ID.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	if err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func affectedOne(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func alarmMode(a domain.Alarm) string {
	if a.Mode == "" {
		return string(domain.AlarmModeDuration)
	}
	return string(a.Mode)
}

func nullableTimestamp(a domain.Alarm) any {
	if a.Timestamp == 0 {
		return nil
	}
	return a.Timestamp
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableInt64Ptr(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}
