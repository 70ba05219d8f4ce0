package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/dyezepchik/time-chart-bot/internal/model"
)

// sqlQuerier is satisfied by both *sql.DB and *sql.Tx.
type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLite is the embedded Repository. Dates are stored as YYYY-MM-DD text so
// that string comparison orders them chronologically.
type SQLite struct {
	sqliteStore
	db *sql.DB
}

// NewSQLite constructs an SQLite repository over db.
func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{sqliteStore: sqliteStore{q: db}, db: db}
}

// InTx runs fn inside one transaction. The connection is opened with
// _txlock=immediate, so the write lock is held from BEGIN.
func (r *SQLite) InTx(ctx context.Context, fn func(Store) error) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(&sqliteStore{q: tx}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type sqliteStore struct {
	q sqlQuerier
}

func sqliteErr(err error) error {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return fmt.Errorf("%w: %s", ErrConflict, se.Error())
		}
	}
	return err
}

func dateArg(d time.Time) string {
	return model.FormatDate(d)
}

func boolArg(b bool) int {
	if b {
		return 1
	}
	return 0
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func (s *sqliteStore) UpsertUser(ctx context.Context, u model.User) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO users (id, nick_name, first_name, last_name)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE
		 SET nick_name = excluded.nick_name,
		     first_name = excluded.first_name,
		     last_name = excluded.last_name`,
		u.ID, u.NickName, u.FirstName, u.LastName,
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (s *sqliteStore) GetUser(ctx context.Context, id int64) (*model.User, error) {
	var u model.User
	var group sql.NullInt64
	err := s.q.QueryRowContext(ctx,
		`SELECT id, nick_name, first_name, last_name, group_num FROM users WHERE id = ?`,
		id,
	).Scan(&u.ID, &u.NickName, &u.FirstName, &u.LastName, &group)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.GroupNum = nullInt(group)
	return &u, nil
}

func nullInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

func (s *sqliteStore) UpdateUserField(ctx context.Context, id int64, field model.UserField, value any) error {
	if !field.Valid() {
		return fmt.Errorf("update user: unknown field %q", field)
	}
	res, err := s.q.ExecContext(ctx,
		fmt.Sprintf(`UPDATE users SET %s = ? WHERE id = ?`, field),
		value, id,
	)
	if err != nil {
		return fmt.Errorf("update user %s: %w", field, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) ListUsersByGroup(ctx context.Context, group int) ([]model.User, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, nick_name, first_name, last_name, group_num
		 FROM users WHERE group_num = ?
		 ORDER BY last_name, first_name, id`,
		group,
	)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		var u model.User
		var g sql.NullInt64
		if err := rows.Scan(&u.ID, &u.NickName, &u.FirstName, &u.LastName, &g); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		u.GroupNum = nullInt(g)
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *sqliteStore) LatestGroup(ctx context.Context) (int, error) {
	var group sql.NullInt64
	if err := s.q.QueryRowContext(ctx, `SELECT MAX(group_num) FROM users`).Scan(&group); err != nil {
		return 0, fmt.Errorf("latest group: %w", err)
	}
	if !group.Valid {
		return 0, ErrNotFound
	}
	return int(group.Int64), nil
}

func (s *sqliteStore) InsertClasses(ctx context.Context, classes []model.Class) error {
	for _, c := range classes {
		_, err := s.q.ExecContext(ctx,
			`INSERT INTO classes (place, date, time, open) VALUES (?, ?, ?, ?)`,
			c.Place, dateArg(c.Date), c.Time, boolArg(c.Open),
		)
		if err != nil {
			return fmt.Errorf("insert class %s %s %s: %w", c.Place, model.FormatDate(c.Date), c.Time, sqliteErr(err))
		}
	}
	return nil
}

func (s *sqliteStore) OpenDates(ctx context.Context, after time.Time, place string) ([]model.DateAvailability, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT date, COUNT(*) FROM classes
		 WHERE date > ? AND place = ? AND open = 1
		 GROUP BY date
		 ORDER BY date`,
		dateArg(after), place,
	)
	if err != nil {
		return nil, fmt.Errorf("open dates: %w", err)
	}
	defer rows.Close()

	var out []model.DateAvailability
	for rows.Next() {
		var raw string
		var d model.DateAvailability
		if err := rows.Scan(&raw, &d.OpenSlots); err != nil {
			return nil, fmt.Errorf("scan open date: %w", err)
		}
		if d.Date, err = model.ParseDate(raw); err != nil {
			return nil, fmt.Errorf("scan open date: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *sqliteStore) OpenTimeSlots(ctx context.Context, date time.Time, place string) ([]string, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT time FROM classes
		 WHERE date = ? AND place = ? AND open = 1
		 ORDER BY time`,
		dateArg(date), place,
	)
	if err != nil {
		return nil, fmt.Errorf("open time slots: %w", err)
	}
	defer rows.Close()

	var slots []string
	for rows.Next() {
		var ts string
		if err := rows.Scan(&ts); err != nil {
			return nil, fmt.Errorf("scan time slot: %w", err)
		}
		slots = append(slots, ts)
	}
	return slots, rows.Err()
}

func (s *sqliteStore) ClassID(ctx context.Context, date time.Time, timeSlot, place string) (int64, error) {
	var id int64
	err := s.q.QueryRowContext(ctx,
		`SELECT id FROM classes WHERE date = ? AND time = ? AND place = ?`,
		dateArg(date), timeSlot, place,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("class id: %w", err)
	}
	return id, nil
}

// LockClass loads the class. SQLite has no row locks; the immediate
// transaction already excludes every other writer.
func (s *sqliteStore) LockClass(ctx context.Context, id int64) (*model.Class, error) {
	var c model.Class
	var raw string
	err := s.q.QueryRowContext(ctx,
		`SELECT id, place, date, time, open FROM classes WHERE id = ?`,
		id,
	).Scan(&c.ID, &c.Place, &raw, &c.Time, &c.Open)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lock class: %w", err)
	}
	if c.Date, err = model.ParseDate(raw); err != nil {
		return nil, fmt.Errorf("lock class: %w", err)
	}
	return &c, nil
}

func (s *sqliteStore) SetClassOpen(ctx context.Context, id int64, open bool) error {
	if _, err := s.q.ExecContext(ctx, `UPDATE classes SET open = ? WHERE id = ?`, boolArg(open), id); err != nil {
		return fmt.Errorf("set class state: %w", err)
	}
	return nil
}

func (s *sqliteStore) InsertSubscription(ctx context.Context, userID, classID int64) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO schedule (user_id, class_id) VALUES (?, ?)`,
		userID, classID,
	)
	if err != nil {
		return fmt.Errorf("insert subscription: %w", sqliteErr(err))
	}
	return nil
}

func (s *sqliteStore) DeleteSubscription(ctx context.Context, userID, classID int64) (int64, error) {
	res, err := s.q.ExecContext(ctx,
		`DELETE FROM schedule WHERE user_id = ? AND class_id = ?`,
		userID, classID,
	)
	if err != nil {
		return 0, fmt.Errorf("delete subscription: %w", err)
	}
	return res.RowsAffected()
}

func (s *sqliteStore) SubscriptionCount(ctx context.Context, classID int64) (int, error) {
	var n int
	if err := s.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM schedule WHERE class_id = ?`,
		classID,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("count subscriptions: %w", err)
	}
	return n, nil
}

func (s *sqliteStore) UserSubscriptions(ctx context.Context, userID int64, from time.Time) ([]model.Slot, error) {
	return s.querySlots(ctx,
		`SELECT cl.place, cl.date, cl.time FROM schedule sch
		 JOIN classes cl ON sch.class_id = cl.id
		 WHERE sch.user_id = ? AND cl.date >= ?
		 ORDER BY cl.date, cl.time, cl.place`,
		userID, dateArg(from),
	)
}

func (s *sqliteStore) UserSubscriptionsForDate(ctx context.Context, userID int64, date time.Time) ([]model.Slot, error) {
	return s.querySlots(ctx,
		`SELECT cl.place, cl.date, cl.time FROM schedule sch
		 JOIN classes cl ON sch.class_id = cl.id
		 WHERE sch.user_id = ? AND cl.date = ?
		 ORDER BY cl.time, cl.place`,
		userID, dateArg(date),
	)
}

func (s *sqliteStore) querySlots(ctx context.Context, query string, args ...any) ([]model.Slot, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("user subscriptions: %w", err)
	}
	defer rows.Close()

	var slots []model.Slot
	for rows.Next() {
		var sl model.Slot
		var raw string
		if err := rows.Scan(&sl.Place, &raw, &sl.Time); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		if sl.Date, err = model.ParseDate(raw); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		slots = append(slots, sl)
	}
	return slots, rows.Err()
}

func (s *sqliteStore) ClassIDsForDate(ctx context.Context, date time.Time, places []string) ([]int64, error) {
	if len(places) == 0 {
		return nil, nil
	}
	args := []any{dateArg(date)}
	for _, p := range places {
		args = append(args, p)
	}
	return s.queryIDs(ctx,
		`SELECT id FROM classes WHERE date = ? AND place IN (`+placeholders(len(places))+`) ORDER BY id`,
		args...,
	)
}

func (s *sqliteStore) ClassIDsForDateTime(ctx context.Context, date time.Time, timeSlot string, places []string) ([]int64, error) {
	if len(places) == 0 {
		return nil, nil
	}
	args := []any{dateArg(date), timeSlot}
	for _, p := range places {
		args = append(args, p)
	}
	return s.queryIDs(ctx,
		`SELECT id FROM classes WHERE date = ? AND time = ? AND place IN (`+placeholders(len(places))+`) ORDER BY id`,
		args...,
	)
}

func (s *sqliteStore) queryIDs(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("class ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan class id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func idArgs(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

func (s *sqliteStore) DeleteSubscriptionsForClasses(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := s.q.ExecContext(ctx,
		`DELETE FROM schedule WHERE class_id IN (`+placeholders(len(ids))+`)`,
		idArgs(ids)...,
	)
	if err != nil {
		return 0, fmt.Errorf("delete subscriptions: %w", err)
	}
	return res.RowsAffected()
}

func (s *sqliteStore) DeleteClasses(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := s.q.ExecContext(ctx,
		`DELETE FROM classes WHERE id IN (`+placeholders(len(ids))+`)`,
		idArgs(ids)...,
	)
	if err != nil {
		return 0, fmt.Errorf("delete classes: %w", err)
	}
	return res.RowsAffected()
}

func (s *sqliteStore) ListSchedule(ctx context.Context, from time.Time) ([]model.ScheduleEntry, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT cl.place, cl.date, cl.time, us.id, us.nick_name, us.first_name, us.last_name, us.group_num
		 FROM classes cl
		 JOIN schedule sch ON cl.id = sch.class_id
		 JOIN users us ON us.id = sch.user_id
		 WHERE cl.date >= ?
		 ORDER BY cl.date, cl.place, cl.time, us.last_name`,
		dateArg(from),
	)
	if err != nil {
		return nil, fmt.Errorf("list schedule: %w", err)
	}
	defer rows.Close()

	var out []model.ScheduleEntry
	for rows.Next() {
		var e model.ScheduleEntry
		var raw string
		var g sql.NullInt64
		if err := rows.Scan(&e.Place, &raw, &e.Time, &e.UserID, &e.NickName, &e.FirstName, &e.LastName, &g); err != nil {
			return nil, fmt.Errorf("scan schedule entry: %w", err)
		}
		if e.Date, err = model.ParseDate(raw); err != nil {
			return nil, fmt.Errorf("scan schedule entry: %w", err)
		}
		e.GroupNum = nullInt(g)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) GetSetting(ctx context.Context, key string) (string, error) {
	var v string
	err := s.q.QueryRowContext(ctx, `SELECT value FROM settings WHERE param = ?`, key).Scan(&v)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get setting: %w", err)
	}
	return v, nil
}

func (s *sqliteStore) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO settings (param, value) VALUES (?, ?)
		 ON CONFLICT (param) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("set setting: %w", err)
	}
	return nil
}

// Compile-time checks that both backends satisfy Repository.
var (
	_ Repository = (*SQLite)(nil)
	_ Repository = (*Postgres)(nil)
)
