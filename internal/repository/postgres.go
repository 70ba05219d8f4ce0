package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dyezepchik/time-chart-bot/internal/model"
)

const pgUniqueViolation = "23505"

// pgQuerier is satisfied by both *pgxpool.Pool and pgx.Tx.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Postgres is the PostgreSQL Repository.
type Postgres struct {
	pgStore
	pool *pgxpool.Pool
}

// NewPostgres constructs a Postgres repository over pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pgStore: pgStore{q: pool}, pool: pool}
}

// InTx runs fn inside a read-committed transaction.
func (r *Postgres) InTx(ctx context.Context, fn func(Store) error) (err error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = fn(&pgStore{q: tx}); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type pgStore struct {
	q pgQuerier
}

func pgErr(err error) error {
	var pe *pgconn.PgError
	if errors.As(err, &pe) && pe.Code == pgUniqueViolation {
		return fmt.Errorf("%w: %s", ErrConflict, pe.Detail)
	}
	return err
}

// UpsertUser inserts the user or refreshes the names of an existing one.
func (s *pgStore) UpsertUser(ctx context.Context, u model.User) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO users (id, nick_name, first_name, last_name)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE
		 SET nick_name = EXCLUDED.nick_name,
		     first_name = EXCLUDED.first_name,
		     last_name = EXCLUDED.last_name`,
		u.ID, u.NickName, u.FirstName, u.LastName,
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// GetUser returns a single user or ErrNotFound.
func (s *pgStore) GetUser(ctx context.Context, id int64) (*model.User, error) {
	var u model.User
	err := s.q.QueryRow(ctx,
		`SELECT id, nick_name, first_name, last_name, group_num FROM users WHERE id = $1`,
		id,
	).Scan(&u.ID, &u.NickName, &u.FirstName, &u.LastName, &u.GroupNum)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// UpdateUserField sets one profile column.
func (s *pgStore) UpdateUserField(ctx context.Context, id int64, field model.UserField, value any) error {
	if !field.Valid() {
		return fmt.Errorf("update user: unknown field %q", field)
	}
	tag, err := s.q.Exec(ctx,
		fmt.Sprintf(`UPDATE users SET %s = $1 WHERE id = $2`, field),
		value, id,
	)
	if err != nil {
		return fmt.Errorf("update user %s: %w", field, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListUsersByGroup returns the users of one group ordered by last name.
func (s *pgStore) ListUsersByGroup(ctx context.Context, group int) ([]model.User, error) {
	rows, err := s.q.Query(ctx,
		`SELECT id, nick_name, first_name, last_name, group_num
		 FROM users WHERE group_num = $1
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
		if err := rows.Scan(&u.ID, &u.NickName, &u.FirstName, &u.LastName, &u.GroupNum); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// LatestGroup returns the highest group number on record.
func (s *pgStore) LatestGroup(ctx context.Context) (int, error) {
	var group *int
	if err := s.q.QueryRow(ctx, `SELECT MAX(group_num) FROM users`).Scan(&group); err != nil {
		return 0, fmt.Errorf("latest group: %w", err)
	}
	if group == nil {
		return 0, ErrNotFound
	}
	return *group, nil
}

// InsertClasses adds calendar cells in one round trip. A taken cell fails
// the whole batch with ErrConflict.
func (s *pgStore) InsertClasses(ctx context.Context, classes []model.Class) error {
	if len(classes) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, c := range classes {
		batch.Queue(
			`INSERT INTO classes (place, date, time, open) VALUES ($1, $2, $3, $4)`,
			c.Place, c.Date, c.Time, c.Open,
		)
	}
	br := s.q.SendBatch(ctx, batch)
	for _, c := range classes {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("insert class %s %s %s: %w", c.Place, model.FormatDate(c.Date), c.Time, pgErr(err))
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("insert classes: %w", pgErr(err))
	}
	return nil
}

// OpenDates lists dates after the given one that still have open classes.
func (s *pgStore) OpenDates(ctx context.Context, after time.Time, place string) ([]model.DateAvailability, error) {
	rows, err := s.q.Query(ctx,
		`SELECT date, COUNT(*) FROM classes
		 WHERE date > $1 AND place = $2 AND open IS TRUE
		 GROUP BY date
		 ORDER BY date`,
		after, place,
	)
	if err != nil {
		return nil, fmt.Errorf("open dates: %w", err)
	}
	defer rows.Close()

	var out []model.DateAvailability
	for rows.Next() {
		var d model.DateAvailability
		if err := rows.Scan(&d.Date, &d.OpenSlots); err != nil {
			return nil, fmt.Errorf("scan open date: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// OpenTimeSlots lists the open slots of one day at one place.
func (s *pgStore) OpenTimeSlots(ctx context.Context, date time.Time, place string) ([]string, error) {
	rows, err := s.q.Query(ctx,
		`SELECT time FROM classes
		 WHERE date = $1 AND place = $2 AND open IS TRUE
		 ORDER BY time`,
		date, place,
	)
	if err != nil {
		return nil, fmt.Errorf("open time slots: %w", err)
	}
	slots, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan time slot: %w", err)
	}
	return slots, nil
}

// ClassID resolves a grid cell to its class id or ErrNotFound.
func (s *pgStore) ClassID(ctx context.Context, date time.Time, timeSlot, place string) (int64, error) {
	var id int64
	err := s.q.QueryRow(ctx,
		`SELECT id FROM classes WHERE date = $1 AND time = $2 AND place = $3`,
		date, timeSlot, place,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("class id: %w", err)
	}
	return id, nil
}

// LockClass takes a row-level exclusive lock on the class with
// SELECT … FOR UPDATE. Concurrent subscribers to the same class queue
// behind it until the transaction ends, so the count they read afterwards
// already includes every committed booking.
func (s *pgStore) LockClass(ctx context.Context, id int64) (*model.Class, error) {
	var c model.Class
	err := s.q.QueryRow(ctx,
		`SELECT id, place, date, time, open FROM classes WHERE id = $1 FOR UPDATE`,
		id,
	).Scan(&c.ID, &c.Place, &c.Date, &c.Time, &c.Open)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lock class: %w", err)
	}
	return &c, nil
}

// SetClassOpen flips the open flag of a class.
func (s *pgStore) SetClassOpen(ctx context.Context, id int64, open bool) error {
	if _, err := s.q.Exec(ctx, `UPDATE classes SET open = $1 WHERE id = $2`, open, id); err != nil {
		return fmt.Errorf("set class state: %w", err)
	}
	return nil
}

// InsertSubscription books a user into a class.
func (s *pgStore) InsertSubscription(ctx context.Context, userID, classID int64) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO schedule (user_id, class_id) VALUES ($1, $2)`,
		userID, classID,
	)
	if err != nil {
		return fmt.Errorf("insert subscription: %w", pgErr(err))
	}
	return nil
}

// DeleteSubscription removes a booking and reports how many rows went.
func (s *pgStore) DeleteSubscription(ctx context.Context, userID, classID int64) (int64, error) {
	tag, err := s.q.Exec(ctx,
		`DELETE FROM schedule WHERE user_id = $1 AND class_id = $2`,
		userID, classID,
	)
	if err != nil {
		return 0, fmt.Errorf("delete subscription: %w", err)
	}
	return tag.RowsAffected(), nil
}

// SubscriptionCount counts the bookings of one class.
func (s *pgStore) SubscriptionCount(ctx context.Context, classID int64) (int, error) {
	var n int
	if err := s.q.QueryRow(ctx,
		`SELECT COUNT(*) FROM schedule WHERE class_id = $1`,
		classID,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("count subscriptions: %w", err)
	}
	return n, nil
}

// UserSubscriptions lists a user's bookings from the given date on.
func (s *pgStore) UserSubscriptions(ctx context.Context, userID int64, from time.Time) ([]model.Slot, error) {
	return s.querySlots(ctx,
		`SELECT cl.place, cl.date, cl.time FROM schedule sch
		 JOIN classes cl ON sch.class_id = cl.id
		 WHERE sch.user_id = $1 AND cl.date >= $2
		 ORDER BY cl.date, cl.time, cl.place`,
		userID, from,
	)
}

// UserSubscriptionsForDate lists a user's bookings on one date.
func (s *pgStore) UserSubscriptionsForDate(ctx context.Context, userID int64, date time.Time) ([]model.Slot, error) {
	return s.querySlots(ctx,
		`SELECT cl.place, cl.date, cl.time FROM schedule sch
		 JOIN classes cl ON sch.class_id = cl.id
		 WHERE sch.user_id = $1 AND cl.date = $2
		 ORDER BY cl.time, cl.place`,
		userID, date,
	)
}

func (s *pgStore) querySlots(ctx context.Context, query string, args ...any) ([]model.Slot, error) {
	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("user subscriptions: %w", err)
	}
	defer rows.Close()

	var slots []model.Slot
	for rows.Next() {
		var sl model.Slot
		if err := rows.Scan(&sl.Place, &sl.Date, &sl.Time); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		slots = append(slots, sl)
	}
	return slots, rows.Err()
}

// ClassIDsForDate lists the classes of one day at the given places.
func (s *pgStore) ClassIDsForDate(ctx context.Context, date time.Time, places []string) ([]int64, error) {
	return s.queryIDs(ctx,
		`SELECT id FROM classes WHERE date = $1 AND place = ANY($2) ORDER BY id`,
		date, places,
	)
}

// ClassIDsForDateTime lists the classes of one day and slot at the given places.
func (s *pgStore) ClassIDsForDateTime(ctx context.Context, date time.Time, timeSlot string, places []string) ([]int64, error) {
	return s.queryIDs(ctx,
		`SELECT id FROM classes WHERE date = $1 AND time = $2 AND place = ANY($3) ORDER BY id`,
		date, timeSlot, places,
	)
}

func (s *pgStore) queryIDs(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("class ids: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("scan class id: %w", err)
	}
	return ids, nil
}

// DeleteSubscriptionsForClasses removes every booking of the given classes.
func (s *pgStore) DeleteSubscriptionsForClasses(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.q.Exec(ctx, `DELETE FROM schedule WHERE class_id = ANY($1)`, ids)
	if err != nil {
		return 0, fmt.Errorf("delete subscriptions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteClasses removes the given classes. Their bookings must be gone first.
func (s *pgStore) DeleteClasses(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.q.Exec(ctx, `DELETE FROM classes WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, fmt.Errorf("delete classes: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListSchedule lists every booking from the given date on.
func (s *pgStore) ListSchedule(ctx context.Context, from time.Time) ([]model.ScheduleEntry, error) {
	rows, err := s.q.Query(ctx,
		`SELECT cl.place, cl.date, cl.time, us.id, us.nick_name, us.first_name, us.last_name, us.group_num
		 FROM classes cl
		 JOIN schedule sch ON cl.id = sch.class_id
		 JOIN users us ON us.id = sch.user_id
		 WHERE cl.date >= $1
		 ORDER BY cl.date, cl.place, cl.time, us.last_name`,
		from,
	)
	if err != nil {
		return nil, fmt.Errorf("list schedule: %w", err)
	}
	defer rows.Close()

	var out []model.ScheduleEntry
	for rows.Next() {
		var e model.ScheduleEntry
		if err := rows.Scan(&e.Place, &e.Date, &e.Time, &e.UserID, &e.NickName, &e.FirstName, &e.LastName, &e.GroupNum); err != nil {
			return nil, fmt.Errorf("scan schedule entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetSetting reads one setting or returns ErrNotFound.
func (s *pgStore) GetSetting(ctx context.Context, key string) (string, error) {
	var v string
	err := s.q.QueryRow(ctx, `SELECT value FROM settings WHERE param = $1`, key).Scan(&v)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get setting: %w", err)
	}
	return v, nil
}

// SetSetting writes one setting.
func (s *pgStore) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO settings (param, value) VALUES ($1, $2)
		 ON CONFLICT (param) DO UPDATE SET value = EXCLUDED.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("set setting: %w", err)
	}
	return nil
}
