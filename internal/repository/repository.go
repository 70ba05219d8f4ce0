// Package repository implements all database queries for the class booking
// system. Two backends satisfy the same Repository interface: PostgreSQL via
// pgx and SQLite via database/sql.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/dyezepchik/time-chart-bot/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a write violates a uniqueness constraint,
// e.g. a class already occupying a (place, date, time) cell or a duplicate
// subscription.
var ErrConflict = errors.New("already exists")

// Store is the set of queries and mutations the booking core needs.
type Store interface {
	UpsertUser(ctx context.Context, u model.User) error
	GetUser(ctx context.Context, id int64) (*model.User, error)
	UpdateUserField(ctx context.Context, id int64, field model.UserField, value any) error
	ListUsersByGroup(ctx context.Context, group int) ([]model.User, error)
	LatestGroup(ctx context.Context) (int, error)

	InsertClasses(ctx context.Context, classes []model.Class) error
	// OpenDates lists dates after the given one with at least one open class
	// at place, with the number of open classes per date.
	OpenDates(ctx context.Context, after time.Time, place string) ([]model.DateAvailability, error)
	OpenTimeSlots(ctx context.Context, date time.Time, place string) ([]string, error)
	ClassID(ctx context.Context, date time.Time, timeSlot, place string) (int64, error)
	// LockClass loads a class and, where the backend supports it, holds a
	// row lock on it until the surrounding transaction ends.
	LockClass(ctx context.Context, id int64) (*model.Class, error)
	SetClassOpen(ctx context.Context, id int64, open bool) error

	InsertSubscription(ctx context.Context, userID, classID int64) error
	DeleteSubscription(ctx context.Context, userID, classID int64) (int64, error)
	SubscriptionCount(ctx context.Context, classID int64) (int, error)
	UserSubscriptions(ctx context.Context, userID int64, from time.Time) ([]model.Slot, error)
	UserSubscriptionsForDate(ctx context.Context, userID int64, date time.Time) ([]model.Slot, error)

	ClassIDsForDate(ctx context.Context, date time.Time, places []string) ([]int64, error)
	ClassIDsForDateTime(ctx context.Context, date time.Time, timeSlot string, places []string) ([]int64, error)
	DeleteSubscriptionsForClasses(ctx context.Context, ids []int64) (int64, error)
	DeleteClasses(ctx context.Context, ids []int64) (int64, error)

	ListSchedule(ctx context.Context, from time.Time) ([]model.ScheduleEntry, error)

	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
}

// Repository is a Store that can also run a group of calls atomically.
type Repository interface {
	Store
	// InTx runs fn inside one transaction. The transaction commits when fn
	// returns nil and rolls back otherwise; fn's error is returned as is.
	InTx(ctx context.Context, fn func(Store) error) error
}
