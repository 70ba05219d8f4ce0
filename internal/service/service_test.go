package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dyezepchik/time-chart-bot/internal/database"
	"github.com/dyezepchik/time-chart-bot/internal/model"
	"github.com/dyezepchik/time-chart-bot/internal/policy"
	"github.com/dyezepchik/time-chart-bot/internal/repository"
	"github.com/dyezepchik/time-chart-bot/internal/service"
)

const admin = int64(100)

// now is Saturday 2024-06-01.
var now = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

type env struct {
	repo     repository.Repository
	classes  *service.ClassService
	bookings *service.BookingService
	users    *service.UserService
}

func newEnv(t *testing.T, tweak ...func(*policy.Policy)) *env {
	t.Helper()
	ctx := context.Background()
	db, err := database.OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.MigrateSQLite(ctx, db))
	repo := repository.NewSQLite(db)

	pol := policy.Default()
	pol.Places = []string{"Arena", "Moto Cafe"}
	pol.TimeSlots = []string{"10:00", "12:00"}
	pol.Admins = []int64{admin}
	for _, f := range tweak {
		f(&pol)
	}
	require.NoError(t, pol.Validate())

	clock := service.WithClock(func() time.Time { return now })
	classes := service.NewClassService(repo, pol, clock)
	return &env{
		repo:     repo,
		classes:  classes,
		bookings: service.NewBookingService(classes),
		users:    service.NewUserService(repo, pol, clock),
	}
}

func withCapacity(n int) func(*policy.Policy) {
	return func(p *policy.Policy) { p.Capacity = n }
}

func (e *env) register(t *testing.T, ids ...int64) {
	t.Helper()
	for _, id := range ids {
		_, err := e.users.RegisterUser(context.Background(), id, model.UpsertUserRequest{NickName: "u"})
		require.NoError(t, err)
	}
}

func (e *env) classID(t *testing.T, date, ts, place string) int64 {
	t.Helper()
	id, err := e.repo.ClassID(context.Background(), day(t, date), ts, place)
	require.NoError(t, err)
	return id
}

// state returns the booking count and open flag of a class.
func (e *env) state(t *testing.T, id int64) (int, bool) {
	t.Helper()
	ctx := context.Background()
	n, err := e.repo.SubscriptionCount(ctx, id)
	require.NoError(t, err)
	c, err := e.repo.LockClass(ctx, id)
	require.NoError(t, err)
	return n, c.Open
}

func day(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := model.ParseDate(s)
	require.NoError(t, err)
	return d
}
