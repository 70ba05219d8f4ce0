package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyezepchik/time-chart-bot/internal/database"
	"github.com/dyezepchik/time-chart-bot/internal/model"
	"github.com/dyezepchik/time-chart-bot/internal/repository"
)

func newTestRepo(t *testing.T) *repository.SQLite {
	t.Helper()
	ctx := context.Background()
	db, err := database.OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.MigrateSQLite(ctx, db))
	return repository.NewSQLite(db)
}

func day(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := model.ParseDate(s)
	require.NoError(t, err)
	return d
}

func TestSQLite_Users(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	require.NoError(t, repo.UpsertUser(ctx, model.User{ID: 1, NickName: "ivan", FirstName: "Ivan"}))
	require.NoError(t, repo.UpsertUser(ctx, model.User{ID: 1, NickName: "ivan_k", FirstName: "Ivan", LastName: "K"}))

	u, err := repo.GetUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "ivan_k", u.NickName)
	assert.Equal(t, "K", u.LastName)
	assert.Nil(t, u.GroupNum)

	_, err = repo.LatestGroup(ctx)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	require.NoError(t, repo.UpdateUserField(ctx, 1, model.FieldGroupNum, 12))
	require.NoError(t, repo.UpdateUserField(ctx, 1, model.FieldLastName, "Kozlov"))
	assert.Error(t, repo.UpdateUserField(ctx, 1, model.UserField("id"), 5))
	assert.ErrorIs(t, repo.UpdateUserField(ctx, 2, model.FieldLastName, "x"), repository.ErrNotFound)

	u, err = repo.GetUser(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, u.GroupNum)
	assert.Equal(t, 12, *u.GroupNum)
	assert.Equal(t, "Kozlov", u.LastName)

	group, err := repo.LatestGroup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 12, group)

	users, err := repo.ListUsersByGroup(ctx, 12)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, int64(1), users[0].ID)

	_, err = repo.GetUser(ctx, 99)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestSQLite_ClassGridIsUnique(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	d := day(t, "2024-06-03")

	require.NoError(t, repo.InsertClasses(ctx, []model.Class{
		{Place: "Arena", Date: d, Time: "12:00", Open: true},
		{Place: "Moto", Date: d, Time: "12:00", Open: true},
	}))

	err := repo.InsertClasses(ctx, []model.Class{{Place: "Arena", Date: d, Time: "12:00", Open: true}})
	assert.ErrorIs(t, err, repository.ErrConflict)

	ids, err := repo.ClassIDsForDate(ctx, d, []string{"Arena", "Moto"})
	require.NoError(t, err)
	assert.Len(t, ids, 2)
}

func TestSQLite_InTxRollsBack(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	d := day(t, "2024-06-03")

	err := repo.InTx(ctx, func(s repository.Store) error {
		if err := s.InsertClasses(ctx, []model.Class{{Place: "Arena", Date: d, Time: "12:00", Open: true}}); err != nil {
			return err
		}
		return s.InsertClasses(ctx, []model.Class{{Place: "Arena", Date: d, Time: "12:00", Open: true}})
	})
	require.ErrorIs(t, err, repository.ErrConflict)

	_, err = repo.ClassID(ctx, d, "12:00", "Arena")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestSQLite_OpenDatesAndSlots(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	d1, d2 := day(t, "2024-06-03"), day(t, "2024-06-04")

	require.NoError(t, repo.InsertClasses(ctx, []model.Class{
		{Place: "Arena", Date: d1, Time: "12:00", Open: true},
		{Place: "Arena", Date: d1, Time: "14:00", Open: true},
		{Place: "Arena", Date: d2, Time: "12:00", Open: true},
		{Place: "Moto", Date: d2, Time: "12:00", Open: true},
	}))
	id, err := repo.ClassID(ctx, d1, "14:00", "Arena")
	require.NoError(t, err)
	require.NoError(t, repo.SetClassOpen(ctx, id, false))

	dates, err := repo.OpenDates(ctx, day(t, "2024-06-02"), "Arena")
	require.NoError(t, err)
	assert.Equal(t, []model.DateAvailability{{Date: d1, OpenSlots: 1}, {Date: d2, OpenSlots: 1}}, dates)

	dates, err = repo.OpenDates(ctx, d1, "Arena")
	require.NoError(t, err)
	assert.Equal(t, []model.DateAvailability{{Date: d2, OpenSlots: 1}}, dates)

	slots, err := repo.OpenTimeSlots(ctx, d1, "Arena")
	require.NoError(t, err)
	assert.Equal(t, []string{"12:00"}, slots)

	c, err := repo.LockClass(ctx, id)
	require.NoError(t, err)
	assert.False(t, c.Open)
	assert.Equal(t, d1, c.Date)
}

func TestSQLite_SubscriptionsAndCascade(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	d := day(t, "2024-06-03")

	require.NoError(t, repo.UpsertUser(ctx, model.User{ID: 1, NickName: "a", LastName: "Alpha"}))
	require.NoError(t, repo.UpsertUser(ctx, model.User{ID: 2, NickName: "b", LastName: "Beta"}))
	require.NoError(t, repo.InsertClasses(ctx, []model.Class{
		{Place: "Arena", Date: d, Time: "12:00", Open: true},
		{Place: "Arena", Date: d, Time: "14:00", Open: true},
	}))
	c1, err := repo.ClassID(ctx, d, "12:00", "Arena")
	require.NoError(t, err)

	require.NoError(t, repo.InsertSubscription(ctx, 1, c1))
	require.NoError(t, repo.InsertSubscription(ctx, 2, c1))
	assert.ErrorIs(t, repo.InsertSubscription(ctx, 1, c1), repository.ErrConflict)

	n, err := repo.SubscriptionCount(ctx, c1)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	subs, err := repo.UserSubscriptionsForDate(ctx, 1, d)
	require.NoError(t, err)
	assert.Equal(t, []model.Slot{{Place: "Arena", Date: d, Time: "12:00"}}, subs)

	entries, err := repo.ListSchedule(ctx, d)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "Alpha", entries[0].LastName)

	ids, err := repo.ClassIDsForDateTime(ctx, d, "12:00", []string{"Arena"})
	require.NoError(t, err)
	assert.Equal(t, []int64{c1}, ids)

	removed, err := repo.DeleteSubscriptionsForClasses(ctx, ids)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)
	removed, err = repo.DeleteClasses(ctx, ids)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	subs, err = repo.UserSubscriptions(ctx, 1, d)
	require.NoError(t, err)
	assert.Empty(t, subs)

	deleted, err := repo.DeleteSubscription(ctx, 1, c1)
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestSQLite_Settings(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	v, err := repo.GetSetting(ctx, model.SettingAllow)
	require.NoError(t, err)
	assert.Equal(t, model.AllowYes, v)

	require.NoError(t, repo.SetSetting(ctx, model.SettingAllow, model.AllowNo))
	v, err = repo.GetSetting(ctx, model.SettingAllow)
	require.NoError(t, err)
	assert.Equal(t, model.AllowNo, v)

	_, err = repo.GetSetting(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
