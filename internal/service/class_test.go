package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyezepchik/time-chart-bot/internal/model"
	"github.com/dyezepchik/time-chart-bot/internal/repository"
	"github.com/dyezepchik/time-chart-bot/internal/service"
)

func TestGenerate_SingleClass(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	n, err := e.classes.Generate(ctx, admin, model.GenerateRequest{
		Start: "2024-06-03", End: "2024-06-03", Places: []string{"Arena"}, TimeSlots: []string{"10:00"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	count, open := e.state(t, e.classID(t, "2024-06-03", "10:00", "Arena"))
	assert.Zero(t, count)
	assert.True(t, open)

	_, err = e.repo.ClassID(ctx, day(t, "2024-06-03"), "12:00", "Arena")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestGenerate_AllPlacesAndSlots(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	n, err := e.classes.Generate(ctx, admin, model.GenerateRequest{Start: "2024-06-03", End: "2024-06-05"})
	require.NoError(t, err)
	assert.Equal(t, 3*2*2, n)

	dates, err := e.repo.OpenDates(ctx, day(t, "2024-06-01"), "Moto Cafe")
	require.NoError(t, err)
	require.Len(t, dates, 3)
	assert.Equal(t, 2, dates[0].OpenSlots)
}

func TestGenerate_RejectsOverlapAtomically(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	_, err := e.classes.Generate(ctx, admin, model.GenerateRequest{
		Start: "2024-06-04", End: "2024-06-04", Places: []string{"Arena"}, TimeSlots: []string{"12:00"},
	})
	require.NoError(t, err)

	_, err = e.classes.Generate(ctx, admin, model.GenerateRequest{Start: "2024-06-03", End: "2024-06-05"})
	assert.ErrorIs(t, err, repository.ErrConflict)

	// Nothing from the failed range was kept and the existing class survived.
	dates, err := e.repo.OpenDates(ctx, day(t, "2024-06-01"), "Arena")
	require.NoError(t, err)
	assert.Equal(t, []model.DateAvailability{{Date: day(t, "2024-06-04"), OpenSlots: 1}}, dates)
}

func TestGenerate_Validation(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		req  model.GenerateRequest
		ok   bool
	}{
		{name: "exactly six days", req: model.GenerateRequest{Start: "2024-06-01", End: "2024-06-07"}, ok: true},
		{name: "seven days", req: model.GenerateRequest{Start: "2024-06-01", End: "2024-06-08"}},
		{name: "start today", req: model.GenerateRequest{Start: "2024-06-01", End: "2024-06-01"}, ok: true},
		{name: "start yesterday", req: model.GenerateRequest{Start: "2024-05-31", End: "2024-06-03"}},
		{name: "start after end", req: model.GenerateRequest{Start: "2024-06-05", End: "2024-06-03"}},
		{name: "missing end", req: model.GenerateRequest{Start: "2024-06-03"}},
		{name: "bad date", req: model.GenerateRequest{Start: "03.06.2024", End: "2024-06-03"}},
		{name: "unknown place", req: model.GenerateRequest{Start: "2024-06-03", End: "2024-06-03", Places: []string{"Pool"}}},
		{name: "unknown slot", req: model.GenerateRequest{Start: "2024-06-03", End: "2024-06-03", TimeSlots: []string{"11:00"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			_, err := e.classes.Generate(ctx, admin, tt.req)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, service.ErrValidation)
		})
	}
}

func TestGenerate_StartInThePast(t *testing.T) {
	e := newEnv(t)
	_, err := e.classes.Generate(context.Background(), admin, model.GenerateRequest{Start: "2024-05-31", End: "2024-06-03"})
	assert.ErrorIs(t, err, service.ErrValidation)

	dates, err := e.repo.OpenDates(context.Background(), day(t, "2024-05-01"), "Arena")
	require.NoError(t, err)
	assert.Empty(t, dates)
}

func TestGenerate_AdminOnly(t *testing.T) {
	e := newEnv(t)
	_, err := e.classes.Generate(context.Background(), 1, model.GenerateRequest{Start: "2024-06-03", End: "2024-06-03"})
	assert.ErrorIs(t, err, service.ErrPolicyDenied)
}

func TestGenerateNextWeek(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	n, err := e.classes.GenerateNextWeek(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7*2*2, n)
	e.classID(t, "2024-06-03", "10:00", "Arena")
	e.classID(t, "2024-06-09", "12:00", "Moto Cafe")

	n, err = e.classes.GenerateNextWeek(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "an already generated week is left alone")
}

func TestCapacity_FillAndReject(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, withCapacity(2))
	e.register(t, 1, 2, 3)
	_, err := e.classes.Generate(ctx, admin, model.GenerateRequest{
		Start: "2024-06-03", End: "2024-06-03", Places: []string{"Arena"}, TimeSlots: []string{"10:00"},
	})
	require.NoError(t, err)
	c := e.classID(t, "2024-06-03", "10:00", "Arena")

	require.NoError(t, e.classes.Subscribe(ctx, 1, c))
	count, open := e.state(t, c)
	assert.Equal(t, 1, count)
	assert.True(t, open)

	require.NoError(t, e.classes.Subscribe(ctx, 2, c))
	count, open = e.state(t, c)
	assert.Equal(t, 2, count)
	assert.False(t, open)

	err = e.classes.Subscribe(ctx, 3, c)
	assert.ErrorIs(t, err, service.ErrCapacityExceeded)
	count, open = e.state(t, c)
	assert.Equal(t, 2, count)
	assert.False(t, open)
	subs, err := e.repo.UserSubscriptions(ctx, 3, day(t, "2024-06-01"))
	require.NoError(t, err)
	assert.Empty(t, subs)

	// Freeing a seat reopens the class.
	require.NoError(t, e.classes.Unsubscribe(ctx, 1, c))
	count, open = e.state(t, c)
	assert.Equal(t, 1, count)
	assert.True(t, open)

	// Unsubscribing someone who holds no seat changes nothing.
	require.NoError(t, e.classes.Unsubscribe(ctx, 3, c))
	count, open = e.state(t, c)
	assert.Equal(t, 1, count)
	assert.True(t, open)
}

func TestCapacity_AlreadySubscribed(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.register(t, 1)
	_, err := e.classes.Generate(ctx, admin, model.GenerateRequest{Start: "2024-06-03", End: "2024-06-03"})
	require.NoError(t, err)
	c := e.classID(t, "2024-06-03", "12:00", "Moto Cafe")

	require.NoError(t, e.classes.Subscribe(ctx, 1, c))
	err = e.classes.Subscribe(ctx, 1, c)
	assert.ErrorIs(t, err, service.ErrAlreadySubscribed)
	assert.ErrorIs(t, err, service.ErrPolicyDenied)

	count, _ := e.state(t, c)
	assert.Equal(t, 1, count)
}

func TestCapacity_MissingClass(t *testing.T) {
	e := newEnv(t)
	e.register(t, 1)
	err := e.classes.SubscribeSlot(context.Background(), 1, model.Slot{Place: "Arena", Date: day(t, "2024-06-03"), Time: "10:00"})
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestCapacity_InvariantOverSequence(t *testing.T) {
	ctx := context.Background()
	const capacity = 3
	e := newEnv(t, withCapacity(capacity))
	users := []int64{1, 2, 3, 4, 5, 6}
	e.register(t, users...)
	_, err := e.classes.Generate(ctx, admin, model.GenerateRequest{
		Start: "2024-06-03", End: "2024-06-03", Places: []string{"Arena"}, TimeSlots: []string{"10:00"},
	})
	require.NoError(t, err)
	c := e.classID(t, "2024-06-03", "10:00", "Arena")

	// Deterministic interleaving of subscribes and unsubscribes.
	for step := 0; step < 60; step++ {
		u := users[(step*7)%len(users)]
		if step%3 == 2 {
			require.NoError(t, e.classes.Unsubscribe(ctx, u, c))
		} else {
			err := e.classes.Subscribe(ctx, u, c)
			if err != nil && !errors.Is(err, service.ErrCapacityExceeded) && !errors.Is(err, service.ErrAlreadySubscribed) {
				t.Fatalf("step %d: %v", step, err)
			}
		}
		count, open := e.state(t, c)
		require.LessOrEqual(t, count, capacity, "step %d", step)
		require.Equal(t, count < capacity, open, "step %d", step)
	}
}

func TestRemove_ClassesAndBookings(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.register(t, 1)
	_, err := e.classes.Generate(ctx, admin, model.GenerateRequest{
		Start: "2024-06-03", End: "2024-06-03", Places: []string{"Arena"}, TimeSlots: []string{"10:00"},
	})
	require.NoError(t, err)
	require.NoError(t, e.classes.Subscribe(ctx, 1, e.classID(t, "2024-06-03", "10:00", "Arena")))

	summary, err := e.classes.Remove(ctx, admin, model.RemoveRequest{Start: "2024-06-03", Places: []string{"Arena"}})
	require.NoError(t, err)
	assert.Equal(t, model.RemovalSummary{Classes: 1, Subscriptions: 1}, summary)

	_, err = e.repo.ClassID(ctx, day(t, "2024-06-03"), "10:00", "Arena")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	subs, err := e.repo.UserSubscriptions(ctx, 1, day(t, "2024-06-01"))
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestRemove_Filters(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	_, err := e.classes.Generate(ctx, admin, model.GenerateRequest{Start: "2024-06-03", End: "2024-06-05"})
	require.NoError(t, err)

	summary, err := e.classes.Remove(ctx, admin, model.RemoveRequest{Start: "2024-06-03", End: "2024-06-04", TimeSlot: "10:00"})
	require.NoError(t, err)
	assert.Equal(t, int64(4), summary.Classes)

	e.classID(t, "2024-06-03", "12:00", "Arena")
	e.classID(t, "2024-06-05", "10:00", "Moto Cafe")
	_, err = e.repo.ClassID(ctx, day(t, "2024-06-04"), "10:00", "Moto Cafe")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	summary, err = e.classes.Remove(ctx, admin, model.RemoveRequest{Start: "2024-06-05", Places: []string{"moto cafe"}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), summary.Classes)
	e.classID(t, "2024-06-05", "12:00", "Arena")
}

func TestRemove_Validation(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		req  model.RemoveRequest
		ok   bool
	}{
		{name: "single date today", req: model.RemoveRequest{Start: "2024-06-01"}, ok: true},
		{name: "single date yesterday", req: model.RemoveRequest{Start: "2024-05-31"}},
		{name: "exactly six days", req: model.RemoveRequest{Start: "2024-06-01", End: "2024-06-07"}, ok: true},
		{name: "seven days", req: model.RemoveRequest{Start: "2024-06-01", End: "2024-06-08"}},
		{name: "no date", req: model.RemoveRequest{}},
		{name: "unknown slot", req: model.RemoveRequest{Start: "2024-06-03", TimeSlot: "25:00"}},
		{name: "unknown place", req: model.RemoveRequest{Start: "2024-06-03", Places: []string{"Pool"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			_, err := e.classes.Remove(ctx, admin, tt.req)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, service.ErrValidation)
		})
	}

	e := newEnv(t)
	_, err := e.classes.Remove(ctx, 1, model.RemoveRequest{Start: "2024-06-03"})
	assert.ErrorIs(t, err, service.ErrPolicyDenied)
}

func TestAdmission(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	allowed, err := e.classes.SubscriptionsAllowed(ctx)
	require.NoError(t, err)
	assert.True(t, allowed, "migrations open admission")

	assert.ErrorIs(t, e.classes.SetAdmissionOpen(ctx, 1, false), service.ErrPolicyDenied)
	require.NoError(t, e.classes.SetAdmissionOpen(ctx, admin, false))
	allowed, err = e.classes.SubscriptionsAllowed(ctx)
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestCaps(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.register(t, 1, admin)
	_, err := e.classes.Generate(ctx, admin, model.GenerateRequest{Start: "2024-06-03", End: "2024-06-04"})
	require.NoError(t, err)

	for _, id := range []int64{1, admin} {
		require.NoError(t, e.classes.Subscribe(ctx, id, e.classID(t, "2024-06-03", "10:00", "Arena")))
		require.NoError(t, e.classes.Subscribe(ctx, id, e.classID(t, "2024-06-04", "12:00", "Moto Cafe")))
	}

	ok, err := e.classes.UnderDailyCap(ctx, 1, day(t, "2024-06-03"))
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = e.classes.UnderDailyCap(ctx, 1, day(t, "2024-06-05"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.classes.UnderWeeklyCap(ctx, 1, day(t, "2024-06-01"))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = e.classes.UnderDailyCap(ctx, admin, day(t, "2024-06-03"))
	require.NoError(t, err)
	assert.True(t, ok, "admins are exempt")
	ok, err = e.classes.UnderWeeklyCap(ctx, admin, day(t, "2024-06-01"))
	require.NoError(t, err)
	assert.True(t, ok, "admins are exempt")
}

func TestSchedule(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.register(t, 1)
	_, err := e.classes.Generate(ctx, admin, model.GenerateRequest{Start: "2024-06-03", End: "2024-06-03"})
	require.NoError(t, err)
	require.NoError(t, e.classes.Subscribe(ctx, 1, e.classID(t, "2024-06-03", "12:00", "Arena")))

	entries, err := e.classes.Schedule(ctx, admin, "")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(1), entries[0].UserID)
	assert.Equal(t, "Arena 2024-06-03 12:00", entries[0].Label())

	entries, err = e.classes.Schedule(ctx, admin, "2024-06-04")
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = e.classes.Schedule(ctx, 1, "")
	assert.ErrorIs(t, err, service.ErrPolicyDenied)
}
