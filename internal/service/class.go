package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dyezepchik/time-chart-bot/internal/model"
	"github.com/dyezepchik/time-chart-bot/internal/policy"
	"github.com/dyezepchik/time-chart-bot/internal/repository"
)

// ClassService owns the calendar: generation, the capacity engine, bulk
// removal and the admission flag.
type ClassService struct {
	repo   repository.Repository
	policy policy.Policy
	now    func() time.Time
	log    *slog.Logger
}

// NewClassService constructs a ClassService with its dependencies.
func NewClassService(repo repository.Repository, pol policy.Policy, opts ...Option) *ClassService {
	o := buildOptions(opts)
	return &ClassService{repo: repo, policy: pol, now: o.now, log: o.log}
}

// Policy returns the policy the service was built with.
func (s *ClassService) Policy() policy.Policy {
	return s.policy
}

// Today returns the current date in the configured timezone.
func (s *ClassService) Today() time.Time {
	return s.policy.Today(s.now())
}

func (s *ClassService) authorize(actor int64, action string) error {
	if !s.policy.IsAdmin(actor) {
		return deniedf("only an administrator can %s", action)
	}
	return nil
}

func parseRange(start, end string) (time.Time, time.Time, error) {
	var from, to time.Time
	var err error
	if strings.TrimSpace(start) != "" {
		if from, err = model.ParseDate(start); err != nil {
			return from, to, invalidf("%v", err)
		}
	}
	if strings.TrimSpace(end) != "" {
		if to, err = model.ParseDate(end); err != nil {
			return from, to, invalidf("%v", err)
		}
	}
	return from, to, nil
}

// Generate adds one open class per day × place × time slot in [start, end].
// Empty places or slots select every configured one. The whole range is
// written in one transaction: if any cell is already taken nothing is
// inserted and the error wraps repository.ErrConflict.
func (s *ClassService) Generate(ctx context.Context, actor int64, req model.GenerateRequest) (int, error) {
	if err := s.authorize(actor, "add classes"); err != nil {
		return 0, err
	}
	start, end, err := parseRange(req.Start, req.End)
	if err != nil {
		return 0, err
	}
	if err := s.policy.CheckRange(start, end, s.Today()); err != nil {
		return 0, invalidf("%v", err)
	}
	places, err := s.policy.ResolvePlaces(req.Places)
	if err != nil {
		return 0, invalidf("%v", err)
	}
	slots, err := s.policy.ResolveTimeSlots(req.TimeSlots)
	if err != nil {
		return 0, invalidf("%v", err)
	}
	return s.generate(ctx, start, end, places, slots)
}

// GenerateNextWeek fills Monday to Sunday of the coming week with every
// configured place and slot. It does nothing when the Monday already has
// classes, so it is safe to run from a periodic job.
func (s *ClassService) GenerateNextWeek(ctx context.Context) (int, error) {
	today := s.Today()
	ahead := (8 - int(today.Weekday())) % 7
	if ahead == 0 {
		ahead = 7
	}
	start := model.AddDays(today, ahead)
	end := model.AddDays(start, min(6, s.policy.MaxRangeDays))

	existing, err := s.repo.ClassIDsForDate(ctx, start, s.policy.Places)
	if err != nil {
		return 0, fmt.Errorf("check existing classes: %w", err)
	}
	if len(existing) > 0 {
		s.log.Info("next week already generated", "start", model.FormatDate(start))
		return 0, nil
	}
	return s.generate(ctx, start, end, s.policy.Places, s.policy.TimeSlots)
}

func (s *ClassService) generate(ctx context.Context, start, end time.Time, places, slots []string) (int, error) {
	var classes []model.Class
	for day := start; !day.After(end); day = model.AddDays(day, 1) {
		for _, place := range places {
			for _, ts := range slots {
				classes = append(classes, model.Class{Place: place, Date: day, Time: ts, Open: true})
			}
		}
	}

	err := s.repo.InTx(ctx, func(st repository.Store) error {
		return st.InsertClasses(ctx, classes)
	})
	if err != nil {
		s.log.Error("generate classes failed, nothing was added",
			"start", model.FormatDate(start), "end", model.FormatDate(end), "err", err)
		return 0, fmt.Errorf("generate classes: %w", err)
	}
	s.log.Info("classes generated",
		"start", model.FormatDate(start), "end", model.FormatDate(end), "count", len(classes))
	return len(classes), nil
}

// Subscribe books userID into a class.
//
// The booking is written first and the class re-counted afterwards inside
// the same transaction, with the class row locked. If the count exceeds the
// capacity the booking is withdrawn and ErrCapacityExceeded returned; if it
// reaches the capacity exactly the class is closed.
func (s *ClassService) Subscribe(ctx context.Context, userID, classID int64) error {
	return s.repo.InTx(ctx, func(st repository.Store) error {
		return s.subscribe(ctx, st, userID, classID)
	})
}

// SubscribeSlot resolves a grid cell and books userID into it.
func (s *ClassService) SubscribeSlot(ctx context.Context, userID int64, slot model.Slot) error {
	return s.repo.InTx(ctx, func(st repository.Store) error {
		id, err := st.ClassID(ctx, slot.Date, slot.Time, slot.Place)
		if err != nil {
			return err
		}
		return s.subscribe(ctx, st, userID, id)
	})
}

func (s *ClassService) subscribe(ctx context.Context, st repository.Store, userID, classID int64) error {
	if _, err := st.LockClass(ctx, classID); err != nil {
		return err
	}
	if err := st.InsertSubscription(ctx, userID, classID); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return ErrAlreadySubscribed
		}
		return err
	}
	count, err := st.SubscriptionCount(ctx, classID)
	if err != nil {
		return err
	}
	switch {
	case count > s.policy.Capacity:
		if _, err := st.DeleteSubscription(ctx, userID, classID); err != nil {
			return err
		}
		s.log.Info("class full, booking withdrawn", "class_id", classID, "user_id", userID)
		return ErrCapacityExceeded
	case count == s.policy.Capacity:
		return st.SetClassOpen(ctx, classID, false)
	}
	return nil
}

// Unsubscribe removes userID from a class and reopens it when a seat frees
// up. Removing a booking that does not exist changes nothing.
func (s *ClassService) Unsubscribe(ctx context.Context, userID, classID int64) error {
	return s.repo.InTx(ctx, func(st repository.Store) error {
		return s.unsubscribe(ctx, st, userID, classID)
	})
}

// UnsubscribeSlot resolves a grid cell and removes userID from it.
func (s *ClassService) UnsubscribeSlot(ctx context.Context, userID int64, slot model.Slot) error {
	return s.repo.InTx(ctx, func(st repository.Store) error {
		id, err := st.ClassID(ctx, slot.Date, slot.Time, slot.Place)
		if err != nil {
			return err
		}
		return s.unsubscribe(ctx, st, userID, id)
	})
}

func (s *ClassService) unsubscribe(ctx context.Context, st repository.Store, userID, classID int64) error {
	if _, err := st.LockClass(ctx, classID); err != nil {
		return err
	}
	deleted, err := st.DeleteSubscription(ctx, userID, classID)
	if err != nil || deleted == 0 {
		return err
	}
	count, err := st.SubscriptionCount(ctx, classID)
	if err != nil {
		return err
	}
	if count < s.policy.Capacity {
		return st.SetClassOpen(ctx, classID, true)
	}
	return nil
}

// Remove deletes the classes of one date or a date range at the given
// places, optionally only one time slot, together with their bookings.
// The whole range is removed in one transaction.
func (s *ClassService) Remove(ctx context.Context, actor int64, req model.RemoveRequest) (model.RemovalSummary, error) {
	var summary model.RemovalSummary
	if err := s.authorize(actor, "remove classes"); err != nil {
		return summary, err
	}
	start, end, err := parseRange(req.Start, req.End)
	if err != nil {
		return summary, err
	}
	today := s.Today()
	if end.IsZero() {
		if start.IsZero() {
			return summary, invalidf("%v", policy.ErrMissingDate)
		}
		if start.Before(today) {
			return summary, invalidf("%v", policy.ErrStartInThePast)
		}
		end = start
	} else if err := s.policy.CheckRange(start, end, today); err != nil {
		return summary, invalidf("%v", err)
	}

	var timeSlot string
	if strings.TrimSpace(req.TimeSlot) != "" {
		ts, ok := s.policy.MatchTimeSlot(req.TimeSlot)
		if !ok {
			return summary, invalidf("unknown time slot %q", req.TimeSlot)
		}
		timeSlot = ts
	}
	places, err := s.policy.ResolvePlaces(req.Places)
	if err != nil {
		return summary, invalidf("%v", err)
	}

	err = s.repo.InTx(ctx, func(st repository.Store) error {
		summary = model.RemovalSummary{}
		for day := start; !day.After(end); day = model.AddDays(day, 1) {
			removed, err := removeDay(ctx, st, day, timeSlot, places)
			if err != nil {
				return fmt.Errorf("remove %s: %w", model.FormatDate(day), err)
			}
			summary.Classes += removed.Classes
			summary.Subscriptions += removed.Subscriptions
		}
		return nil
	})
	if err != nil {
		s.log.Error("remove classes failed, nothing was removed",
			"start", model.FormatDate(start), "end", model.FormatDate(end), "err", err)
		return model.RemovalSummary{}, fmt.Errorf("remove classes: %w", err)
	}
	s.log.Info("classes removed",
		"start", model.FormatDate(start), "end", model.FormatDate(end), "time", timeSlot,
		"places", places, "classes", summary.Classes, "subscriptions", summary.Subscriptions)
	return summary, nil
}

// removeDay deletes bookings before their classes so no booking ever points
// at a missing class.
func removeDay(ctx context.Context, st repository.Store, day time.Time, timeSlot string, places []string) (model.RemovalSummary, error) {
	var ids []int64
	var err error
	if timeSlot == "" {
		ids, err = st.ClassIDsForDate(ctx, day, places)
	} else {
		ids, err = st.ClassIDsForDateTime(ctx, day, timeSlot, places)
	}
	if err != nil || len(ids) == 0 {
		return model.RemovalSummary{}, err
	}
	subs, err := st.DeleteSubscriptionsForClasses(ctx, ids)
	if err != nil {
		return model.RemovalSummary{}, err
	}
	classes, err := st.DeleteClasses(ctx, ids)
	if err != nil {
		return model.RemovalSummary{}, err
	}
	return model.RemovalSummary{Classes: classes, Subscriptions: subs}, nil
}

// Schedule lists every booking from the given date (today when empty).
func (s *ClassService) Schedule(ctx context.Context, actor int64, from string) ([]model.ScheduleEntry, error) {
	if err := s.authorize(actor, "view the schedule"); err != nil {
		return nil, err
	}
	day := s.Today()
	if strings.TrimSpace(from) != "" {
		var err error
		if day, err = model.ParseDate(from); err != nil {
			return nil, invalidf("%v", err)
		}
	}
	return s.repo.ListSchedule(ctx, day)
}
