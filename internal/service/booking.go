package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dyezepchik/time-chart-bot/internal/booking"
	"github.com/dyezepchik/time-chart-bot/internal/model"
	"github.com/dyezepchik/time-chart-bot/internal/repository"
)

// BookingService drives the booking and unsubscribe conversations. The state
// machine in package booking decides the next stage; this service runs the
// storage effects it asks for and reports the results back into the session.
type BookingService struct {
	classes *ClassService
	log     *slog.Logger
}

// NewBookingService constructs a BookingService on top of the class service
// that owns the calendar and the capacity engine.
func NewBookingService(classes *ClassService, opts ...Option) *BookingService {
	o := buildOptions(opts)
	return &BookingService{classes: classes, log: o.log}
}

func (s *BookingService) rules() booking.Rules {
	pol := s.classes.policy
	return booking.Rules{
		FirstBookable:     pol.FirstBookableDate(s.classes.Today()),
		RetryInvalidInput: pol.RetryInvalidInput,
	}
}

// StartBooking opens a booking conversation for userID. When admission is
// closed or the weekly cap is reached the returned session is already
// finished with OutcomePolicyDenied.
func (s *BookingService) StartBooking(ctx context.Context, userID int64) (booking.Session, error) {
	if _, err := s.classes.repo.GetUser(ctx, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return booking.NewSubscribe(userID, nil).
				Finish(booking.OutcomePolicyDenied, "Register first, then book a class."), nil
		}
		return booking.Session{}, fmt.Errorf("start booking: %w", err)
	}
	return s.start(ctx, booking.NewSubscribe(userID, s.classes.policy.Places))
}

// StartBookingFor lets an admin book a class on behalf of a registered
// student. The booking is created for studentID; caps are evaluated for the
// admin, who is exempt.
func (s *BookingService) StartBookingFor(ctx context.Context, actor, studentID int64) (booking.Session, error) {
	if err := s.classes.authorize(actor, "book for a student"); err != nil {
		return booking.Session{}, err
	}
	if _, err := s.classes.repo.GetUser(ctx, studentID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return booking.Session{}, invalidf("unknown student %d", studentID)
		}
		return booking.Session{}, fmt.Errorf("start booking: %w", err)
	}
	sess := booking.NewSubscribe(actor, s.classes.policy.Places)
	sess.StudentID = studentID
	return s.start(ctx, sess)
}

func (s *BookingService) start(ctx context.Context, sess booking.Session) (booking.Session, error) {
	if denied, err := s.admissionDenied(ctx, sess); err != nil || denied.Done() {
		return denied, err
	}
	ok, err := s.classes.UnderWeeklyCap(ctx, sess.UserID, s.classes.Today())
	if err != nil {
		return booking.Session{}, fmt.Errorf("start booking: %w", err)
	}
	if !ok {
		return sess.Finish(booking.OutcomePolicyDenied,
			fmt.Sprintf("You already have %d bookings this week.", s.classes.policy.WeeklyCap)), nil
	}
	return sess, nil
}

// admissionDenied returns sess finished when the global flag is closed and
// sess unchanged otherwise.
func (s *BookingService) admissionDenied(ctx context.Context, sess booking.Session) (booking.Session, error) {
	allowed, err := s.classes.SubscriptionsAllowed(ctx)
	if err != nil {
		return booking.Session{}, err
	}
	if !allowed {
		return sess.Finish(booking.OutcomePolicyDenied, "Booking is closed at the moment."), nil
	}
	return sess, nil
}

// AdvanceBooking applies one reply to a booking conversation.
func (s *BookingService) AdvanceBooking(ctx context.Context, sess booking.Session, input string) (booking.Session, error) {
	if sess.Flow != booking.FlowSubscribe {
		return sess, invalidf("session %s is not a booking", sess.ID)
	}
	next, eff := booking.Transition(sess, input, s.rules())
	return s.execute(ctx, next, eff)
}

// StartUnsubscribe opens a cancellation conversation listing the user's
// bookings that can still be cancelled.
func (s *BookingService) StartUnsubscribe(ctx context.Context, userID int64) (booking.Session, error) {
	sess := booking.NewUnsubscribe(userID, nil)
	if denied, err := s.admissionDenied(ctx, sess); err != nil || denied.Done() {
		return denied, err
	}
	targets, err := s.classes.repo.UserSubscriptions(ctx, userID, s.rules().FirstBookable)
	if err != nil {
		return booking.Session{}, fmt.Errorf("start unsubscribe: %w", err)
	}
	if len(targets) == 0 {
		return sess.Finish(booking.OutcomeUnavailable, "You have no bookings that can be cancelled."), nil
	}
	return booking.NewUnsubscribe(userID, targets), nil
}

// AdvanceUnsubscribe applies one reply to a cancellation conversation.
func (s *BookingService) AdvanceUnsubscribe(ctx context.Context, sess booking.Session, input string) (booking.Session, error) {
	if sess.Flow != booking.FlowUnsubscribe {
		return sess, invalidf("session %s is not an unsubscribe", sess.ID)
	}
	next, eff := booking.Transition(sess, input, s.rules())
	return s.execute(ctx, next, eff)
}

// Advance dispatches on the session's flow.
func (s *BookingService) Advance(ctx context.Context, sess booking.Session, input string) (booking.Session, error) {
	if sess.Flow == booking.FlowUnsubscribe {
		return s.AdvanceUnsubscribe(ctx, sess, input)
	}
	return s.AdvanceBooking(ctx, sess, input)
}

func (s *BookingService) execute(ctx context.Context, sess booking.Session, eff booking.Effect) (booking.Session, error) {
	switch eff.Kind {
	case booking.EffectLoadDates:
		return s.loadDates(ctx, sess)
	case booking.EffectLoadTimes:
		return s.loadTimes(ctx, sess)
	case booking.EffectSubscribe:
		return s.commit(ctx, sess, eff.Slot)
	case booking.EffectUnsubscribe:
		return s.cancel(ctx, sess, eff.Slot)
	}
	return sess, nil
}

func (s *BookingService) loadDates(ctx context.Context, sess booking.Session) (booking.Session, error) {
	after := model.AddDays(s.rules().FirstBookable, -1)
	dates, err := s.classes.repo.OpenDates(ctx, after, sess.Place)
	if err != nil {
		return s.storageFailure(sess, err)
	}
	if len(dates) == 0 {
		return sess.Finish(booking.OutcomeUnavailable,
			fmt.Sprintf("There are no open classes at %s yet.", sess.Place)), nil
	}
	options := make([]string, 0, len(dates))
	for _, d := range dates {
		options = append(options, fmt.Sprintf("%s %s (%d open)",
			d.Date.Format("Mon"), model.FormatDate(d.Date), d.OpenSlots))
	}
	return sess.Offer(options, "Pick a date."), nil
}

func (s *BookingService) loadTimes(ctx context.Context, sess booking.Session) (booking.Session, error) {
	ok, err := s.classes.UnderDailyCap(ctx, sess.UserID, sess.Date)
	if err != nil {
		return s.storageFailure(sess, err)
	}
	if !ok {
		return sess.Finish(booking.OutcomePolicyDenied, "You already have a class on that day."), nil
	}
	slots, err := s.classes.repo.OpenTimeSlots(ctx, sess.Date, sess.Place)
	if err != nil {
		return s.storageFailure(sess, err)
	}
	if len(slots) == 0 {
		return sess.Finish(booking.OutcomeUnavailable, "No free time slots left that day."), nil
	}
	return sess.Offer(slots, "Pick a time."), nil
}

func (s *BookingService) commit(ctx context.Context, sess booking.Session, slot model.Slot) (booking.Session, error) {
	// Caps are checked again because another conversation may have booked
	// since the options were offered.
	ok, err := s.classes.UnderDailyCap(ctx, sess.UserID, slot.Date)
	if err == nil && ok {
		ok, err = s.classes.UnderWeeklyCap(ctx, sess.UserID, s.classes.Today())
	}
	if err != nil {
		return s.storageFailure(sess, err)
	}
	if !ok {
		return sess.Finish(booking.OutcomePolicyDenied, "You have reached your booking limit."), nil
	}

	err = s.classes.SubscribeSlot(ctx, sess.Subject(), slot)
	switch {
	case err == nil:
		s.log.Info("class booked", "user_id", sess.Subject(), "by", sess.UserID, "slot", slot.Label())
		return sess.Finish(booking.OutcomeOK, "Booked: "+slot.Label()), nil
	case errors.Is(err, ErrCapacityExceeded):
		return sess.Finish(booking.OutcomeCapacityExceeded,
			"That class has just filled up. Start again and pick another one."), nil
	case errors.Is(err, ErrAlreadySubscribed):
		return sess.Finish(booking.OutcomePolicyDenied, "You are already booked into that class."), nil
	case errors.Is(err, repository.ErrNotFound):
		return sess.Finish(booking.OutcomeUnavailable, "That class is no longer on the schedule."), nil
	}
	return s.storageFailure(sess, err)
}

func (s *BookingService) cancel(ctx context.Context, sess booking.Session, slot model.Slot) (booking.Session, error) {
	err := s.classes.UnsubscribeSlot(ctx, sess.Subject(), slot)
	switch {
	case err == nil:
		s.log.Info("booking cancelled", "user_id", sess.Subject(), "slot", slot.Label())
		return sess.Finish(booking.OutcomeOK, "Cancelled: "+slot.Label()), nil
	case errors.Is(err, repository.ErrNotFound):
		return sess.Finish(booking.OutcomeUnavailable, "That class is no longer on the schedule."), nil
	}
	return s.storageFailure(sess, err)
}

func (s *BookingService) storageFailure(sess booking.Session, err error) (booking.Session, error) {
	s.log.Error("booking storage failure", "session_id", sess.ID, "stage", sess.Stage, "err", err)
	return sess.Finish(booking.OutcomeStorageError, "Something went wrong, please try again later."),
		fmt.Errorf("session %s: %w", sess.ID, err)
}
