// Package booking is the conversation state machine for subscribing to and
// unsubscribing from classes. It is pure: Transition never touches storage.
// It returns an Effect that the caller executes and then reports back with
// Offer or Finish.
package booking

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dyezepchik/time-chart-bot/internal/model"
)

// Flow distinguishes the two conversations.
type Flow string

const (
	FlowSubscribe   Flow = "subscribe"
	FlowUnsubscribe Flow = "unsubscribe"
)

// Stage is the current state of a session.
type Stage string

const (
	StageAskPlace             Stage = "ask_place"
	StageAskDate              Stage = "ask_date"
	StageAskTime              Stage = "ask_time"
	StageCommit               Stage = "commit"
	StageAskUnsubscribeTarget Stage = "ask_unsubscribe_target"
	StageUnsubscribe          Stage = "unsubscribe"
	StageDone                 Stage = "done"
)

// Outcome is how a finished session ended.
type Outcome string

const (
	OutcomeNone             Outcome = ""
	OutcomeOK               Outcome = "ok"
	OutcomeCancelled        Outcome = "cancelled"
	OutcomeUnavailable      Outcome = "unavailable"
	OutcomeCapacityExceeded Outcome = "capacity_exceeded"
	OutcomeValidationError  Outcome = "validation_error"
	OutcomePolicyDenied     Outcome = "policy_denied"
	OutcomeStorageError     Outcome = "storage_error"
)

// CancelInput is the reply that abandons a conversation from any stage.
const CancelInput = "cancel"

// Session is the explicit state of one conversation.
type Session struct {
	ID     string `json:"id"`
	Flow   Flow   `json:"flow"`
	Stage  Stage  `json:"stage"`
	UserID int64  `json:"user_id"`

	// StudentID, when set by an admin, receives the booking instead of UserID.
	StudentID int64        `json:"student_id,omitempty"`
	Place     string       `json:"place,omitempty"`
	Date      time.Time    `json:"date,omitzero"`
	Time      string       `json:"time,omitempty"`
	Options   []string     `json:"options,omitempty"`
	Targets   []model.Slot `json:"-"`
	Outcome   Outcome      `json:"outcome,omitempty"`
	Message   string       `json:"message,omitempty"`
}

// Done reports whether the session reached a terminal state.
func (s Session) Done() bool {
	return s.Stage == StageDone
}

// Subject is the user a commit books or cancels for.
func (s Session) Subject() int64 {
	if s.StudentID != 0 {
		return s.StudentID
	}
	return s.UserID
}

// EffectKind enumerates what the caller must do after a transition.
type EffectKind int

const (
	EffectNone EffectKind = iota
	// EffectLoadDates asks for the open dates of Session.Place.
	EffectLoadDates
	// EffectLoadTimes asks for the daily-cap check and the open slots of
	// Session.Place on Session.Date.
	EffectLoadTimes
	EffectSubscribe
	EffectUnsubscribe
)

// Effect is the side effect requested by a transition.
type Effect struct {
	Kind EffectKind
	Slot model.Slot
}

// Rules are the parts of the policy the pure machine needs.
type Rules struct {
	FirstBookable     time.Time
	RetryInvalidInput bool
}

// NewSubscribe opens a booking conversation offering places.
func NewSubscribe(userID int64, places []string) Session {
	return Session{
		ID:      uuid.NewString(),
		Flow:    FlowSubscribe,
		Stage:   StageAskPlace,
		UserID:  userID,
		Options: append([]string(nil), places...),
		Message: "Which place?",
	}
}

// NewUnsubscribe opens a cancellation conversation offering the user's
// bookings.
func NewUnsubscribe(userID int64, targets []model.Slot) Session {
	s := Session{
		ID:      uuid.NewString(),
		Flow:    FlowUnsubscribe,
		Stage:   StageAskUnsubscribeTarget,
		UserID:  userID,
		Targets: targets,
		Message: "Which booking do you want to cancel?",
	}
	for _, t := range targets {
		s.Options = append(s.Options, t.Label())
	}
	return s
}

// Finish moves s to the terminal state.
func (s Session) Finish(outcome Outcome, msg string) Session {
	s.Stage = StageDone
	s.Outcome = outcome
	s.Message = msg
	s.Options = nil
	s.Targets = nil
	s.StudentID = 0
	return s
}

// Offer records the choices shown at the current stage.
func (s Session) Offer(options []string, msg string) Session {
	s.Options = options
	s.Message = msg
	return s
}

// invalid either terminates the session or, with RetryInvalidInput, keeps
// it in the same stage with an error message.
func invalid(s Session, rules Rules, msg string) (Session, Effect) {
	if rules.RetryInvalidInput {
		s.Message = msg
		return s, Effect{}
	}
	return s.Finish(OutcomeValidationError, msg), Effect{}
}

// Transition applies one user reply to s.
func Transition(s Session, input string, rules Rules) (Session, Effect) {
	if s.Done() || s.Stage == StageCommit || s.Stage == StageUnsubscribe {
		return s, Effect{}
	}
	input = strings.TrimSpace(input)
	if strings.EqualFold(input, CancelInput) {
		return s.Finish(OutcomeCancelled, "Cancelled. Start again when you are ready."), Effect{}
	}

	switch s.Stage {
	case StageAskPlace:
		place, ok := matchOption(s.Options, input)
		if !ok {
			return invalid(s, rules, "Unknown place. Pick one of the offered places.")
		}
		s.Place = place
		s.Stage = StageAskDate
		s.Options = nil
		return s, Effect{Kind: EffectLoadDates, Slot: model.Slot{Place: place}}

	case StageAskDate:
		date, err := model.FindDate(input)
		if err != nil {
			return invalid(s, rules, "That does not look like a date.")
		}
		if date.Before(rules.FirstBookable) {
			return invalid(s, rules, "Bookings for today and earlier are fixed. Pick a later date.")
		}
		s.Date = date
		s.Stage = StageAskTime
		s.Options = nil
		return s, Effect{Kind: EffectLoadTimes, Slot: model.Slot{Place: s.Place, Date: date}}

	case StageAskTime:
		if s.Date.Before(rules.FirstBookable) {
			return s.Finish(OutcomeValidationError, "That date can no longer be booked."), Effect{}
		}
		ts, ok := matchOption(s.Options, input)
		if !ok {
			return invalid(s, rules, "That does not look like one of the offered times.")
		}
		s.Time = ts
		s.Stage = StageCommit
		return s, Effect{Kind: EffectSubscribe, Slot: model.Slot{Place: s.Place, Date: s.Date, Time: ts}}

	case StageAskUnsubscribeTarget:
		target, ok := matchTarget(s, input)
		if !ok {
			return invalid(s, rules, "That is not one of your bookings.")
		}
		if target.Date.Before(rules.FirstBookable) {
			return s.Finish(OutcomeValidationError, "Bookings cannot be cancelled on the day of the class."), Effect{}
		}
		s.Place, s.Date, s.Time = target.Place, target.Date, target.Time
		s.Stage = StageUnsubscribe
		return s, Effect{Kind: EffectUnsubscribe, Slot: target}
	}
	return s, Effect{}
}

func matchOption(options []string, input string) (string, bool) {
	for _, o := range options {
		if strings.EqualFold(o, input) {
			return o, true
		}
	}
	return "", false
}

// matchTarget finds the booking named by input, either by its exact label
// or as "place date time" with a multi-word place.
func matchTarget(s Session, input string) (model.Slot, bool) {
	for _, t := range s.Targets {
		if strings.EqualFold(t.Label(), input) {
			return t, true
		}
	}
	fields := strings.Fields(input)
	if len(fields) < 3 {
		return model.Slot{}, false
	}
	date, err := model.ParseDate(fields[len(fields)-2])
	if err != nil {
		return model.Slot{}, false
	}
	ts, err := model.NormalizeTimeSlot(fields[len(fields)-1])
	if err != nil {
		return model.Slot{}, false
	}
	place := strings.Join(fields[:len(fields)-2], " ")
	for _, t := range s.Targets {
		if strings.EqualFold(t.Place, place) && t.Date.Equal(date) && t.Time == ts {
			return t, true
		}
	}
	return model.Slot{}, false
}
