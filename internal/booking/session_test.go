package booking

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyezepchik/time-chart-bot/internal/model"
)

var (
	today    = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	tomorrow = today.AddDate(0, 0, 1)
	rules    = Rules{FirstBookable: tomorrow}
)

func TestTransition_HappyPath(t *testing.T) {
	s := NewSubscribe(7, []string{"Arena", "Moto Cafe"})
	require.NotEmpty(t, s.ID)
	assert.Equal(t, StageAskPlace, s.Stage)

	s, eff := Transition(s, "moto cafe", rules)
	assert.Equal(t, StageAskDate, s.Stage)
	assert.Equal(t, "Moto Cafe", s.Place)
	assert.Equal(t, EffectLoadDates, eff.Kind)

	s = s.Offer([]string{"Mon 2024-06-03 (5 open)"}, "When?")
	s, eff = Transition(s, "Mon 2024-06-03 (5 open)", rules)
	assert.Equal(t, StageAskTime, s.Stage)
	assert.Equal(t, EffectLoadTimes, eff.Kind)
	assert.Equal(t, "2024-06-03", model.FormatDate(eff.Slot.Date))

	s = s.Offer([]string{"12:00", "14:00"}, "What time?")
	s, eff = Transition(s, "14:00", rules)
	assert.Equal(t, StageCommit, s.Stage)
	assert.Equal(t, EffectSubscribe, eff.Kind)
	assert.Equal(t, model.Slot{Place: "Moto Cafe", Date: s.Date, Time: "14:00"}, eff.Slot)

	// A committing session ignores further input until finished.
	s2, eff := Transition(s, "cancel", rules)
	assert.Equal(t, s, s2)
	assert.Equal(t, EffectNone, eff.Kind)

	s = s.Finish(OutcomeOK, "booked")
	assert.True(t, s.Done())
	assert.Equal(t, OutcomeOK, s.Outcome)
}

func TestTransition_CancelFromEveryStage(t *testing.T) {
	stages := []Session{
		NewSubscribe(1, []string{"Arena"}),
		{Flow: FlowSubscribe, Stage: StageAskDate, Place: "Arena"},
		{Flow: FlowSubscribe, Stage: StageAskTime, Place: "Arena", Date: tomorrow},
		NewUnsubscribe(1, nil),
	}
	for _, s := range stages {
		t.Run(string(s.Stage), func(t *testing.T) {
			got, eff := Transition(s, " Cancel ", rules)
			assert.True(t, got.Done())
			assert.Equal(t, OutcomeCancelled, got.Outcome)
			assert.Equal(t, EffectNone, eff.Kind)
		})
	}
}

func TestTransition_InvalidInputTerminates(t *testing.T) {
	tests := []struct {
		name  string
		s     Session
		input string
	}{
		{name: "unknown place", s: NewSubscribe(1, []string{"Arena"}), input: "Pool"},
		{name: "not a date", s: Session{Stage: StageAskDate, Place: "Arena"}, input: "next friday"},
		{name: "today", s: Session{Stage: StageAskDate, Place: "Arena"}, input: "2024-06-01"},
		{name: "past", s: Session{Stage: StageAskDate, Place: "Arena"}, input: "2024-05-30"},
		{name: "time not offered", s: Session{Stage: StageAskTime, Place: "Arena", Date: tomorrow, Options: []string{"12:00"}}, input: "13:00"},
		{name: "stale date", s: Session{Stage: StageAskTime, Place: "Arena", Date: today, Options: []string{"12:00"}}, input: "12:00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, eff := Transition(tt.s, tt.input, rules)
			assert.True(t, got.Done())
			assert.Equal(t, OutcomeValidationError, got.Outcome)
			assert.Equal(t, EffectNone, eff.Kind)
		})
	}
}

func TestTransition_RetryInvalidInput(t *testing.T) {
	retry := Rules{FirstBookable: tomorrow, RetryInvalidInput: true}
	s := NewSubscribe(1, []string{"Arena"})

	got, eff := Transition(s, "Pool", retry)
	assert.False(t, got.Done())
	assert.Equal(t, StageAskPlace, got.Stage)
	assert.Equal(t, EffectNone, eff.Kind)
	assert.NotEqual(t, s.Message, got.Message)

	got, eff = Transition(got, "Arena", retry)
	assert.Equal(t, StageAskDate, got.Stage)
	assert.Equal(t, EffectLoadDates, eff.Kind)
}

func TestTransition_Unsubscribe(t *testing.T) {
	target := model.Slot{Place: "Moto Cafe", Date: tomorrow, Time: "12:00"}
	other := model.Slot{Place: "Arena", Date: tomorrow.AddDate(0, 0, 1), Time: "14:00"}
	s := NewUnsubscribe(3, []model.Slot{target, other})
	assert.Equal(t, []string{"Moto Cafe 2024-06-02 12:00", "Arena 2024-06-03 14:00"}, s.Options)

	got, eff := Transition(s, "moto cafe 2024-06-02 12:00", rules)
	assert.Equal(t, StageUnsubscribe, got.Stage)
	assert.Equal(t, EffectUnsubscribe, eff.Kind)
	assert.Equal(t, target, eff.Slot)

	got, _ = Transition(s, "Arena 2024-06-03 9:00", rules)
	assert.Equal(t, OutcomeValidationError, got.Outcome)

	// The day advanced since the options were offered.
	late := Rules{FirstBookable: tomorrow.AddDate(0, 0, 1)}
	got, eff = Transition(s, target.Label(), late)
	assert.Equal(t, OutcomeValidationError, got.Outcome)
	assert.Equal(t, EffectNone, eff.Kind)
}

func TestSession_Subject(t *testing.T) {
	s := NewSubscribe(100, nil)
	assert.Equal(t, int64(100), s.Subject())
	s.StudentID = 5
	assert.Equal(t, int64(5), s.Subject())
	s = s.Finish(OutcomeOK, "")
	assert.Zero(t, s.StudentID, "attachment is cleared once used")
}
