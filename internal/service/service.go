// Package service implements business logic, validation, and orchestration
// between the presentation layer and the repository: calendar generation,
// the slot capacity engine, bulk removal, admission checks and the booking
// conversations.
package service

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// Error kinds surfaced to callers. Storage failures are returned wrapped as
// they come from the repository.
var (
	// ErrValidation marks malformed or out-of-policy input.
	ErrValidation = errors.New("invalid request")
	// ErrPolicyDenied marks closed admission, a reached cap or an
	// unauthorized admin action.
	ErrPolicyDenied = errors.New("not allowed")
	// ErrCapacityExceeded is returned when a class filled up between being
	// offered and being booked.
	ErrCapacityExceeded = errors.New("class is full")
	// ErrAlreadySubscribed is returned when the user already holds a seat in
	// the class.
	ErrAlreadySubscribed = fmt.Errorf("%w: already subscribed to this class", ErrPolicyDenied)
)

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func deniedf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrPolicyDenied, fmt.Sprintf(format, args...))
}

// Option configures a service.
type Option func(*options)

type options struct {
	now func() time.Time
	log *slog.Logger
}

// WithClock overrides the wall clock, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLogger sets the logger; the default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

func buildOptions(opts []Option) options {
	o := options{
		now: time.Now,
		log: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
