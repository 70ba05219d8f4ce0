package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dyezepchik/time-chart-bot/internal/booking"
	"github.com/dyezepchik/time-chart-bot/internal/model"
	"github.com/dyezepchik/time-chart-bot/internal/service"
)

// BookingHandler drives booking and unsubscribe conversations over HTTP.
// Each reply is one POST; the response is the session after the reply.
type BookingHandler struct {
	svc      *service.BookingService
	sessions *SessionStore
}

// NewBookingHandler constructs a BookingHandler.
func NewBookingHandler(svc *service.BookingService, sessions *SessionStore) *BookingHandler {
	return &BookingHandler{svc: svc, sessions: sessions}
}

// StartBooking handles POST /bookings
func (h *BookingHandler) StartBooking(w http.ResponseWriter, r *http.Request) {
	h.start(w, r, func(ctx context.Context) (booking.Session, error) {
		return h.svc.StartBooking(ctx, caller(r))
	})
}

// StartBookingFor handles POST /admin/bookings
// Starts a booking conversation on behalf of a student.
func (h *BookingHandler) StartBookingFor(w http.ResponseWriter, r *http.Request) {
	var req model.StartSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	h.start(w, r, func(ctx context.Context) (booking.Session, error) {
		return h.svc.StartBookingFor(ctx, caller(r), req.StudentID)
	})
}

// StartUnsubscribe handles POST /unsubscriptions
func (h *BookingHandler) StartUnsubscribe(w http.ResponseWriter, r *http.Request) {
	h.start(w, r, func(ctx context.Context) (booking.Session, error) {
		return h.svc.StartUnsubscribe(ctx, caller(r))
	})
}

func (h *BookingHandler) start(w http.ResponseWriter, r *http.Request, fn func(context.Context) (booking.Session, error)) {
	sess, err := fn(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	h.sessions.Put(sess)
	writeJSON(w, http.StatusCreated, sess)
}

// AdvanceBooking handles POST /bookings/{sessionID}
func (h *BookingHandler) AdvanceBooking(w http.ResponseWriter, r *http.Request) {
	h.advance(w, r, booking.FlowSubscribe)
}

// AdvanceUnsubscribe handles POST /unsubscriptions/{sessionID}
func (h *BookingHandler) AdvanceUnsubscribe(w http.ResponseWriter, r *http.Request) {
	h.advance(w, r, booking.FlowUnsubscribe)
}

func (h *BookingHandler) advance(w http.ResponseWriter, r *http.Request, flow booking.Flow) {
	var req model.InputRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	sess, ok := h.sessions.Take(chi.URLParam(r, "sessionID"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found or expired")
		return
	}
	if sess.UserID != caller(r) || sess.Flow != flow {
		h.sessions.Put(sess)
		writeError(w, http.StatusNotFound, "session not found or expired")
		return
	}

	next, err := h.svc.Advance(r.Context(), sess, req.Text)
	h.sessions.Put(next)
	if err != nil {
		if next.Outcome == booking.OutcomeStorageError {
			writeJSON(w, http.StatusInternalServerError, next)
			return
		}
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, next)
}
