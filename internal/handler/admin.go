package handler

import (
	"net/http"
	"strconv"

	"github.com/dyezepchik/time-chart-bot/internal/model"
	"github.com/dyezepchik/time-chart-bot/internal/service"
)

// AdminHandler serves calendar management endpoints. Every action is
// authorized by the service layer.
type AdminHandler struct {
	classes *service.ClassService
	users   *service.UserService
}

// NewAdminHandler constructs an AdminHandler.
func NewAdminHandler(classes *service.ClassService, users *service.UserService) *AdminHandler {
	return &AdminHandler{classes: classes, users: users}
}

// Generate handles POST /admin/schedule
// Adds classes for a date range; the whole range is created or nothing is.
func (h *AdminHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var req model.GenerateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	n, err := h.classes.Generate(r.Context(), caller(r), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]int{"created": n})
}

// Remove handles DELETE /admin/schedule
// Removes classes and their bookings for a date or range.
func (h *AdminHandler) Remove(w http.ResponseWriter, r *http.Request) {
	var req model.RemoveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	summary, err := h.classes.Remove(r.Context(), caller(r), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// Schedule handles GET /admin/schedule?from=YYYY-MM-DD
func (h *AdminHandler) Schedule(w http.ResponseWriter, r *http.Request) {
	entries, err := h.classes.Schedule(r.Context(), caller(r), r.URL.Query().Get("from"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	if entries == nil {
		entries = []model.ScheduleEntry{}
	}

	writeJSON(w, http.StatusOK, entries)
}

// SetAdmission handles PUT /admin/admission
func (h *AdminHandler) SetAdmission(w http.ResponseWriter, r *http.Request) {
	var req model.AdmissionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := h.classes.SetAdmissionOpen(r.Context(), caller(r), req.Open); err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, req)
}

// Admission handles GET /admission
func (h *AdminHandler) Admission(w http.ResponseWriter, r *http.Request) {
	open, err := h.classes.SubscriptionsAllowed(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, model.AdmissionRequest{Open: open})
}

// Students handles GET /admin/students?group=N
// Without a group the most recent group is listed.
func (h *AdminHandler) Students(w http.ResponseWriter, r *http.Request) {
	var group *int
	if v := r.URL.Query().Get("group"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid group")
			return
		}
		group = &n
	}

	users, err := h.users.ListStudents(r.Context(), caller(r), group)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, users)
}
