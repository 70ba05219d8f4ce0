// Package model defines the core domain types for the class booking system.
package model

import "time"

// User is a person known to the bot. Users are created on first contact and
// never deleted.
type User struct {
	ID        int64  `json:"id"`
	NickName  string `json:"nick_name"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	GroupNum  *int   `json:"group_num,omitempty"`
}

// UserField names a user column that may be updated on its own.
type UserField string

const (
	FieldNickName  UserField = "nick_name"
	FieldFirstName UserField = "first_name"
	FieldLastName  UserField = "last_name"
	FieldGroupNum  UserField = "group_num"
)

// Valid reports whether f is one of the updatable user fields.
func (f UserField) Valid() bool {
	switch f {
	case FieldNickName, FieldFirstName, FieldLastName, FieldGroupNum:
		return true
	}
	return false
}

// Class is a bookable (place, date, time slot) cell of the calendar.
type Class struct {
	ID    int64     `json:"id"`
	Place string    `json:"place"`
	Date  time.Time `json:"date"`
	Time  string    `json:"time"`
	Open  bool      `json:"open"`
}

// Slot identifies a class by its grid coordinates.
type Slot struct {
	Place string    `json:"place"`
	Date  time.Time `json:"date"`
	Time  string    `json:"time"`
}

// Label renders the slot the way it is offered to users: "place date time".
func (s Slot) Label() string {
	return s.Place + " " + FormatDate(s.Date) + " " + s.Time
}

// DateAvailability is one row of the open-dates listing.
type DateAvailability struct {
	Date      time.Time `json:"date"`
	OpenSlots int       `json:"open_slots"`
}

// ScheduleEntry is one booking in the admin schedule listing.
type ScheduleEntry struct {
	Slot
	UserID    int64  `json:"user_id"`
	NickName  string `json:"nick_name"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	GroupNum  *int   `json:"group_num,omitempty"`
}

// RemovalSummary reports what a bulk removal deleted.
type RemovalSummary struct {
	Classes       int64 `json:"classes"`
	Subscriptions int64 `json:"subscriptions"`
}

// Settings keys and values.
const (
	SettingAllow = "allow"
	AllowYes     = "yes"
	AllowNo      = "no"
)

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}

// UpsertUserRequest is the payload for registering a user on first contact.
type UpsertUserRequest struct {
	ID        int64  `json:"id"`
	NickName  string `json:"nick_name"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// UpdateProfileRequest carries the profile completion steps. Nil fields are
// left untouched.
type UpdateProfileRequest struct {
	FirstName *string `json:"first_name,omitempty"`
	LastName  *string `json:"last_name,omitempty"`
	GroupNum  *int    `json:"group_num,omitempty"`
}

// GenerateRequest is the payload for adding classes to the calendar.
type GenerateRequest struct {
	Start     string   `json:"start"`
	End       string   `json:"end"`
	Places    []string `json:"places,omitempty"`
	TimeSlots []string `json:"time_slots,omitempty"`
}

// RemoveRequest is the payload for bulk removal. End and TimeSlot are
// optional; an empty Places list means every configured place.
type RemoveRequest struct {
	Start    string   `json:"start"`
	End      string   `json:"end,omitempty"`
	TimeSlot string   `json:"time_slot,omitempty"`
	Places   []string `json:"places,omitempty"`
}

// AdmissionRequest opens or closes subscriptions.
type AdmissionRequest struct {
	Open bool `json:"open"`
}

// StartSessionRequest starts a booking or unsubscribe conversation.
type StartSessionRequest struct {
	StudentID int64 `json:"student_id,omitempty"`
}

// InputRequest carries one user reply within a conversation.
type InputRequest struct {
	Text string `json:"text"`
}
