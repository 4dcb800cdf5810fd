package models

import (
	"time"

	"studiobook/internal/apperr"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// Status is the lifecycle axis of a booking.
type Status string

const (
	StatusWaitingForConfirmation Status = "waiting_for_confirmation"
	StatusConfirmed              Status = "booking_confirmed"
	StatusDeclined               Status = "declined"
	StatusFinished               Status = "finished"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusWaitingForConfirmation, StatusConfirmed, StatusDeclined, StatusFinished:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no transition leaves s.
func (s Status) IsTerminal() bool {
	return s == StatusDeclined || s == StatusFinished
}

// PaymentStatus is independent of Status. Paid is terminal.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
)

func (p PaymentStatus) Valid() bool {
	return p == PaymentPending || p == PaymentPaid
}

// Equipment is a reference to a catalog item selected for a booking.
type Equipment struct {
	ID       int64  `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	Type     string `json:"type" yaml:"type"`
	Category string `json:"category" yaml:"category"`
}

// Booking represents a reservation of the studio.
type Booking struct {
	ID              string        `json:"id"`
	OwnerID         string        `json:"userId"`
	Date            string        `json:"date"` // YYYY-MM-DD
	Time            string        `json:"time"` // HH:MM
	DurationHours   int           `json:"duration"`
	Total           int64         `json:"total"`
	PaymentStatus   PaymentStatus `json:"paymentStatus"`
	Status          Status        `json:"status"`
	DeclineReason   string        `json:"declineReason,omitempty"`
	Equipment       []Equipment   `json:"equipment"`
	CDJCount        int           `json:"cdjCount,omitempty"`
	CalendarEventID string        `json:"calendarEventId,omitempty"`
	UserName        string        `json:"userName"`
	UserEmail       string        `json:"userEmail"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"lastUpdated"`
	Version         int64         `json:"-"`
}

// HasCalendarEvent reports whether the booking is mirrored in the calendar.
func (b *Booking) HasCalendarEvent() bool {
	return b.CalendarEventID != ""
}

// Start returns the booking start in loc.
func (b *Booking) Start(loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	return time.ParseInLocation(DateLayout+" "+TimeLayout, b.Date+" "+b.Time, loc)
}

// End returns the booking end in loc.
func (b *Booking) End(loc *time.Location) (time.Time, error) {
	start, err := b.Start(loc)
	if err != nil {
		return time.Time{}, err
	}
	return start.Add(time.Duration(b.DurationHours) * time.Hour), nil
}

// Clone returns a deep copy of b.
func (b *Booking) Clone() *Booking {
	if b == nil {
		return nil
	}
	c := *b
	if b.Equipment != nil {
		c.Equipment = append([]Equipment(nil), b.Equipment...)
	}
	return &c
}

// BookingDraft is the user-supplied part of a new booking.
type BookingDraft struct {
	Date          string      `json:"date"`
	Time          string      `json:"time"`
	DurationHours int         `json:"duration"`
	Equipment     []Equipment `json:"equipment"`
	CDJCount      int         `json:"cdjCount,omitempty"`
	UserName      string      `json:"userName"`
	UserEmail     string      `json:"userEmail"`
}

// Validate checks the scheduling fields of the draft.
func (d *BookingDraft) Validate() error {
	if err := ValidateDate(d.Date); err != nil {
		return err
	}
	if err := ValidateTime(d.Time); err != nil {
		return err
	}
	if d.DurationHours <= 0 {
		return apperr.Validation("duration must be a positive number of hours")
	}
	return nil
}

// BookingPatch holds the fields an edit may change. Nil means unchanged.
type BookingPatch struct {
	Date          *string        `json:"date,omitempty"`
	Time          *string        `json:"time,omitempty"`
	DurationHours *int           `json:"duration,omitempty"`
	Equipment     *[]Equipment   `json:"equipment,omitempty"`
	CDJCount      *int           `json:"cdjCount,omitempty"`
	PaymentStatus *PaymentStatus `json:"paymentStatus,omitempty"`
	UserName      *string        `json:"userName,omitempty"`
	UserEmail     *string        `json:"userEmail,omitempty"`
}

// Apply merges the patch into b after validating the touched fields.
func (p *BookingPatch) Apply(b *Booking) error {
	if p.Date != nil {
		if err := ValidateDate(*p.Date); err != nil {
			return err
		}
		b.Date = *p.Date
	}
	if p.Time != nil {
		if err := ValidateTime(*p.Time); err != nil {
			return err
		}
		b.Time = *p.Time
	}
	if p.DurationHours != nil {
		if *p.DurationHours <= 0 {
			return apperr.Validation("duration must be a positive number of hours")
		}
		b.DurationHours = *p.DurationHours
	}
	if p.Equipment != nil {
		b.Equipment = append([]Equipment(nil), (*p.Equipment)...)
	}
	if p.CDJCount != nil {
		b.CDJCount = *p.CDJCount
	}
	if p.PaymentStatus != nil {
		ps := *p.PaymentStatus
		if !ps.Valid() {
			return apperr.Validation("unknown payment status %q", ps)
		}
		if b.PaymentStatus == PaymentPaid && ps != PaymentPaid {
			return apperr.Conflict("booking %s is already paid", b.ID)
		}
		b.PaymentStatus = ps
	}
	if p.UserName != nil {
		b.UserName = *p.UserName
	}
	if p.UserEmail != nil {
		b.UserEmail = *p.UserEmail
	}
	return nil
}

// ValidateDate checks a YYYY-MM-DD calendar date.
func ValidateDate(s string) error {
	if s == "" {
		return apperr.Validation("date is required")
	}
	if _, err := time.Parse(DateLayout, s); err != nil {
		return apperr.Validation("invalid date format; expected YYYY-MM-DD")
	}
	return nil
}

// ValidateTime checks an HH:MM time of day.
func ValidateTime(s string) error {
	if s == "" {
		return apperr.Validation("time is required")
	}
	if _, err := time.Parse(TimeLayout, s); err != nil {
		return apperr.Validation("invalid time format; expected HH:MM")
	}
	return nil
}

// BookedSlot is the public projection of a booking used for availability checks.
type BookedSlot struct {
	Date          string `json:"date"`
	Time          string `json:"time"`
	DurationHours int    `json:"duration"`
	Status        Status `json:"status"`
}

// Slot projects the booking onto its schedule.
func (b *Booking) Slot() BookedSlot {
	return BookedSlot{Date: b.Date, Time: b.Time, DurationHours: b.DurationHours, Status: b.Status}
}

// BookingView is a booking enriched with the owner's current profile.
type BookingView struct {
	Booking
	OwnerEmail       string `json:"ownerEmail,omitempty"`
	OwnerDisplayName string `json:"ownerDisplayName,omitempty"`
}

// Scope selects the projection returned by ListBookings.
type Scope string

const (
	ScopeMine     Scope = "mine"
	ScopeOpen     Scope = "all-open"
	ScopeFinished Scope = "all-finished"
)
