// Package booking sequences the booking lifecycle across the repository, the
// calendar and outbound notifications.
package booking

import "studiobook/internal/models"

// FSM holds the allowed status transitions of a booking.
type FSM struct {
	transitions map[models.Status][]models.Status
}

// NewFSM creates the booking status machine:
// waiting_for_confirmation -> booking_confirmed -> finished, and
// waiting_for_confirmation -> declined. Declined and finished are terminal.
func NewFSM() *FSM {
	return &FSM{
		transitions: map[models.Status][]models.Status{
			models.StatusWaitingForConfirmation: {models.StatusConfirmed, models.StatusDeclined},
			models.StatusConfirmed:              {models.StatusFinished},
			models.StatusDeclined:               {},
			models.StatusFinished:               {},
		},
	}
}

// CanTransition checks if transition is allowed.
func (f *FSM) CanTransition(from, to models.Status) bool {
	allowed, ok := f.transitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}
