package booking

import "studiobook/internal/models"

// Ref addresses a booking. OwnerID may be empty when an admin acts on a
// booking by id alone; the owner is then resolved from the repository.
type Ref struct {
	OwnerID   string
	BookingID string
}

// Command is a lifecycle operation on an existing booking. The set of
// commands is closed: callers pick the variant explicitly and the service
// never infers a status change from an edit.
type Command interface {
	ref() Ref
	name() string
}

// EditCommand merges a patch into a non-terminal booking.
type EditCommand struct {
	Ref
	Patch models.BookingPatch
}

// DeclineCommand moves a pending booking to declined. Reason is required.
type DeclineCommand struct {
	Ref
	Reason string
}

// ConfirmCommand moves a pending booking to booking_confirmed.
type ConfirmCommand struct {
	Ref
}

// FinishCommand moves a confirmed booking to finished.
type FinishCommand struct {
	Ref
}

// PaymentCommand marks a booking paid. Repeating it is a no-op.
type PaymentCommand struct {
	Ref
}

// CancelCommand deletes a booking and its calendar event.
type CancelCommand struct {
	Ref
}

func (c EditCommand) ref() Ref    { return c.Ref }
func (c DeclineCommand) ref() Ref { return c.Ref }
func (c ConfirmCommand) ref() Ref { return c.Ref }
func (c FinishCommand) ref() Ref  { return c.Ref }
func (c PaymentCommand) ref() Ref { return c.Ref }
func (c CancelCommand) ref() Ref  { return c.Ref }

func (EditCommand) name() string    { return "edit" }
func (DeclineCommand) name() string { return "decline" }
func (ConfirmCommand) name() string { return "confirm" }
func (FinishCommand) name() string  { return "finish" }
func (PaymentCommand) name() string { return "payment" }
func (CancelCommand) name() string  { return "cancel" }
