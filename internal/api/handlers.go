package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"
	"time"

	"studiobook/internal/apperr"
	"studiobook/internal/auth"
	"studiobook/internal/booking"
	"studiobook/internal/models"
)

// bookingData is the booking payload sent by the client. total is accepted
// for compatibility and ignored; totals are always computed server side.
type bookingData struct {
	Date          *string               `json:"date,omitempty"`
	Time          *string               `json:"time,omitempty"`
	DurationHours *int                  `json:"duration,omitempty"`
	Total         *int64                `json:"total,omitempty"`
	PaymentStatus *models.PaymentStatus `json:"paymentStatus,omitempty"`
	Status        *models.Status        `json:"status,omitempty"`
	DeclineReason string                `json:"declineReason,omitempty"`
	Equipment     *[]models.Equipment   `json:"equipment,omitempty"`
	CDJCount      *int                  `json:"cdjCount,omitempty"`
}

func (d bookingData) draft(userName, userEmail string) models.BookingDraft {
	draft := models.BookingDraft{UserName: userName, UserEmail: userEmail}
	if d.Date != nil {
		draft.Date = *d.Date
	}
	if d.Time != nil {
		draft.Time = *d.Time
	}
	if d.DurationHours != nil {
		draft.DurationHours = *d.DurationHours
	}
	if d.Equipment != nil {
		draft.Equipment = *d.Equipment
	}
	if d.CDJCount != nil {
		draft.CDJCount = *d.CDJCount
	}
	return draft
}

func (d bookingData) patch(userName, userEmail string) models.BookingPatch {
	p := models.BookingPatch{
		Date:          d.Date,
		Time:          d.Time,
		DurationHours: d.DurationHours,
		Equipment:     d.Equipment,
		CDJCount:      d.CDJCount,
		PaymentStatus: d.PaymentStatus,
	}
	if userName = strings.TrimSpace(userName); userName != "" {
		p.UserName = &userName
	}
	if userEmail = strings.TrimSpace(userEmail); userEmail != "" {
		p.UserEmail = &userEmail
	}
	return p
}

// editCommands turns an edit request into the explicit command sequence: the
// field edit first, then at most one status command. A status equal to current
// is an echo and adds nothing; a status current cannot move to fails before
// any command runs.
func editCommands(ref booking.Ref, d bookingData, userName, userEmail string, current models.Status) ([]booking.Command, error) {
	cmds := []booking.Command{booking.EditCommand{Ref: ref, Patch: d.patch(userName, userEmail)}}
	if d.Status == nil {
		return cmds, nil
	}
	to := *d.Status
	if !to.Valid() {
		return nil, apperr.Validation("unknown status %q", to)
	}
	if to == current {
		return cmds, nil
	}

	var next booking.Command
	switch to {
	case models.StatusConfirmed:
		next = booking.ConfirmCommand{Ref: ref}
	case models.StatusFinished:
		next = booking.FinishCommand{Ref: ref}
	case models.StatusDeclined:
		if strings.TrimSpace(d.DeclineReason) == "" {
			return nil, apperr.Validation("a reason is required to decline a booking")
		}
		next = booking.DeclineCommand{Ref: ref, Reason: d.DeclineReason}
	}
	if next == nil || !booking.NewFSM().CanTransition(current, to) {
		return nil, apperr.Conflict("cannot move a booking from %s to %s", current, to)
	}
	return append(cmds, next), nil
}

type confirmBookingRequest struct {
	BookingData      bookingData `json:"bookingData"`
	UserName         string      `json:"userName"`
	UserEmail        string      `json:"userEmail,omitempty"`
	UserID           string      `json:"userId,omitempty"`
	EditingBookingID string      `json:"editingBookingId,omitempty"`
	CalendarEventID  string      `json:"calendarEventId,omitempty"`
}

type bookingRefRequest struct {
	BookingID       string `json:"bookingId"`
	UserID          string `json:"userId,omitempty"`
	// Accepted for client compatibility; the stored event id is authoritative.
	CalendarEventID string `json:"calendarEventId,omitempty"`
}

func (r bookingRefRequest) ref() booking.Ref {
	return booking.Ref{OwnerID: r.UserID, BookingID: r.BookingID}
}

type declineRequest struct {
	BookingID       string `json:"bookingId"`
	UserID          string `json:"userId"`
	CalendarEventID string `json:"calendarEventId,omitempty"`
	Reason          string `json:"reason"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type profileRequest struct {
	DisplayName string `json:"displayName"`
	Email       string `json:"email,omitempty"`
}

type createUserRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName,omitempty"`
}

type loginDetailsRequest struct {
	UserEmail string `json:"userEmail"`
	Password  string `json:"password"`
}

type addCreditsRequest struct {
	UserID string `json:"userId"`
	Amount int64  `json:"amount"`
}

type maintenanceRequest struct {
	IsEnabled bool   `json:"isEnabled"`
	Message   string `json:"message"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	failed := map[string]string{}
	for _, c := range s.checks {
		if err := c.Probe(r.Context()); err != nil {
			failed[c.Name] = err.Error()
		}
	}
	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not ready", "failed": failed})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	res, err := s.gate.Login(r.Context(), strings.TrimSpace(req.Email), req.Password)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":       res.Token,
		"uid":         res.Account.UID,
		"email":       res.Account.Email,
		"displayName": res.Account.DisplayName,
		"isAdmin":     res.IsAdmin,
	})
}

func (s *Server) handleMaintenanceStatus(w http.ResponseWriter, r *http.Request) {
	m, err := s.maintenance.Get(r.Context())
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"isEnabled": m.IsEnabled, "message": m.Message})
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request, id models.Identity) {
	var req profileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if err := s.users.UpdateProfile(r.Context(), id, req.DisplayName, req.Email); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "User profile updated successfully!"})
}

// handleConfirmBooking creates a booking for the caller, or edits one of the
// caller's bookings when editingBookingId is set.
func (s *Server) handleConfirmBooking(w http.ResponseWriter, r *http.Request, id models.Identity) {
	var req confirmBookingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeAppError(w, r, err)
		return
	}

	if req.EditingBookingID == "" {
		b, err := s.bookings.Create(r.Context(), id, id.UID, req.BookingData.draft(req.UserName, req.UserEmail))
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "bookingId": b.ID})
		return
	}

	ownerID := req.UserID
	if ownerID == "" {
		ownerID = id.UID
	}
	s.runEdit(w, r, id, booking.Ref{OwnerID: ownerID, BookingID: req.EditingBookingID}, req)
}

// handleAdminConfirmBooking edits any owner's booking on the operator's behalf.
func (s *Server) handleAdminConfirmBooking(w http.ResponseWriter, r *http.Request, id models.Identity) {
	var req confirmBookingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if req.EditingBookingID == "" {
		s.writeAppError(w, r, apperr.Validation("editingBookingId is required"))
		return
	}
	s.runEdit(w, r, id, booking.Ref{OwnerID: req.UserID, BookingID: req.EditingBookingID}, req)
}

func (s *Server) runEdit(w http.ResponseWriter, r *http.Request, id models.Identity, ref booking.Ref, req confirmBookingRequest) {
	var current models.Status
	if req.BookingData.Status != nil {
		b, err := s.bookings.Get(r.Context(), id, ref)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		current = b.Status
	}
	cmds, err := editCommands(ref, req.BookingData, req.UserName, req.UserEmail, current)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	// Status commands are admin-only; reject before the field edit is applied.
	if len(cmds) > 1 {
		if err := auth.RequireAdmin(id); err != nil {
			s.writeAppError(w, r, err)
			return
		}
	}
	for _, cmd := range cmds {
		if _, err := s.bookings.Dispatch(r.Context(), id, cmd); err != nil {
			s.writeAppError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "bookingId": ref.BookingID})
}

func (s *Server) handleConfirmPayment(w http.ResponseWriter, r *http.Request, id models.Identity) {
	var req bookingRefRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if _, err := s.bookings.Dispatch(r.Context(), id, booking.PaymentCommand{Ref: req.ref()}); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Payment confirmed successfully!"})
}

func (s *Server) handleBookedSlots(w http.ResponseWriter, r *http.Request, id models.Identity) {
	date := r.URL.Query().Get("date")
	if date == "" {
		s.writeAppError(w, r, apperr.Validation("Date parameter is required."))
		return
	}
	slots, err := s.bookings.BookedSlots(r.Context(), id, date)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookedSlots": slots})
}

func (s *Server) handleMyBookings(w http.ResponseWriter, r *http.Request, id models.Identity) {
	s.writeList(w, r, id, models.ScopeMine)
}

func (s *Server) handleListBookings(scope models.Scope) func(http.ResponseWriter, *http.Request, models.Identity) {
	return func(w http.ResponseWriter, r *http.Request, id models.Identity) {
		s.writeList(w, r, id, scope)
	}
}

func (s *Server) writeList(w http.ResponseWriter, r *http.Request, id models.Identity, scope models.Scope) {
	views, err := s.bookings.List(r.Context(), id, scope)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleCancelBooking(w http.ResponseWriter, r *http.Request, id models.Identity) {
	var req bookingRefRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if _, err := s.bookings.Dispatch(r.Context(), id, booking.CancelCommand{Ref: req.ref()}); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Booking cancelled successfully."})
}

func (s *Server) handleStatus(build func(booking.Ref) booking.Command) func(http.ResponseWriter, *http.Request, models.Identity) {
	return func(w http.ResponseWriter, r *http.Request, id models.Identity) {
		var req bookingRefRequest
		if err := decodeJSON(w, r, &req); err != nil {
			s.writeAppError(w, r, err)
			return
		}
		b, err := s.bookings.Dispatch(r.Context(), id, build(req.ref()))
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "status": b.Status})
	}
}

// handleDeclineBooking declines a pending booking. The calendar event to remove
// is taken from the stored booking; a calendarEventId in the body is ignored.
func (s *Server) handleDeclineBooking(w http.ResponseWriter, r *http.Request, id models.Identity) {
	var req declineRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	cmd := booking.DeclineCommand{Ref: booking.Ref{OwnerID: req.UserID, BookingID: req.BookingID}, Reason: req.Reason}
	if _, err := s.bookings.Dispatch(r.Context(), id, cmd); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Booking declined successfully."})
}

func (s *Server) handleAdminCreateBooking(w http.ResponseWriter, r *http.Request, id models.Identity) {
	var req confirmBookingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeAppError(w, r, err)
		return
	}

	draft := req.BookingData.draft(req.UserName, req.UserEmail)
	var (
		b   *models.Booking
		err error
	)
	if req.UserID != "" {
		b, err = s.bookings.Create(r.Context(), id, req.UserID, draft)
	} else {
		b, err = s.bookings.CreateForEmail(r.Context(), id, req.UserEmail, draft)
	}
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "bookingId": b.ID})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request, id models.Identity) {
	var buf bytes.Buffer
	if err := s.exporter.Write(r.Context(), id, &buf); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	name := fmt.Sprintf("bookings-%s.xlsx", time.Now().Format("20060102"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request, id models.Identity) {
	profiles, err := s.users.List(r.Context(), id)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profiles)
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request, id models.Identity) {
	var req createUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	acct, err := s.users.CreateUser(r.Context(), id, req.Email, req.Password, req.DisplayName)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"uid":         acct.UID,
		"email":       acct.Email,
		"displayName": acct.DisplayName,
	})
}

func (s *Server) handleSendLoginDetails(w http.ResponseWriter, r *http.Request, id models.Identity) {
	var req loginDetailsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if err := s.users.SendLoginDetails(r.Context(), id, req.UserEmail, req.Password); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Login details sent successfully."})
}

func (s *Server) handleAddCredits(w http.ResponseWriter, r *http.Request, id models.Identity) {
	var req addCreditsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	balance, err := s.credits.Add(r.Context(), id, req.UserID, req.Amount)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("Successfully added %d credits to user %s.", req.Amount, req.UserID),
		"credits": balance,
	})
}

func (s *Server) handleSetMaintenance(w http.ResponseWriter, r *http.Request, id models.Identity) {
	var req maintenanceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if err := s.maintenance.Set(r.Context(), id, req.IsEnabled, req.Message); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	state := "disabled"
	if req.IsEnabled {
		state = "enabled"
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Maintenance mode " + state + "."})
}
