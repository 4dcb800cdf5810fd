package booking

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"studiobook/internal/apperr"
	"studiobook/internal/auth"
	"studiobook/internal/calendar"
	"studiobook/internal/database"
	"studiobook/internal/events"
	"studiobook/internal/metrics"
	"studiobook/internal/models"
	"studiobook/internal/notify"

	"github.com/rs/zerolog"
)

// Repository is the booking store.
type Repository interface {
	CreateBooking(ctx context.Context, b *models.Booking) error
	GetBooking(ctx context.Context, ownerID, id string) (*models.Booking, error)
	FindBooking(ctx context.Context, id string) (*models.Booking, error)
	UpdateBooking(ctx context.Context, b *models.Booking) error
	AttachCalendarEvent(ctx context.Context, ownerID, id, eventID string) error
	DetachCalendarEvent(ctx context.Context, ownerID, id, eventID string) error
	DeleteBooking(ctx context.Context, ownerID, id string) (*models.Booking, error)
	ListBookings(ctx context.Context) ([]*models.Booking, error)
	ListBookingsByOwner(ctx context.Context, ownerID string) ([]*models.Booking, error)
	ListBookingsByDate(ctx context.Context, date string) ([]*models.Booking, error)
}

// ProfileStore reads user profiles for enrichment and owner lookup.
type ProfileStore interface {
	GetProfile(ctx context.Context, uid string) (*models.UserProfile, error)
	FindProfileByEmail(ctx context.Context, email string) (*models.UserProfile, error)
	ListProfiles(ctx context.Context) ([]*models.UserProfile, error)
}

// Calendar mirrors bookings as external events.
type Calendar interface {
	CreateEvent(ctx context.Context, b *models.Booking, ownerEmail string) (string, error)
	UpdateEvent(ctx context.Context, eventID string, b *models.Booking, ownerEmail string) error
	DeleteEvent(ctx context.Context, eventID string) error
}

// Notifier queues booking emails. It must not block.
type Notifier interface {
	NotifyBooking(kind notify.Kind, b *models.Booking, ownerEmail string)
}

// Publisher receives lifecycle events after each committed write.
type Publisher interface {
	Publish(event events.Event)
}

// SlotCache caches the booked-slot projection per date.
type SlotCache interface {
	Slots(ctx context.Context, date string) ([]models.BookedSlot, bool)
	SetSlots(ctx context.Context, date string, slots []models.BookedSlot)
}

// Config is injected at construction.
type Config struct {
	Prices          models.PriceList
	CalendarTimeout time.Duration
	MaxRetries      int
}

// Service is the booking lifecycle orchestrator.
type Service struct {
	repo     Repository
	profiles ProfileStore
	calendar Calendar
	notifier Notifier
	bus      Publisher
	slots    SlotCache
	fsm      *FSM
	cfg      Config
	logger   zerolog.Logger
}

func NewService(
	repo Repository,
	profiles ProfileStore,
	cal Calendar,
	notifier Notifier,
	bus Publisher,
	slots SlotCache,
	cfg Config,
	logger zerolog.Logger,
) *Service {
	if cfg.CalendarTimeout <= 0 {
		cfg.CalendarTimeout = 5 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	return &Service{
		repo:     repo,
		profiles: profiles,
		calendar: cal,
		notifier: notifier,
		bus:      bus,
		slots:    slots,
		fsm:      NewFSM(),
		cfg:      cfg,
		logger:   logger.With().Str("component", "booking").Logger(),
	}
}

// repoError maps repository failures onto the error taxonomy.
func repoError(err error, format string, args ...any) error {
	switch {
	case errors.Is(err, database.ErrNotFound):
		return apperr.NotFound(format, args...)
	case errors.Is(err, database.ErrConcurrentModification):
		return apperr.Conflict("booking was modified concurrently, please retry")
	default:
		return apperr.Dependency(err, "repository failure")
	}
}

// sideEffectContext detaches a post-commit side effect from the request so a
// client disconnect cannot abort it, while bounding how long it may run.
func (s *Service) sideEffectContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.cfg.CalendarTimeout)
}

// Create writes a new booking for ownerID, mirrors it to the calendar and
// notifies the owner and operator. Only the repository write can fail it.
func (s *Service) Create(ctx context.Context, actor models.Identity, ownerID string, draft models.BookingDraft) (b *models.Booking, err error) {
	defer func() { metrics.IncOperation("create", err) }()

	if err := auth.RequireUser(actor); err != nil {
		return nil, err
	}
	if ownerID == "" {
		ownerID = actor.UID
	}
	if err := auth.CanActOn(actor, ownerID); err != nil {
		return nil, err
	}
	if err := draft.Validate(); err != nil {
		return nil, err
	}

	b = &models.Booking{
		OwnerID:       ownerID,
		Date:          draft.Date,
		Time:          draft.Time,
		DurationHours: draft.DurationHours,
		Equipment:     draft.Equipment,
		CDJCount:      draft.CDJCount,
		PaymentStatus: models.PaymentPending,
		Status:        models.StatusWaitingForConfirmation,
		UserName:      strings.TrimSpace(draft.UserName),
		UserEmail:     strings.TrimSpace(draft.UserEmail),
	}
	// Notifications go to this address; only the operator may name another one.
	if !actor.IsAdmin || (b.UserEmail == "" && ownerID == actor.UID) {
		b.UserEmail = actor.Email
	}
	s.fillOwnerSnapshot(ctx, b)

	if err := s.cfg.Prices.Reprice(b); err != nil {
		return nil, err
	}

	if err := s.repo.CreateBooking(ctx, b); err != nil {
		return nil, apperr.Dependency(err, "failed to create booking")
	}

	s.logger.Info().Str("booking_id", b.ID).Str("owner_id", ownerID).Str("by", actor.Email).Msg("booking created")

	s.syncNew(ctx, b)

	s.notifier.NotifyBooking(notify.KindCreate, b, b.UserEmail)
	s.publish(events.BookingCreated, b, nil, actor)
	return b, nil
}

// CreateForEmail creates a booking on behalf of the user registered under email.
func (s *Service) CreateForEmail(ctx context.Context, actor models.Identity, email string, draft models.BookingDraft) (*models.Booking, error) {
	if err := auth.RequireAdmin(actor); err != nil {
		return nil, err
	}
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, apperr.Validation("userEmail is required")
	}
	profile, err := s.profiles.FindProfileByEmail(ctx, email)
	if err != nil {
		return nil, repoError(err, "no user registered with email %s", email)
	}
	if draft.UserEmail == "" {
		draft.UserEmail = email
	}
	return s.Create(ctx, actor, profile.UserID, draft)
}

// fillOwnerSnapshot completes the denormalized owner name and email from the
// owner's profile when the caller left them empty.
func (s *Service) fillOwnerSnapshot(ctx context.Context, b *models.Booking) {
	if b.UserName != "" && b.UserEmail != "" {
		return
	}
	profile, err := s.profiles.GetProfile(ctx, b.OwnerID)
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			s.logger.Warn().Err(err).Str("owner_id", b.OwnerID).Msg("profile lookup failed")
		}
		return
	}
	if b.UserName == "" {
		b.UserName = profile.DisplayName
	}
	if b.UserEmail == "" {
		b.UserEmail = profile.Email
	}
}

// SyncCalendar creates the calendar event of a booking that has none and
// records its id. When another writer recorded an event first, or the booking
// was closed meanwhile, the new event is deleted and the returned error wraps
// database.ErrCalendarEventConflict.
func (s *Service) SyncCalendar(ctx context.Context, b *models.Booking) error {
	if b.HasCalendarEvent() {
		return nil
	}
	calCtx, cancel := s.sideEffectContext(ctx)
	defer cancel()

	eventID, err := s.calendar.CreateEvent(calCtx, b, b.UserEmail)
	if err != nil {
		return err
	}
	if err := s.repo.AttachCalendarEvent(calCtx, b.OwnerID, b.ID, eventID); err != nil {
		// The event is orphaned without its id on record; remove it.
		if delErr := s.calendar.DeleteEvent(calCtx, eventID); delErr != nil {
			s.logger.Warn().Err(delErr).Str("event_id", eventID).Msg("failed to remove orphaned calendar event")
		}
		return err
	}
	b.CalendarEventID = eventID
	return nil
}

// syncNew mirrors a booking that has no event yet. Losing the race to another
// writer is not a failure.
func (s *Service) syncNew(ctx context.Context, b *models.Booking) {
	err := s.SyncCalendar(ctx, b)
	switch {
	case err == nil:
	case errors.Is(err, database.ErrCalendarEventConflict):
		s.logger.Debug().Str("booking_id", b.ID).Msg("calendar event recorded by another writer")
		s.refreshCalendarEventID(ctx, b)
	default:
		s.bestEffortFailed("calendar", err, b, "calendar create failed; booking left for repair")
	}
}

// refreshCalendarEventID reloads the recorded event id of b. Events are
// attached outside the versioned write path, so a record read before a commit
// may miss one.
func (s *Service) refreshCalendarEventID(ctx context.Context, b *models.Booking) {
	current, err := s.repo.GetBooking(ctx, b.OwnerID, b.ID)
	if err != nil {
		s.logger.Warn().Err(err).Str("booking_id", b.ID).Msg("failed to reload calendar event id")
		return
	}
	b.CalendarEventID = current.CalendarEventID
}

// Dispatch runs a lifecycle command and returns the resulting booking. For
// CancelCommand the returned booking is the deleted record.
func (s *Service) Dispatch(ctx context.Context, actor models.Identity, cmd Command) (b *models.Booking, err error) {
	if cmd == nil {
		return nil, apperr.Validation("no command given")
	}
	defer func() { metrics.IncOperation(cmd.name(), err) }()

	switch c := cmd.(type) {
	case EditCommand:
		return s.edit(ctx, actor, c)
	case DeclineCommand:
		return s.decline(ctx, actor, c)
	case ConfirmCommand:
		return s.transition(ctx, actor, c.Ref, models.StatusConfirmed, events.BookingConfirmed)
	case FinishCommand:
		return s.transition(ctx, actor, c.Ref, models.StatusFinished, events.BookingFinished)
	case PaymentCommand:
		return s.confirmPayment(ctx, actor, c)
	case CancelCommand:
		return s.cancel(ctx, actor, c)
	default:
		return nil, apperr.Validation("unsupported command %T", cmd)
	}
}

// resolve checks the actor may address ref and fills in a missing owner.
func (s *Service) resolve(ctx context.Context, actor models.Identity, ref Ref) (Ref, error) {
	if err := auth.RequireUser(actor); err != nil {
		return ref, err
	}
	if strings.TrimSpace(ref.BookingID) == "" {
		return ref, apperr.Validation("bookingId is required")
	}
	if !actor.IsAdmin {
		if ref.OwnerID != "" {
			if err := auth.CanActOn(actor, ref.OwnerID); err != nil {
				return ref, err
			}
		}
		ref.OwnerID = actor.UID
		return ref, nil
	}
	if ref.OwnerID == "" {
		b, err := s.repo.FindBooking(ctx, ref.BookingID)
		if err != nil {
			return ref, repoError(err, "booking %s not found", ref.BookingID)
		}
		ref.OwnerID = b.OwnerID
	}
	return ref, nil
}

// mutate runs a versioned read-modify-write. fn edits a copy of the current
// record and reports whether anything changed; unchanged records are not written.
func (s *Service) mutate(ctx context.Context, ref Ref, fn func(b *models.Booking) (bool, error)) (before, after *models.Booking, err error) {
	for attempt := 0; attempt < s.cfg.MaxRetries; attempt++ {
		current, err := s.repo.GetBooking(ctx, ref.OwnerID, ref.BookingID)
		if err != nil {
			return nil, nil, repoError(err, "booking %s not found", ref.BookingID)
		}

		next := current.Clone()
		changed, err := fn(next)
		if err != nil {
			return nil, nil, err
		}
		if !changed {
			return current, current, nil
		}

		err = s.repo.UpdateBooking(ctx, next)
		if errors.Is(err, database.ErrConcurrentModification) {
			s.logger.Debug().Str("booking_id", ref.BookingID).Int("attempt", attempt+1).Msg("version conflict, retrying")
			continue
		}
		if err != nil {
			return nil, nil, repoError(err, "booking %s not found", ref.BookingID)
		}
		return current, next, nil
	}
	return nil, nil, apperr.Conflict("booking %s was modified concurrently, please retry", ref.BookingID)
}

func (s *Service) edit(ctx context.Context, actor models.Identity, cmd EditCommand) (*models.Booking, error) {
	ref, err := s.resolve(ctx, actor, cmd.Ref)
	if err != nil {
		return nil, err
	}
	patch := cmd.Patch
	if !actor.IsAdmin {
		patch.UserEmail = nil
	}

	before, after, err := s.mutate(ctx, ref, func(b *models.Booking) (bool, error) {
		if b.Status.IsTerminal() {
			return false, apperr.Conflict("booking %s is %s and can no longer be edited", b.ID, b.Status)
		}
		if err := patch.Apply(b); err != nil {
			return false, err
		}
		if err := s.cfg.Prices.Reprice(b); err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("booking_id", after.ID).Str("owner_id", after.OwnerID).Str("by", actor.Email).Msg("booking edited")

	s.refreshCalendarEventID(ctx, after)
	s.syncEdit(ctx, after)
	s.notifier.NotifyBooking(notify.KindUpdate, after, after.UserEmail)
	s.publish(events.BookingUpdated, after, before, actor)
	return after, nil
}

// syncEdit pushes an edit to the calendar. Bookings that predate the calendar
// integration, or whose event vanished, get a fresh event.
func (s *Service) syncEdit(ctx context.Context, b *models.Booking) {
	if b.HasCalendarEvent() {
		calCtx, cancel := s.sideEffectContext(ctx)
		err := s.calendar.UpdateEvent(calCtx, b.CalendarEventID, b, b.UserEmail)
		cancel()
		if err == nil {
			return
		}
		if !calendar.IsGone(err) {
			s.bestEffortFailed("calendar", err, b, "calendar update failed")
			return
		}
		s.logger.Warn().Str("booking_id", b.ID).Str("event_id", b.CalendarEventID).Msg("calendar event missing, recreating")
		if !s.detachCalendarEvent(ctx, b) {
			return
		}
	}
	s.syncNew(ctx, b)
}

func (s *Service) decline(ctx context.Context, actor models.Identity, cmd DeclineCommand) (*models.Booking, error) {
	if err := auth.RequireAdmin(actor); err != nil {
		return nil, err
	}
	reason := strings.TrimSpace(cmd.Reason)
	if reason == "" {
		return nil, apperr.Validation("a reason is required to decline a booking")
	}
	ref, err := s.resolve(ctx, actor, cmd.Ref)
	if err != nil {
		return nil, err
	}

	before, after, err := s.mutate(ctx, ref, func(b *models.Booking) (bool, error) {
		if !s.fsm.CanTransition(b.Status, models.StatusDeclined) {
			return false, apperr.Conflict("cannot decline a booking that is %s", b.Status)
		}
		b.Status = models.StatusDeclined
		b.DeclineReason = reason
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("booking_id", after.ID).Str("owner_id", after.OwnerID).Str("reason", reason).Msg("booking declined")

	// No event can be attached after the decline commits, so the reloaded id is final.
	s.refreshCalendarEventID(ctx, after)
	if after.HasCalendarEvent() {
		s.removeCalendarEvent(ctx, after)
	}
	s.notifier.NotifyBooking(notify.KindDecline, after, after.UserEmail)
	s.publish(events.BookingDeclined, after, before, actor)
	return after, nil
}

// removeCalendarEvent deletes the event of b and clears the recorded id.
func (s *Service) removeCalendarEvent(ctx context.Context, b *models.Booking) {
	calCtx, cancel := s.sideEffectContext(ctx)
	defer cancel()

	if err := s.calendar.DeleteEvent(calCtx, b.CalendarEventID); err != nil {
		s.bestEffortFailed("calendar", err, b, "calendar delete failed")
		return
	}
	s.detachCalendarEvent(ctx, b)
}

// detachCalendarEvent clears the recorded event id of b if it is still the
// one b carries, and reports whether it did.
func (s *Service) detachCalendarEvent(ctx context.Context, b *models.Booking) bool {
	calCtx, cancel := s.sideEffectContext(ctx)
	defer cancel()

	err := s.repo.DetachCalendarEvent(calCtx, b.OwnerID, b.ID, b.CalendarEventID)
	if err != nil {
		s.logger.Warn().Err(err).Str("booking_id", b.ID).Str("event_id", b.CalendarEventID).Msg("failed to clear calendar event id")
		return false
	}
	b.CalendarEventID = ""
	return true
}

func (s *Service) transition(ctx context.Context, actor models.Identity, ref Ref, to models.Status, ev events.Type) (*models.Booking, error) {
	if err := auth.RequireAdmin(actor); err != nil {
		return nil, err
	}
	ref, err := s.resolve(ctx, actor, ref)
	if err != nil {
		return nil, err
	}

	before, after, err := s.mutate(ctx, ref, func(b *models.Booking) (bool, error) {
		if !s.fsm.CanTransition(b.Status, to) {
			return false, apperr.Conflict("cannot move a booking from %s to %s", b.Status, to)
		}
		b.Status = to
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("booking_id", after.ID).Str("status", string(to)).Msg("booking status changed")
	s.publish(ev, after, before, actor)
	return after, nil
}

func (s *Service) confirmPayment(ctx context.Context, actor models.Identity, cmd PaymentCommand) (*models.Booking, error) {
	ref, err := s.resolve(ctx, actor, cmd.Ref)
	if err != nil {
		return nil, err
	}

	before, after, err := s.mutate(ctx, ref, func(b *models.Booking) (bool, error) {
		if b.PaymentStatus == models.PaymentPaid {
			return false, nil
		}
		b.PaymentStatus = models.PaymentPaid
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if before == after {
		return after, nil
	}

	s.logger.Info().Str("booking_id", after.ID).Str("by", actor.Email).Msg("payment confirmed")
	s.publish(events.BookingPaid, after, before, actor)
	return after, nil
}

func (s *Service) cancel(ctx context.Context, actor models.Identity, cmd CancelCommand) (*models.Booking, error) {
	if err := auth.RequireAdmin(actor); err != nil {
		return nil, err
	}
	ref, err := s.resolve(ctx, actor, cmd.Ref)
	if err != nil {
		return nil, err
	}

	snapshot, err := s.repo.DeleteBooking(ctx, ref.OwnerID, ref.BookingID)
	if err != nil {
		return nil, repoError(err, "booking %s not found", ref.BookingID)
	}

	s.logger.Info().Str("booking_id", snapshot.ID).Str("owner_id", snapshot.OwnerID).Msg("booking cancelled")

	if snapshot.HasCalendarEvent() {
		calCtx, cancel := s.sideEffectContext(ctx)
		if err := s.calendar.DeleteEvent(calCtx, snapshot.CalendarEventID); err != nil {
			s.bestEffortFailed("calendar", err, snapshot, "calendar delete failed")
		}
		cancel()
	}
	s.notifier.NotifyBooking(notify.KindCancel, snapshot, snapshot.UserEmail)
	s.publish(events.BookingCancelled, snapshot, nil, actor)
	return snapshot, nil
}

// Get returns one booking the actor may see.
func (s *Service) Get(ctx context.Context, actor models.Identity, ref Ref) (*models.Booking, error) {
	ref, err := s.resolve(ctx, actor, ref)
	if err != nil {
		return nil, err
	}
	b, err := s.repo.GetBooking(ctx, ref.OwnerID, ref.BookingID)
	if err != nil {
		return nil, repoError(err, "booking %s not found", ref.BookingID)
	}
	return b, nil
}

// List returns the bookings of a scope enriched with the owners' current
// profiles. The open and finished scopes are separate reads and are not
// mutually consistent snapshots.
func (s *Service) List(ctx context.Context, actor models.Identity, scope models.Scope) ([]models.BookingView, error) {
	if err := auth.RequireUser(actor); err != nil {
		return nil, err
	}

	var (
		bookings []*models.Booking
		err      error
	)
	switch scope {
	case models.ScopeMine:
		bookings, err = s.repo.ListBookingsByOwner(ctx, actor.UID)
	case models.ScopeOpen, models.ScopeFinished:
		if err := auth.RequireAdmin(actor); err != nil {
			return nil, err
		}
		bookings, err = s.repo.ListBookings(ctx)
	default:
		return nil, apperr.Validation("unknown scope %q", scope)
	}
	if err != nil {
		return nil, apperr.Dependency(err, "failed to list bookings")
	}

	profiles := s.profileIndex(ctx)
	views := make([]models.BookingView, 0, len(bookings))
	for _, b := range bookings {
		finished := b.Status == models.StatusFinished
		if scope == models.ScopeOpen && finished || scope == models.ScopeFinished && !finished {
			continue
		}
		v := models.BookingView{Booking: *b}
		if p, ok := profiles[b.OwnerID]; ok {
			v.OwnerEmail = p.Email
			v.OwnerDisplayName = p.DisplayName
		}
		views = append(views, v)
	}

	sort.SliceStable(views, func(i, j int) bool {
		if views[i].Date != views[j].Date {
			return views[i].Date > views[j].Date
		}
		return views[i].Time > views[j].Time
	})
	return views, nil
}

func (s *Service) profileIndex(ctx context.Context) map[string]*models.UserProfile {
	profiles, err := s.profiles.ListProfiles(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("profile enrichment skipped")
		return nil
	}
	index := make(map[string]*models.UserProfile, len(profiles))
	for _, p := range profiles {
		index[p.UserID] = p
	}
	return index
}

// BookedSlots returns the schedule of every non-declined booking on date,
// across all owners, without any personal data.
func (s *Service) BookedSlots(ctx context.Context, actor models.Identity, date string) ([]models.BookedSlot, error) {
	if err := auth.RequireUser(actor); err != nil {
		return nil, err
	}
	if err := models.ValidateDate(date); err != nil {
		return nil, err
	}

	if s.slots != nil {
		if cached, ok := s.slots.Slots(ctx, date); ok {
			return cached, nil
		}
	}

	bookings, err := s.repo.ListBookingsByDate(ctx, date)
	if err != nil {
		return nil, apperr.Dependency(err, "failed to load booked slots")
	}
	slots := make([]models.BookedSlot, 0, len(bookings))
	for _, b := range bookings {
		if b.Status == models.StatusDeclined {
			continue
		}
		slots = append(slots, b.Slot())
	}

	if s.slots != nil {
		s.slots.SetSlots(ctx, date, slots)
	}
	return slots, nil
}

func (s *Service) publish(t events.Type, b, previous *models.Booking, actor models.Identity) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.Event{
		Type:       t,
		Booking:    b.Clone(),
		Previous:   previous.Clone(),
		OwnerEmail: b.UserEmail,
		ActorEmail: actor.Email,
	})
}

func (s *Service) bestEffortFailed(dependency string, err error, b *models.Booking, msg string) {
	metrics.IncBestEffortFailure(dependency)
	s.logger.Error().Err(err).
		Str("booking_id", b.ID).
		Str("owner_id", b.OwnerID).
		Msg(msg)
}
