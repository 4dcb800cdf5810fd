package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"studiobook/internal/metrics"
	"studiobook/internal/models"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// ErrDisabled is returned by the calendar when no credentials are configured.
var ErrDisabled = errors.New("calendar sync is disabled")

// Service mirrors bookings as events of one Google calendar.
type Service struct {
	events     *gcal.EventsService
	calendarID string
	loc        *time.Location
	timeout    time.Duration
	logger     *zerolog.Logger
}

// Options configures a Service.
type Options struct {
	CalendarID string
	Location   *time.Location
	Timeout    time.Duration
}

// NewServiceFromCredentials builds a Service authenticated with a service
// account key file.
func NewServiceFromCredentials(ctx context.Context, credentialsFile string, opts Options, logger *zerolog.Logger) (*Service, error) {
	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}

	cfg, err := google.JWTConfigFromJSON(b, gcal.CalendarEventsScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %w", err)
	}

	return NewService(ctx, opts, logger, option.WithHTTPClient(cfg.Client(ctx)))
}

// NewService builds a Service from raw client options.
func NewService(ctx context.Context, opts Options, logger *zerolog.Logger, clientOpts ...option.ClientOption) (*Service, error) {
	srv, err := gcal.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create Calendar service: %w", err)
	}

	if opts.CalendarID == "" {
		opts.CalendarID = "primary"
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}

	l := logger.With().Str("component", "calendar").Logger()
	return &Service{
		events:     srv.Events,
		calendarID: opts.CalendarID,
		loc:        opts.Location,
		timeout:    opts.Timeout,
		logger:     &l,
	}, nil
}

// CreateEvent creates the event for b and returns its id.
func (s *Service) CreateEvent(ctx context.Context, b *models.Booking, ownerEmail string) (string, error) {
	ev, err := s.buildEvent(b, ownerEmail)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	created, err := s.events.Insert(s.calendarID, ev).Context(ctx).Do()
	observe("create", start, err)
	if err != nil {
		return "", fmt.Errorf("insert event for booking %s: %w", b.ID, err)
	}

	s.logger.Debug().Str("booking_id", b.ID).Str("event_id", created.Id).Msg("Calendar event created")
	return created.Id, nil
}

// UpdateEvent replaces the schedule and description of an existing event.
func (s *Service) UpdateEvent(ctx context.Context, eventID string, b *models.Booking, ownerEmail string) error {
	ev, err := s.buildEvent(b, ownerEmail)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	_, err = s.events.Update(s.calendarID, eventID, ev).Context(ctx).Do()
	observe("update", start, err)
	if err != nil {
		return fmt.Errorf("update event %s: %w", eventID, err)
	}
	return nil
}

// DeleteEvent removes an event. An event that is already gone is not an error.
func (s *Service) DeleteEvent(ctx context.Context, eventID string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	err := s.events.Delete(s.calendarID, eventID).Context(ctx).Do()
	if IsGone(err) {
		observe("delete", start, nil)
		s.logger.Debug().Str("event_id", eventID).Msg("Calendar event already gone")
		return nil
	}
	observe("delete", start, err)
	if err != nil {
		return fmt.Errorf("delete event %s: %w", eventID, err)
	}
	return nil
}

// IsGone reports whether err is a provider not-found or gone response.
func IsGone(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == http.StatusNotFound || gerr.Code == http.StatusGone
	}
	return false
}

func (s *Service) buildEvent(b *models.Booking, ownerEmail string) (*gcal.Event, error) {
	start, err := b.Start(s.loc)
	if err != nil {
		return nil, fmt.Errorf("booking %s has invalid schedule: %w", b.ID, err)
	}
	end, err := b.End(s.loc)
	if err != nil {
		return nil, fmt.Errorf("booking %s has invalid schedule: %w", b.ID, err)
	}

	name := b.UserName
	if name == "" {
		name = ownerEmail
	}

	return &gcal.Event{
		Summary:     fmt.Sprintf("Studio booking: %s", name),
		Description: describe(b, ownerEmail),
		Start: &gcal.EventDateTime{
			DateTime: start.Format(time.RFC3339),
			TimeZone: s.loc.String(),
		},
		End: &gcal.EventDateTime{
			DateTime: end.Format(time.RFC3339),
			TimeZone: s.loc.String(),
		},
		ExtendedProperties: &gcal.EventExtendedProperties{
			Private: map[string]string{"bookingId": b.ID},
		},
	}, nil
}

func describe(b *models.Booking, ownerEmail string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Booking ID: %s\n", b.ID)
	fmt.Fprintf(&sb, "Client: %s <%s>\n", b.UserName, ownerEmail)
	fmt.Fprintf(&sb, "Duration: %d hour(s)\n", b.DurationHours)
	if len(b.Equipment) > 0 {
		names := make([]string, 0, len(b.Equipment))
		for _, eq := range b.Equipment {
			names = append(names, eq.Name)
		}
		fmt.Fprintf(&sb, "Equipment: %s\n", strings.Join(names, ", "))
	}
	if b.CDJCount > 0 {
		fmt.Fprintf(&sb, "CDJs: %d\n", b.CDJCount)
	}
	fmt.Fprintf(&sb, "Total: %d\n", b.Total)
	fmt.Fprintf(&sb, "Payment: %s", b.PaymentStatus)
	return sb.String()
}

// Disabled stands in for the calendar when no credentials are configured.
type Disabled struct{}

func (Disabled) CreateEvent(context.Context, *models.Booking, string) (string, error) {
	return "", ErrDisabled
}

func (Disabled) UpdateEvent(context.Context, string, *models.Booking, string) error {
	return ErrDisabled
}

func (Disabled) DeleteEvent(context.Context, string) error {
	return ErrDisabled
}

func observe(op string, start time.Time, err error) {
	metrics.ObserveCalendarCall(op, time.Since(start), err)
}
