// Package api exposes the booking service over HTTP.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"studiobook/internal/auth"
	"studiobook/internal/booking"
	"studiobook/internal/models"

	"github.com/rs/zerolog"
)

// Authenticator verifies bearer tokens and password logins.
type Authenticator interface {
	Authenticate(token string) (models.Identity, error)
	Login(ctx context.Context, email, password string) (*auth.LoginResult, error)
}

// Bookings is the lifecycle orchestrator.
type Bookings interface {
	Create(ctx context.Context, actor models.Identity, ownerID string, draft models.BookingDraft) (*models.Booking, error)
	CreateForEmail(ctx context.Context, actor models.Identity, email string, draft models.BookingDraft) (*models.Booking, error)
	Dispatch(ctx context.Context, actor models.Identity, cmd booking.Command) (*models.Booking, error)
	Get(ctx context.Context, actor models.Identity, ref booking.Ref) (*models.Booking, error)
	List(ctx context.Context, actor models.Identity, scope models.Scope) ([]models.BookingView, error)
	BookedSlots(ctx context.Context, actor models.Identity, date string) ([]models.BookedSlot, error)
}

// Users manages accounts and profiles.
type Users interface {
	CreateUser(ctx context.Context, actor models.Identity, email, password, displayName string) (*models.Account, error)
	UpdateProfile(ctx context.Context, actor models.Identity, displayName, email string) error
	List(ctx context.Context, actor models.Identity) ([]*models.UserProfile, error)
	SendLoginDetails(ctx context.Context, actor models.Identity, email, password string) error
}

// Credits is the credits ledger.
type Credits interface {
	Add(ctx context.Context, actor models.Identity, uid string, amount int64) (int64, error)
}

// Maintenance is the maintenance-mode flag.
type Maintenance interface {
	Get(ctx context.Context) (models.Maintenance, error)
	Set(ctx context.Context, actor models.Identity, enabled bool, message string) error
}

// Exporter renders the admin bookings workbook.
type Exporter interface {
	Write(ctx context.Context, actor models.Identity, w io.Writer) error
}

// Check is a named readiness probe.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

// Deps are the services the handlers call into.
type Deps struct {
	Gate        Authenticator
	Bookings    Bookings
	Users       Users
	Credits     Credits
	Maintenance Maintenance
	Exporter    Exporter
	Checks      []Check
}

// Config holds HTTP server settings.
type Config struct {
	Address        string
	RequestTimeout time.Duration
}

// Server is the HTTP front of the booking service.
type Server struct {
	srv         *http.Server
	handler     http.Handler
	gate        Authenticator
	bookings    Bookings
	users       Users
	credits     Credits
	maintenance Maintenance
	exporter    Exporter
	checks      []Check
	timeout     time.Duration
	log         zerolog.Logger
}

func NewServer(cfg Config, deps Deps, logger zerolog.Logger) *Server {
	s := &Server{
		gate:        deps.Gate,
		bookings:    deps.Bookings,
		users:       deps.Users,
		credits:     deps.Credits,
		maintenance: deps.Maintenance,
		exporter:    deps.Exporter,
		checks:      deps.Checks,
		timeout:     cfg.RequestTimeout,
		log:         logger.With().Str("component", "http").Logger(),
	}

	mux := http.NewServeMux()
	s.addRoutes(mux)
	s.handler = s.applyMiddlewares(mux, s.recoverMiddleware, s.accessLogMiddleware, s.timeoutMiddleware)

	s.srv = &http.Server{
		Addr:              cfg.Address,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the routed handler with middlewares applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.log.Info().Str("address", s.srv.Addr).Msg("HTTP server starting")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) addRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	mux.HandleFunc("POST /api/login", s.handleLogin)
	mux.HandleFunc("GET /api/maintenance-status", s.handleMaintenanceStatus)

	mux.HandleFunc("POST /api/update-profile", s.authed(s.handleUpdateProfile))
	mux.HandleFunc("POST /api/confirm-booking", s.authed(s.handleConfirmBooking))
	mux.HandleFunc("POST /api/confirm-payment", s.authed(s.handleConfirmPayment))
	mux.HandleFunc("GET /api/check-booked-slots", s.authed(s.handleBookedSlots))
	mux.HandleFunc("GET /api/my-bookings", s.authed(s.handleMyBookings))
	mux.HandleFunc("POST /api/cancel-booking", s.admin(s.handleCancelBooking))

	mux.HandleFunc("GET /api/admin/bookings", s.admin(s.handleListBookings(models.ScopeOpen)))
	mux.HandleFunc("GET /api/admin/bookings/finished", s.admin(s.handleListBookings(models.ScopeFinished)))
	mux.HandleFunc("GET /api/admin/bookings/export", s.admin(s.handleExport))
	mux.HandleFunc("POST /api/admin/bookings", s.admin(s.handleAdminCreateBooking))
	mux.HandleFunc("POST /api/admin/bookings/finish", s.admin(s.handleStatus(func(ref booking.Ref) booking.Command {
		return booking.FinishCommand{Ref: ref}
	})))
	mux.HandleFunc("POST /api/admin/confirm-booking", s.admin(s.handleAdminConfirmBooking))
	mux.HandleFunc("POST /api/admin/confirm-booking-status", s.admin(s.handleStatus(func(ref booking.Ref) booking.Command {
		return booking.ConfirmCommand{Ref: ref}
	})))
	mux.HandleFunc("POST /api/admin/decline-booking", s.admin(s.handleDeclineBooking))
	mux.HandleFunc("GET /api/admin/users", s.admin(s.handleListUsers))
	mux.HandleFunc("POST /api/admin/create-user", s.admin(s.handleCreateUser))
	mux.HandleFunc("POST /api/admin/send-login-details", s.admin(s.handleSendLoginDetails))
	mux.HandleFunc("POST /api/admin/add-credits", s.admin(s.handleAddCredits))
	mux.HandleFunc("POST /api/admin/maintenance-mode", s.admin(s.handleSetMaintenance))
}
