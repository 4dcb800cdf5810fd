// Package users manages login accounts and user profiles.
package users

import (
	"context"
	"errors"
	"net/mail"
	"strings"

	"studiobook/internal/apperr"
	"studiobook/internal/auth"
	"studiobook/internal/database"
	"studiobook/internal/models"

	"github.com/rs/zerolog"
)

// Store is the account and profile storage.
type Store interface {
	CreateAccount(ctx context.Context, acct *models.Account) error
	GetAccountByEmail(ctx context.Context, email string) (*models.Account, error)
	UpdateProfile(ctx context.Context, uid, displayName, email string) error
	ListProfiles(ctx context.Context) ([]*models.UserProfile, error)
	SetRole(ctx context.Context, uid string, role models.Role) error
}

// Mailer delivers credential emails.
type Mailer interface {
	NotifyAccountCreated(email, password, displayName string)
	SendLoginDetails(ctx context.Context, email, password string) error
}

// Service implements account administration and self-service profile edits.
type Service struct {
	store         Store
	mailer        Mailer
	operatorEmail string
	logger        zerolog.Logger
}

func NewService(store Store, mailer Mailer, operatorEmail string, logger zerolog.Logger) *Service {
	return &Service{
		store:         store,
		mailer:        mailer,
		operatorEmail: strings.ToLower(strings.TrimSpace(operatorEmail)),
		logger:        logger.With().Str("component", "users").Logger(),
	}
}

func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

// CreateUser registers an account on behalf of the operator and emails the
// login details to the new user without waiting for delivery.
func (s *Service) CreateUser(ctx context.Context, actor models.Identity, email, password, displayName string) (*models.Account, error) {
	if err := auth.RequireAdmin(actor); err != nil {
		return nil, err
	}
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, apperr.Validation("Email and password are required.")
	}
	if !validEmail(email) {
		return nil, apperr.Validation("invalid email address %q", email)
	}

	acct, err := s.create(ctx, email, password, strings.TrimSpace(displayName))
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("user_id", acct.UID).
		Str("email", acct.Email).
		Str("created_by", actor.Email).
		Msg("user created")

	s.mailer.NotifyAccountCreated(acct.Email, password, acct.DisplayName)
	return acct, nil
}

func (s *Service) create(ctx context.Context, email, password, displayName string) (*models.Account, error) {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, apperr.Dependency(err, "failed to hash password")
	}

	acct := &models.Account{Email: email, DisplayName: displayName, PasswordHash: hash}
	if err := s.store.CreateAccount(ctx, acct); err != nil {
		if errors.Is(err, database.ErrEmailExists) {
			return nil, apperr.Conflict("The email address is already in use by another account.")
		}
		return nil, apperr.Dependency(err, "Failed to create user")
	}

	if acct.Email == s.operatorEmail {
		if err := s.store.SetRole(ctx, acct.UID, models.RoleAdmin); err != nil {
			s.logger.Warn().Err(err).Str("user_id", acct.UID).Msg("failed to mark operator profile")
		}
	}
	return acct, nil
}

// EnsureOperator creates the operator account when it does not exist yet.
func (s *Service) EnsureOperator(ctx context.Context, password string) error {
	if s.operatorEmail == "" || password == "" {
		return nil
	}
	_, err := s.store.GetAccountByEmail(ctx, s.operatorEmail)
	if err == nil {
		return nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return err
	}

	acct, err := s.create(ctx, s.operatorEmail, password, "Operator")
	if err != nil {
		return err
	}
	s.logger.Info().Str("user_id", acct.UID).Str("email", acct.Email).Msg("operator account created")
	return nil
}

// UpdateProfile sets the caller's display name and, when given, email.
func (s *Service) UpdateProfile(ctx context.Context, actor models.Identity, displayName, email string) error {
	if err := auth.RequireUser(actor); err != nil {
		return err
	}
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return apperr.Validation(`The "displayName" argument is required and must be a non-empty string.`)
	}
	email = strings.TrimSpace(email)
	if email != "" && !validEmail(email) {
		return apperr.Validation("invalid email address %q", email)
	}
	if err := s.checkOperatorEmail(actor, email); err != nil {
		return err
	}

	if err := s.store.UpdateProfile(ctx, actor.UID, displayName, email); err != nil {
		if errors.Is(err, database.ErrEmailExists) {
			return apperr.Conflict("The email address is already in use by another account.")
		}
		return apperr.Dependency(err, "Failed to update user profile due to a server error.")
	}

	s.logger.Info().Str("user_id", actor.UID).Msg("profile updated")
	return nil
}

// checkOperatorEmail keeps the configured operator address bound to the
// operator account: the gate grants admin rights by email.
func (s *Service) checkOperatorEmail(actor models.Identity, email string) error {
	if email == "" || s.operatorEmail == "" {
		return nil
	}
	isOperatorEmail := strings.EqualFold(email, s.operatorEmail)
	switch {
	case isOperatorEmail && !actor.IsAdmin:
		return apperr.Forbidden("The email address is reserved.")
	case !isOperatorEmail && actor.IsAdmin:
		return apperr.Forbidden("The operator email address is set by configuration.")
	}
	return nil
}

// List returns every user profile with role and credits.
func (s *Service) List(ctx context.Context, actor models.Identity) ([]*models.UserProfile, error) {
	if err := auth.RequireAdmin(actor); err != nil {
		return nil, err
	}
	profiles, err := s.store.ListProfiles(ctx)
	if err != nil {
		return nil, apperr.Dependency(err, "Failed to fetch user profiles.")
	}
	return profiles, nil
}

// SendLoginDetails emails credentials and waits for delivery, so the caller
// learns about a failed send.
func (s *Service) SendLoginDetails(ctx context.Context, actor models.Identity, email, password string) error {
	if err := auth.RequireAdmin(actor); err != nil {
		return err
	}
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return apperr.Validation("User email and password are required.")
	}
	if err := s.mailer.SendLoginDetails(ctx, email, password); err != nil {
		s.logger.Error().Err(err).Str("to", email).Msg("failed to send login details")
		return apperr.Dependency(err, "Failed to send login details email.")
	}
	return nil
}
