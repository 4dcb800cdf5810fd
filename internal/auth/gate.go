// Package auth resolves bearer credentials to identities and enforces the
// user/admin capability split.
package auth

import (
	"context"
	"errors"
	"strings"

	"studiobook/internal/apperr"
	"studiobook/internal/database"
	"studiobook/internal/models"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

// AccountStore is the identity storage the gate logs users in against.
type AccountStore interface {
	GetAccountByEmail(ctx context.Context, email string) (*models.Account, error)
}

// Gate authenticates callers and checks capabilities.
type Gate struct {
	tokens        *Tokens
	accounts      AccountStore
	operatorEmail string
	logger        zerolog.Logger
}

func NewGate(tokens *Tokens, accounts AccountStore, operatorEmail string, logger zerolog.Logger) *Gate {
	return &Gate{
		tokens:        tokens,
		accounts:      accounts,
		operatorEmail: strings.ToLower(strings.TrimSpace(operatorEmail)),
		logger:        logger.With().Str("component", "auth").Logger(),
	}
}

// Authenticate verifies a bearer token and resolves it to an identity.
func (g *Gate) Authenticate(token string) (models.Identity, error) {
	if token == "" {
		return models.Identity{}, apperr.Unauthorized("Unauthorized")
	}
	claims, err := g.tokens.Parse(token)
	if err != nil {
		g.logger.Debug().Err(err).Msg("token rejected")
		return models.Identity{}, apperr.Unauthorized("Unauthorized")
	}
	return g.identity(claims.Sub, claims.Email), nil
}

func (g *Gate) identity(uid, email string) models.Identity {
	email = strings.ToLower(strings.TrimSpace(email))
	return models.Identity{
		UID:     uid,
		Email:   email,
		IsAdmin: g.operatorEmail != "" && email == g.operatorEmail,
	}
}

// RequireUser fails with Unauthorized for an identity the gate did not resolve.
func RequireUser(id models.Identity) error {
	if id.UID == "" {
		return apperr.Unauthorized("Unauthorized")
	}
	return nil
}

// RequireAdmin fails with Forbidden unless id is the operator.
func RequireAdmin(id models.Identity) error {
	if err := RequireUser(id); err != nil {
		return err
	}
	if !id.IsAdmin {
		return apperr.Forbidden("Forbidden")
	}
	return nil
}

// CanActOn fails unless id owns ownerID's records or is the operator.
func CanActOn(id models.Identity, ownerID string) error {
	if err := RequireUser(id); err != nil {
		return err
	}
	if id.IsAdmin || id.UID == ownerID {
		return nil
	}
	return apperr.Forbidden("Forbidden")
}

// LoginResult is returned by a successful Login.
type LoginResult struct {
	Token   string
	Account *models.Account
	IsAdmin bool
}

// Login checks a password against the account store and issues a token.
func (g *Gate) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	if email == "" || password == "" {
		return nil, apperr.Validation("email and password are required")
	}

	acct, err := g.accounts.GetAccountByEmail(ctx, email)
	if errors.Is(err, database.ErrNotFound) {
		return nil, apperr.Unauthorized("invalid email or password")
	}
	if err != nil {
		return nil, apperr.Dependency(err, "failed to load account")
	}

	if bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(password)) != nil {
		g.logger.Info().Str("email", acct.Email).Msg("login failed")
		return nil, apperr.Unauthorized("invalid email or password")
	}

	token, err := g.tokens.Issue(acct.UID, acct.Email)
	if err != nil {
		return nil, apperr.Dependency(err, "failed to issue token")
	}
	return &LoginResult{Token: token, Account: acct, IsAdmin: g.identity(acct.UID, acct.Email).IsAdmin}, nil
}

// HashPassword returns the bcrypt hash of password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
