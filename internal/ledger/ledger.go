// Package ledger holds the admin-only auxiliary ledgers: per-user credits and
// the process-wide maintenance banner.
package ledger

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"

	"studiobook/internal/apperr"
	"studiobook/internal/auth"
	"studiobook/internal/database"
	"studiobook/internal/models"

	"github.com/rs/zerolog"
)

type CreditStore interface {
	AddCredits(ctx context.Context, uid string, amount int64) (int64, error)
}

type MaintenanceStore interface {
	GetMaintenance(ctx context.Context) (*models.Maintenance, error)
	SetMaintenance(ctx context.Context, m *models.Maintenance) error
}

// MaintenanceCache shares the maintenance flag between instances.
type MaintenanceCache interface {
	Maintenance(ctx context.Context) (*models.Maintenance, bool)
	SetMaintenance(ctx context.Context, m *models.Maintenance)
	WatchMaintenance(ctx context.Context, fn func(models.Maintenance))
}

// Credits adjusts user credit balances.
type Credits struct {
	store  CreditStore
	logger zerolog.Logger
}

func NewCredits(store CreditStore, logger zerolog.Logger) *Credits {
	return &Credits{store: store, logger: logger.With().Str("component", "credits").Logger()}
}

// Add increments the balance of uid by amount and returns the new balance.
func (c *Credits) Add(ctx context.Context, actor models.Identity, uid string, amount int64) (int64, error) {
	if err := auth.RequireAdmin(actor); err != nil {
		return 0, err
	}
	if strings.TrimSpace(uid) == "" {
		return 0, apperr.Validation("userId is required")
	}
	if amount <= 0 {
		return 0, apperr.Validation("amount must be a positive integer")
	}

	balance, err := c.store.AddCredits(ctx, uid, amount)
	if errors.Is(err, database.ErrNotFound) {
		return 0, apperr.NotFound("user %s not found", uid)
	}
	if err != nil {
		return 0, apperr.Dependency(err, "failed to add credits")
	}

	c.logger.Info().Str("user_id", uid).Int64("amount", amount).Int64("balance", balance).Msg("credits added")
	return balance, nil
}

// Maintenance owns the maintenance banner. Reads are served from memory,
// then Redis, then the database.
type Maintenance struct {
	store   MaintenanceStore
	cache   MaintenanceCache
	current atomic.Pointer[models.Maintenance]
	logger  zerolog.Logger
}

func NewMaintenance(store MaintenanceStore, cache MaintenanceCache, logger zerolog.Logger) *Maintenance {
	return &Maintenance{
		store:  store,
		cache:  cache,
		logger: logger.With().Str("component", "maintenance").Logger(),
	}
}

// Watch keeps the in-memory copy in step with changes made by other instances.
func (m *Maintenance) Watch(ctx context.Context) {
	if m.cache == nil {
		return
	}
	m.cache.WatchMaintenance(ctx, func(v models.Maintenance) {
		m.current.Store(&v)
		m.logger.Info().Bool("enabled", v.IsEnabled).Msg("maintenance mode changed")
	})
}

// Get returns the current maintenance flag. Anyone may read it.
func (m *Maintenance) Get(ctx context.Context) (models.Maintenance, error) {
	if cur := m.current.Load(); cur != nil {
		return *cur, nil
	}
	if m.cache != nil {
		if cached, ok := m.cache.Maintenance(ctx); ok {
			m.current.Store(cached)
			return *cached, nil
		}
	}

	stored, err := m.store.GetMaintenance(ctx)
	if err != nil {
		return models.Maintenance{}, apperr.Dependency(err, "failed to load maintenance status")
	}
	m.current.Store(stored)
	return *stored, nil
}

// Set stores the flag and message.
func (m *Maintenance) Set(ctx context.Context, actor models.Identity, enabled bool, message string) error {
	if err := auth.RequireAdmin(actor); err != nil {
		return err
	}

	v := &models.Maintenance{IsEnabled: enabled, Message: message}
	if err := m.store.SetMaintenance(ctx, v); err != nil {
		return apperr.Dependency(err, "failed to update maintenance mode")
	}
	m.current.Store(v)
	if m.cache != nil {
		m.cache.SetMaintenance(ctx, v)
	}

	m.logger.Info().Bool("enabled", enabled).Str("by", actor.Email).Msg("maintenance mode updated")
	return nil
}
