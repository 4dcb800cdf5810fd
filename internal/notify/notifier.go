package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"studiobook/internal/metrics"
	"studiobook/internal/models"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ErrQueueFull is reported when a message is dropped because the queue is full.
var ErrQueueFull = errors.New("notification queue is full")

// Config holds dispatch settings for the Notifier.
type Config struct {
	Workers     int
	QueueSize   int
	Rate        float64
	Burst       int
	RetryDelays []time.Duration
}

// DefaultConfig returns the default dispatch configuration.
func DefaultConfig() Config {
	return Config{
		Workers:   4,
		QueueSize: 256,
		Rate:      2,
		Burst:     5,
		RetryDelays: []time.Duration{
			1 * time.Second,
			5 * time.Second,
			30 * time.Second,
		},
	}
}

// Notifier dispatches emails on a worker pool after the triggering write has
// committed. Each recipient is an independent task, so a failure to reach one
// never affects another, nor the caller.
type Notifier struct {
	mailer   Mailer
	composer Composer
	limiter  *rate.Limiter
	retries  []time.Duration
	workers  int
	logger   *zerolog.Logger

	queue  chan Message
	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

func NewNotifier(mailer Mailer, composer Composer, cfg Config, logger *zerolog.Logger) *Notifier {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.Rate <= 0 {
		cfg.Rate = def.Rate
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}

	l := logger.With().Str("component", "notifier").Logger()
	return &Notifier{
		mailer:   mailer,
		composer: composer,
		limiter:  rate.NewLimiter(rate.Limit(cfg.Rate), cfg.Burst),
		retries:  cfg.RetryDelays,
		workers:  cfg.Workers,
		logger:   &l,
		queue:    make(chan Message, cfg.QueueSize),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the worker pool.
func (n *Notifier) Start(ctx context.Context) {
	for i := 0; i < n.workers; i++ {
		n.wg.Add(1)
		go n.worker(ctx)
	}
	n.logger.Info().Int("workers", n.workers).Msg("Notifier started")
}

// Stop signals workers to finish the queued messages and waits for them.
func (n *Notifier) Stop() {
	n.once.Do(func() { close(n.stopCh) })
	n.wg.Wait()
}

func (n *Notifier) worker(ctx context.Context) {
	defer n.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-n.queue:
			metrics.SetNotificationQueue(len(n.queue))
			n.deliver(ctx, msg)
		case <-n.stopCh:
			n.drain(ctx)
			return
		}
	}
}

func (n *Notifier) drain(ctx context.Context) {
	for {
		select {
		case msg := <-n.queue:
			n.deliver(ctx, msg)
		default:
			return
		}
	}
}

func (n *Notifier) deliver(ctx context.Context, msg Message) {
	err := n.send(ctx, msg)
	metrics.IncNotification(string(msg.Kind), err)
	if err != nil {
		metrics.IncBestEffortFailure("email")
		n.logger.Error().Err(err).
			Str("kind", string(msg.Kind)).
			Str("to", msg.To).
			Msg("Failed to send notification")
	}
}

// send delivers one message with rate limiting and retries.
func (n *Notifier) send(ctx context.Context, msg Message) error {
	if err := n.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= len(n.retries); attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(n.retries[attempt-1]):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = n.mailer.Send(ctx, msg)
		if lastErr == nil {
			return nil
		}
		n.logger.Warn().Err(lastErr).Int("attempt", attempt+1).Str("to", msg.To).Msg("Email send attempt failed")
	}
	return fmt.Errorf("after %d attempts: %w", len(n.retries)+1, lastErr)
}

func (n *Notifier) enqueue(msg Message) error {
	select {
	case <-n.stopCh:
		return errors.New("notifier is stopped")
	default:
	}

	select {
	case n.queue <- msg:
		metrics.SetNotificationQueue(len(n.queue))
		return nil
	default:
		return ErrQueueFull
	}
}

// NotifyBooking queues the owner message and the operator summary for a
// booking event. It never blocks and never fails the caller.
func (n *Notifier) NotifyBooking(kind Kind, b *models.Booking, ownerEmail string) {
	msgs, err := n.composer.Booking(kind, b, ownerEmail)
	if err != nil {
		n.logger.Error().Err(err).Str("booking_id", b.ID).Msg("Failed to render notification")
		return
	}
	for _, msg := range msgs {
		if err := n.enqueue(msg); err != nil {
			metrics.IncNotification(string(kind), err)
			n.logger.Error().Err(err).
				Str("kind", string(kind)).
				Str("booking_id", b.ID).
				Str("to", msg.To).
				Msg("Notification dropped")
		}
	}
}

// NotifyAccountCreated queues the account-created email with login details.
func (n *Notifier) NotifyAccountCreated(email, password, displayName string) {
	msg, err := n.composer.Credentials(KindAccountCreated, email, password, displayName)
	if err == nil {
		err = n.enqueue(msg)
	}
	if err != nil {
		n.logger.Error().Err(err).Str("to", email).Msg("Account notification dropped")
	}
}

// SendLoginDetails delivers login details synchronously so that the caller
// can report a delivery failure.
func (n *Notifier) SendLoginDetails(ctx context.Context, email, password string) error {
	msg, err := n.composer.Credentials(KindLoginDetails, email, password, "")
	if err != nil {
		return err
	}
	err = n.mailer.Send(ctx, msg)
	metrics.IncNotification(string(KindLoginDetails), err)
	return err
}
