package notifications

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bissquit/incident-tracker/internal/domain"
	"golang.org/x/time/rate"
)

// NotifierConfig contains escalation notifier configuration.
type NotifierConfig struct {
	WebhookURL        string
	QueueSize         int
	RatePerMinute     int
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

// DefaultNotifierConfig returns default notifier configuration.
func DefaultNotifierConfig() NotifierConfig {
	return NotifierConfig{
		QueueSize:         256,
		RatePerMinute:     30,
		MaxAttempts:       3,
		InitialBackoff:    time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// EscalationNotifier delivers escalation alerts in the background.
// Delivery failures are logged and counted; they never reach the caller.
type EscalationNotifier struct {
	config   NotifierConfig
	sender   Sender
	renderer *Renderer
	limiter  *rate.Limiter
	queue    chan domain.Escalation

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewEscalationNotifier creates a notifier. Call Start to begin delivery.
func NewEscalationNotifier(config NotifierConfig, sender Sender, renderer *Renderer) *EscalationNotifier {
	defaults := DefaultNotifierConfig()
	if config.QueueSize <= 0 {
		config.QueueSize = defaults.QueueSize
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = defaults.InitialBackoff
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = defaults.MaxBackoff
	}
	if config.BackoffMultiplier < 1 {
		config.BackoffMultiplier = defaults.BackoffMultiplier
	}

	limit := rate.Inf
	if config.RatePerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(config.RatePerMinute))
	}

	return &EscalationNotifier{
		config:   config,
		sender:   sender,
		renderer: renderer,
		limiter:  rate.NewLimiter(limit, 1),
		queue:    make(chan domain.Escalation, config.QueueSize),
		stopCh:   make(chan struct{}),
	}
}

// NotifyEscalation queues an alert. It never blocks; alerts are dropped when the queue is full.
func (n *EscalationNotifier) NotifyEscalation(_ context.Context, e domain.Escalation) {
	select {
	case <-n.stopCh:
		recordAlert(kindOf(e), "dropped")
		return
	default:
	}

	select {
	case n.queue <- e:
	default:
		recordAlert(kindOf(e), "dropped")
		slog.Warn("escalation alert dropped, queue full", "incident_id", e.IncidentID)
	}
}

// Start launches the delivery goroutine.
func (n *EscalationNotifier) Start(ctx context.Context) {
	slog.Info("starting escalation notifier",
		"queue_size", n.config.QueueSize,
		"rate_per_minute", n.config.RatePerMinute,
	)

	n.wg.Add(1)
	go n.run(ctx)
}

// Stop drains queued alerts and waits for delivery to finish.
func (n *EscalationNotifier) Stop() {
	n.stopOnce.Do(func() { close(n.stopCh) })
	n.wg.Wait()
	slog.Info("escalation notifier stopped")
}

func (n *EscalationNotifier) run(ctx context.Context) {
	defer n.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case e := <-n.queue:
			n.deliver(ctx, e)
		case <-n.stopCh:
			for {
				select {
				case e := <-n.queue:
					n.deliver(ctx, e)
				default:
					return
				}
			}
		}
	}
}

func (n *EscalationNotifier) deliver(ctx context.Context, e domain.Escalation) {
	kind := kindOf(e)

	subject, body, err := n.renderer.Render(e)
	if err != nil {
		slog.Error("failed to render escalation alert", "incident_id", e.IncidentID, "error", err)
		recordAlert(kind, "failed")
		return
	}

	notification := Notification{To: n.config.WebhookURL, Subject: subject, Body: body}

	for attempt := 1; ; attempt++ {
		if err := n.limiter.Wait(ctx); err != nil {
			recordAlert(kind, "failed")
			return
		}

		start := time.Now()
		err = n.sender.Send(ctx, notification)
		recordSendDuration(time.Since(start))

		if err == nil {
			recordAlert(kind, "success")
			slog.Debug("escalation alert sent", "incident_id", e.IncidentID, "attempt", attempt)
			return
		}

		slog.Warn("send failed",
			"incident_id", e.IncidentID,
			"attempt", attempt,
			"max_attempts", n.config.MaxAttempts,
			"error", err,
		)

		if !isRetryable(err) || attempt >= n.config.MaxAttempts {
			recordAlert(kind, "failed")
			slog.Error("escalation alert failed",
				"incident_id", e.IncidentID,
				"error", fmt.Errorf("after %d attempts: %w", attempt, err),
			)
			return
		}

		recordAlert(kind, "retry")
		select {
		case <-ctx.Done():
			recordAlert(kind, "failed")
			return
		case <-time.After(n.backoff(attempt)):
		}
	}
}

func (n *EscalationNotifier) backoff(attempt int) time.Duration {
	backoff := float64(n.config.InitialBackoff)
	for i := 1; i < attempt; i++ {
		backoff *= n.config.BackoffMultiplier
	}
	if backoff > float64(n.config.MaxBackoff) {
		backoff = float64(n.config.MaxBackoff)
	}
	return time.Duration(backoff)
}

func kindOf(e domain.Escalation) string {
	if e.Breached {
		return MessageBreached
	}
	return MessageEscalated
}

// isRetryable treats errors without a retry hint as transient.
func isRetryable(err error) bool {
	var r RetryableError
	if errors.As(err, &r) {
		return r.IsRetryable()
	}
	return true
}
