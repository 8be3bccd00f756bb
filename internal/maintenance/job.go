// Package maintenance purges closed incidents and re-evaluates the SLA of open ones.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bissquit/incident-tracker/internal/audit"
	"github.com/bissquit/incident-tracker/internal/domain"
	"github.com/bissquit/incident-tracker/internal/pkg/clock"
	"github.com/bissquit/incident-tracker/internal/pkg/ctxlog"
	"github.com/bissquit/incident-tracker/internal/sla"
	"github.com/bissquit/incident-tracker/internal/store"
)

// Acknowledgement messages returned by Trigger.
const (
	MessageStarted        = "Job started"
	MessageAlreadyRunning = "Job already running"
	MessageStopped        = "Job stopped"
)

// Notifier receives escalations found by the sweep. Implementations must not block for long.
type Notifier interface {
	NotifyEscalation(ctx context.Context, e domain.Escalation)
}

// Config contains job configuration.
type Config struct {
	// Retention keeps CLOSED incidents resolved within this window. Zero purges every CLOSED incident.
	Retention time.Duration
}

// Result summarises one run.
type Result struct {
	Tenant    string        `json:"tenant,omitempty"`
	Deleted   int64         `json:"deleted"`
	Processed int           `json:"processed"`
	Updated   int           `json:"updated"`
	Breached  int           `json:"breached"`
	Escalated int           `json:"escalated"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration"`
}

// Ack is returned by Trigger before the run completes.
type Ack struct {
	Message string `json:"message"`
	Started bool   `json:"started"`
}

// Job runs the maintenance sweep.
type Job struct {
	store    store.Store
	clock    clock.Clock
	audit    *audit.Logger
	notifier Notifier
	config   Config

	baseCtx context.Context
	cancel  context.CancelFunc

	mu      sync.Mutex
	running bool
	stopped bool
	last    *Result
	wg      sync.WaitGroup
}

// NewJob creates a new maintenance job. auditLogger and notifier may be nil.
func NewJob(config Config, st store.Store, clk clock.Clock, auditLogger *audit.Logger, notifier Notifier) *Job {
	if clk == nil {
		clk = clock.System{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Job{
		store:    st,
		clock:    clk,
		audit:    auditLogger,
		notifier: notifier,
		config:   config,
		baseCtx:  ctx,
		cancel:   cancel,
	}
}

// Trigger starts a run in the background and returns at once. A trigger while a
// run is in flight is coalesced into that run. A stopped job refuses new runs.
func (j *Job) Trigger(ctx context.Context, tenant string) Ack {
	j.mu.Lock()
	if j.stopped {
		j.mu.Unlock()
		ctxlog.FromContext(ctx).Warn("maintenance job stopped, trigger refused", "tenant", tenant)
		return Ack{Message: MessageStopped}
	}
	if j.running {
		j.mu.Unlock()
		ctxlog.FromContext(ctx).Info("maintenance job already running, trigger coalesced", "tenant", tenant)
		return Ack{Message: MessageAlreadyRunning}
	}
	j.running = true
	j.wg.Add(1)
	j.mu.Unlock()

	runCtx := ctxlog.WithLogger(j.baseCtx, ctxlog.FromContext(ctx))

	go func() {
		defer j.wg.Done()

		result, err := j.Run(runCtx, tenant)

		j.mu.Lock()
		j.running = false
		if err == nil {
			j.last = result
		}
		j.mu.Unlock()
	}()

	return Ack{Message: MessageStarted, Started: true}
}

// Wait blocks until in-flight runs finish.
func (j *Job) Wait() {
	j.wg.Wait()
}

// Stop cancels in-flight runs and waits for them to return. It is terminal:
// later triggers are refused.
func (j *Job) Stop() {
	j.mu.Lock()
	j.stopped = true
	j.mu.Unlock()

	j.cancel()
	j.wg.Wait()
}

// LastResult returns the result of the most recent successful background run.
func (j *Job) LastResult() (Result, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.last == nil {
		return Result{}, false
	}
	return *j.last, true
}

// Run purges closed incidents and re-evaluates every open one. Per-incident
// failures are logged and counted; only the purge and listing can fail the run.
func (j *Job) Run(ctx context.Context, tenant string) (*Result, error) {
	ctx = store.WithTenant(ctx, tenant)
	logger := ctxlog.FromContext(ctx).With("tenant", tenant)
	started := time.Now()

	result := &Result{Tenant: tenant}

	var cutoff time.Time
	if j.config.Retention > 0 {
		cutoff = j.clock.Now().Add(-j.config.Retention)
	}

	var ids []string
	err := j.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		deleted, err := tx.DeleteClosedIncidents(ctx, cutoff)
		if err != nil {
			return err
		}
		result.Deleted = deleted

		ids, err = tx.ListOpenIncidentIDs(ctx)
		return err
	})
	if err != nil {
		recordRun("failed", time.Since(started))
		logger.Error("maintenance job failed", "error", err)
		return nil, fmt.Errorf("purge closed incidents: %w", err)
	}
	recordPurged(result.Deleted)

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			result.Duration = time.Since(started)
			recordRun("cancelled", result.Duration)
			logger.Warn("maintenance job cancelled", "processed", result.Processed, "remaining", len(ids)-result.Processed)
			return result, err
		}

		result.Processed++
		ev, err := j.sweepOne(ctx, id)
		if err != nil {
			result.Failed++
			recordSwept("failed")
			logger.Error("failed to re-evaluate incident", "incident_id", id, "error", err)
			continue
		}
		if ev == nil {
			recordSwept("unchanged")
			continue
		}

		result.Updated++
		recordSwept("updated")
		if ev.Breached {
			result.Breached++
			recordSwept("breached")
		}
		if ev.PreviousPriority != ev.Priority && !ev.Breached {
			result.Escalated++
			recordSwept("escalated")
		}
	}

	result.Duration = time.Since(started)
	recordRun("success", result.Duration)
	logger.Info("maintenance job finished",
		"deleted", result.Deleted,
		"processed", result.Processed,
		"updated", result.Updated,
		"breached", result.Breached,
		"escalated", result.Escalated,
		"failed", result.Failed,
		"duration_ms", result.Duration.Milliseconds(),
	)
	return result, nil
}

// sweepOne re-evaluates one incident under its row lock. It returns nil when
// nothing changed.
func (j *Job) sweepOne(ctx context.Context, id string) (*domain.Escalation, error) {
	var change *domain.Escalation

	err := j.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		incident, err := tx.GetIncidentForUpdate(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			return err
		}
		if incident.IsClosed() {
			return nil
		}

		now := j.clock.Now()
		ev := sla.Reevaluate(incident, now.UnixMilli())
		if !ev.Changed() {
			return nil
		}

		change = &domain.Escalation{
			IncidentID:       incident.ID,
			Title:            incident.Title,
			Type:             incident.Type,
			PreviousPriority: incident.Priority,
			Priority:         ev.Priority,
			PreviousStatus:   incident.SLAStatus,
			Status:           ev.Status,
			Breached:         ev.Breached,
			DueDate:          incident.SLADueDate,
			At:               now,
		}

		ev.Apply(incident)
		return tx.UpdateIncident(ctx, incident)
	})
	if err != nil {
		return nil, err
	}
	if change == nil {
		return nil, nil
	}

	j.recordChange(ctx, change)
	if j.notifier != nil && (change.Breached || change.Priority != change.PreviousPriority) {
		j.notifier.NotifyEscalation(ctx, *change)
	}
	return change, nil
}

func (j *Job) recordChange(ctx context.Context, c *domain.Escalation) {
	if j.audit == nil {
		return
	}
	if c.Status != c.PreviousStatus {
		j.audit.Record(ctx, audit.Entry{
			EntityType:   domain.EntityIncident,
			EntityKey:    c.IncidentID,
			Action:       domain.AuditActionUpdate,
			FieldChanged: "slaStatus",
			OldValue:     string(c.PreviousStatus),
			NewValue:     string(c.Status),
		})
	}
	if c.Priority != c.PreviousPriority {
		j.audit.Record(ctx, audit.Entry{
			EntityType:   domain.EntityIncident,
			EntityKey:    c.IncidentID,
			Action:       domain.AuditActionUpdate,
			FieldChanged: "priority",
			OldValue:     string(c.PreviousPriority),
			NewValue:     string(c.Priority),
		})
	}
}
