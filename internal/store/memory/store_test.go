package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bissquit/incident-tracker/internal/domain"
	"github.com/bissquit/incident-tracker/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newIncident(id string, status domain.IncidentStatus, priority domain.Priority, createdAt time.Time) *domain.Incident {
	return &domain.Incident{
		ID:          id,
		Title:       "Incident " + id,
		Type:        domain.IncidentTypeAPIFailure,
		Status:      status,
		Priority:    priority,
		CreatedAt:   createdAt,
		SLADuration: 24,
		SLAStatus:   domain.SLAStatusOnTrack,
	}
}

func TestStore_RunInTxRollsBack(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now().UTC()

	require.NoError(t, s.CreateIncident(ctx, newIncident("a", domain.IncidentStatusOpen, domain.PriorityLow, now)))

	boom := errors.New("boom")
	err := s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		require.NoError(t, tx.CreateReport(ctx, &domain.Report{ID: "b", Title: "t", Description: "d"}))
		require.NoError(t, tx.CreateIncident(ctx, newIncident("b", domain.IncidentStatusOpen, domain.PriorityLow, now)))

		inc, err := tx.GetIncidentForUpdate(ctx, "a")
		require.NoError(t, err)
		inc.Status = domain.IncidentStatusClosed
		require.NoError(t, tx.UpdateIncident(ctx, inc))
		require.NoError(t, tx.CreateResolveTime(ctx, &domain.ResolveTime{ID: "rt", IncidentID: "a"}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.GetReport(ctx, "b")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetIncident(ctx, "b")
	assert.ErrorIs(t, err, store.ErrNotFound)

	a, err := s.GetIncident(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, domain.IncidentStatusOpen, a.Status)
	assert.Empty(t, s.ResolveTimes())
}

func TestStore_RunInTxRestoresDeleted(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CreateIncident(ctx, newIncident("a", domain.IncidentStatusClosed, domain.PriorityLow, time.Now())))

	err := s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		n, err := tx.DeleteClosedIncidents(ctx, time.Time{})
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		return errors.New("abort")
	})
	require.Error(t, err)

	_, err = s.GetIncident(ctx, "a")
	assert.NoError(t, err)
}

func TestStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CreateIncident(ctx, newIncident("a", domain.IncidentStatusOpen, domain.PriorityLow, time.Now())))

	inc, err := s.GetIncident(ctx, "a")
	require.NoError(t, err)
	inc.Priority = domain.PriorityCritical

	again, err := s.GetIncident(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, domain.PriorityLow, again.Priority)
}

func TestStore_ListIncidents(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.CreateIncident(ctx, newIncident("a", domain.IncidentStatusOpen, domain.PriorityLow, base)))
	require.NoError(t, s.CreateIncident(ctx, newIncident("b", domain.IncidentStatusOpen, domain.PriorityHigh, base.Add(time.Hour))))
	require.NoError(t, s.CreateIncident(ctx, newIncident("c", domain.IncidentStatusClosed, domain.PriorityCritical, base.Add(2*time.Hour))))

	all, err := s.ListIncidents(ctx, domain.IncidentFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"c", "b", "a"}, []string{all[0].ID, all[1].ID, all[2].ID})

	high := domain.PriorityHigh
	open := domain.IncidentStatusOpen
	filtered, err := s.ListIncidents(ctx, domain.IncidentFilter{MinPriority: &high, Status: &open})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "b", filtered[0].ID)

	page, err := s.ListIncidents(ctx, domain.IncidentFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "b", page[0].ID)

	empty, err := s.ListIncidents(ctx, domain.IncidentFilter{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestStore_DeleteClosedIncidentsRetention(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now().UTC()
	old := now.Add(-48 * time.Hour)
	recent := now.Add(-time.Hour)

	a := newIncident("a", domain.IncidentStatusClosed, domain.PriorityLow, old)
	a.ResolvedAt = &old
	b := newIncident("b", domain.IncidentStatusClosed, domain.PriorityLow, old)
	b.ResolvedAt = &recent
	require.NoError(t, s.CreateIncident(ctx, a))
	require.NoError(t, s.CreateIncident(ctx, b))
	require.NoError(t, s.CreateIncident(ctx, newIncident("c", domain.IncidentStatusOpen, domain.PriorityLow, old)))

	n, err := s.DeleteClosedIncidents(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	ids, err := s.ListOpenIncidentIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, ids)

	_, err = s.GetIncident(ctx, "b")
	assert.NoError(t, err)
}

func TestStore_Aggregates(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now()

	require.NoError(t, s.CreateIncident(ctx, newIncident("a", domain.IncidentStatusOpen, domain.PriorityLow, now)))
	require.NoError(t, s.CreateIncident(ctx, newIncident("b", domain.IncidentStatusOpen, domain.PriorityCritical, now)))
	require.NoError(t, s.CreateIncident(ctx, newIncident("c", domain.IncidentStatusOpen, domain.PriorityCritical, now)))
	require.NoError(t, s.CreateIncident(ctx, newIncident("d", domain.IncidentStatusClosed, domain.PriorityHigh, now)))

	require.NoError(t, s.CreateResolveTime(ctx, &domain.ResolveTime{ID: "1", IncidentType: domain.IncidentTypeAPIFailure, TimeSpent: 10}))
	require.NoError(t, s.CreateResolveTime(ctx, &domain.ResolveTime{ID: "2", IncidentType: domain.IncidentTypeAPIFailure, TimeSpent: 20}))
	require.NoError(t, s.CreateResolveTime(ctx, &domain.ResolveTime{ID: "3", IncidentType: domain.IncidentTypeSystemOutage, TimeSpent: 5}))

	total, err := s.CountIncidents(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(4), total)

	closed := domain.IncidentStatusClosed
	n, err := s.CountIncidents(ctx, &closed)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	byType, err := s.AvgResolutionTimeByType(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.ResolutionByType{
		{IncidentType: domain.IncidentTypeAPIFailure, Count: 2, AvgTime: 15},
		{IncidentType: domain.IncidentTypeSystemOutage, Count: 1, AvgTime: 5},
	}, byType)

	byPriority, err := s.CountOpenByPriority(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.PriorityCount{
		{Priority: domain.PriorityCritical, Count: 2},
		{Priority: domain.PriorityLow, Count: 1},
	}, byPriority)
}

func TestStore_Audit(t *testing.T) {
	ctx := context.Background()
	s := New()
	key := "inc-1"

	require.NoError(t, s.AppendAudit(ctx, &domain.AuditLogEntry{ID: "1", EntityType: domain.EntityIncident, EntityKey: &key, Action: domain.AuditActionCreate}))
	require.NoError(t, s.AppendAudit(ctx, &domain.AuditLogEntry{ID: "2", EntityType: domain.EntityIncidents, Action: domain.AuditActionGet}))
	require.NoError(t, s.AppendAudit(ctx, &domain.AuditLogEntry{ID: "3", EntityType: domain.EntityIncident, EntityKey: &key, Action: domain.AuditActionClose}))

	entries, err := s.ListAudit(ctx, domain.AuditFilter{EntityType: domain.EntityIncident, EntityKey: key})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "3", entries[0].ID)
	assert.Equal(t, "1", entries[1].ID)

	limited, err := s.ListAudit(ctx, domain.AuditFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "3", limited[0].ID)
}

func TestStore_TenantIsRecorded(t *testing.T) {
	s := New()
	ctx := store.WithTenant(context.Background(), "acme")

	require.NoError(t, s.RunInTx(ctx, func(context.Context, store.Tx) error { return nil }))
	assert.Equal(t, "acme", s.Tenant())
}

func TestStore_CreateReportDuplicate(t *testing.T) {
	ctx := context.Background()
	s := New()
	report := &domain.Report{ID: "X", Title: "first", Type: domain.IncidentTypeAPIFailure}
	require.NoError(t, s.CreateReport(ctx, report))

	err := s.CreateReport(ctx, &domain.Report{ID: "X", Title: "second"})
	assert.ErrorIs(t, err, store.ErrAlreadyExists)

	got, err := s.GetReport(ctx, "X")
	require.NoError(t, err)
	assert.Equal(t, "first", got.Title)
}

func TestStore_GetUser(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.AddUser(domain.User{ID: "u1", DisplayName: "Jo"})

	u, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Jo", u.DisplayName)

	_, err = s.GetUser(ctx, "nobody")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
