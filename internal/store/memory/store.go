// Package memory provides an in-process implementation of the incident store.
// Units of work are serialized and rolled back with an undo log.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bissquit/incident-tracker/internal/domain"
	"github.com/bissquit/incident-tracker/internal/store"
)

type state struct {
	reports      map[string]*domain.Report
	incidents    map[string]*domain.Incident
	resolveTimes []*domain.ResolveTime
	users        map[string]*domain.User
	audit        []*domain.AuditLogEntry
}

// Store is an in-memory store.Store. It also implements the audit sink and the
// reporting aggregates.
type Store struct {
	txMu sync.Mutex
	mu   sync.RWMutex
	st   state

	tenant string
}

// New creates an empty store.
func New() *Store {
	return &Store{
		st: state{
			reports:   make(map[string]*domain.Report),
			incidents: make(map[string]*domain.Incident),
			users:     make(map[string]*domain.User),
		},
	}
}

// Tenant returns the tenant token seen by the most recent unit of work.
func (s *Store) Tenant() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tenant
}

// AddUser registers a user reference.
func (s *Store) AddUser(user domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := user
	s.st.users[u.ID] = &u
}

// RunInTx runs fn with exclusive access to the store. Writes are undone if fn fails.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	s.tenant = store.TenantFromContext(ctx)
	s.mu.Unlock()

	t := &txView{s: s}
	if err := fn(ctx, t); err != nil {
		t.rollback()
		return err
	}
	return nil
}

// txView is a store.Tx that records undo steps.
type txView struct {
	s    *Store
	undo []func()
}

func (t *txView) rollback() {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
}

func (t *txView) GetReport(ctx context.Context, id string) (*domain.Report, error) {
	return t.s.GetReport(ctx, id)
}

func (t *txView) CreateReport(ctx context.Context, report *domain.Report) error {
	if err := t.s.CreateReport(ctx, report); err != nil {
		return err
	}
	id := report.ID
	t.undo = append(t.undo, func() { delete(t.s.st.reports, id) })
	return nil
}

func (t *txView) GetIncident(ctx context.Context, id string) (*domain.Incident, error) {
	return t.s.GetIncident(ctx, id)
}

func (t *txView) GetIncidentForUpdate(ctx context.Context, id string) (*domain.Incident, error) {
	return t.s.GetIncident(ctx, id)
}

func (t *txView) CreateIncident(ctx context.Context, incident *domain.Incident) error {
	if err := t.s.CreateIncident(ctx, incident); err != nil {
		return err
	}
	id := incident.ID
	t.undo = append(t.undo, func() { delete(t.s.st.incidents, id) })
	return nil
}

func (t *txView) UpdateIncident(ctx context.Context, incident *domain.Incident) error {
	prev, err := t.s.GetIncident(ctx, incident.ID)
	if err != nil {
		return err
	}
	if err := t.s.UpdateIncident(ctx, incident); err != nil {
		return err
	}
	t.undo = append(t.undo, func() { t.s.st.incidents[prev.ID] = prev })
	return nil
}

func (t *txView) ListIncidents(ctx context.Context, filter domain.IncidentFilter) ([]*domain.Incident, error) {
	return t.s.ListIncidents(ctx, filter)
}

func (t *txView) ListOpenIncidentIDs(ctx context.Context) ([]string, error) {
	return t.s.ListOpenIncidentIDs(ctx)
}

func (t *txView) DeleteClosedIncidents(ctx context.Context, closedBefore time.Time) (int64, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	removed := t.s.deleteClosedLocked(closedBefore)
	t.undo = append(t.undo, func() {
		for _, inc := range removed {
			t.s.st.incidents[inc.ID] = inc
		}
	})
	return int64(len(removed)), nil
}

func (t *txView) CreateResolveTime(ctx context.Context, rt *domain.ResolveTime) error {
	if err := t.s.CreateResolveTime(ctx, rt); err != nil {
		return err
	}
	t.undo = append(t.undo, func() {
		t.s.st.resolveTimes = t.s.st.resolveTimes[:len(t.s.st.resolveTimes)-1]
	})
	return nil
}

func (t *txView) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	return t.s.GetUser(ctx, userID)
}

// GetReport returns the report with the given ID.
func (s *Store) GetReport(_ context.Context, id string) (*domain.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.st.reports[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

// CreateReport stores a new report.
func (s *Store) CreateReport(_ context.Context, report *domain.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.st.reports[report.ID]; ok {
		return store.ErrAlreadyExists
	}
	cp := *report
	s.st.reports[report.ID] = &cp
	return nil
}

// GetIncident returns the incident with the given ID.
func (s *Store) GetIncident(_ context.Context, id string) (*domain.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inc, ok := s.st.incidents[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneIncident(inc), nil
}

// GetIncidentForUpdate returns the incident. Outside RunInTx no lock is held.
func (s *Store) GetIncidentForUpdate(ctx context.Context, id string) (*domain.Incident, error) {
	return s.GetIncident(ctx, id)
}

// CreateIncident stores a new incident.
func (s *Store) CreateIncident(_ context.Context, incident *domain.Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.st.incidents[incident.ID]; ok {
		return fmt.Errorf("create incident: duplicate id %q", incident.ID)
	}
	incident.UpdatedAt = incident.CreatedAt
	s.st.incidents[incident.ID] = cloneIncident(incident)
	return nil
}

// UpdateIncident replaces a stored incident.
func (s *Store) UpdateIncident(_ context.Context, incident *domain.Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.st.incidents[incident.ID]; !ok {
		return store.ErrNotFound
	}
	incident.UpdatedAt = time.Now().UTC()
	s.st.incidents[incident.ID] = cloneIncident(incident)
	return nil
}

// ListIncidents returns incidents matching the filter, newest first.
func (s *Store) ListIncidents(_ context.Context, filter domain.IncidentFilter) ([]*domain.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Incident, 0)
	for _, inc := range s.st.incidents {
		if filter.Matches(inc) {
			out = append(out, cloneIncident(inc))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return []*domain.Incident{}, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, nil
}

// ListOpenIncidentIDs returns the IDs of all incidents that are not CLOSED.
func (s *Store) ListOpenIncidentIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0)
	for id, inc := range s.st.incidents {
		if !inc.IsClosed() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// DeleteClosedIncidents removes CLOSED incidents resolved at or before closedBefore.
func (s *Store) DeleteClosedIncidents(_ context.Context, closedBefore time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.deleteClosedLocked(closedBefore))), nil
}

func (s *Store) deleteClosedLocked(closedBefore time.Time) []*domain.Incident {
	removed := make([]*domain.Incident, 0)
	for id, inc := range s.st.incidents {
		if !inc.IsClosed() {
			continue
		}
		if !closedBefore.IsZero() && inc.ResolvedAt != nil && inc.ResolvedAt.After(closedBefore) {
			continue
		}
		removed = append(removed, inc)
		delete(s.st.incidents, id)
	}
	return removed
}

// CreateResolveTime appends a resolve time row.
func (s *Store) CreateResolveTime(_ context.Context, rt *domain.ResolveTime) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *rt
	s.st.resolveTimes = append(s.st.resolveTimes, &cp)
	return nil
}

// ResolveTimes returns all stored resolve time rows.
func (s *Store) ResolveTimes() []domain.ResolveTime {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.ResolveTime, 0, len(s.st.resolveTimes))
	for _, rt := range s.st.resolveTimes {
		out = append(out, *rt)
	}
	return out
}

// GetUser returns the user reference with the given ID.
func (s *Store) GetUser(_ context.Context, userID string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.st.users[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

// AppendAudit appends an audit entry.
func (s *Store) AppendAudit(_ context.Context, entry *domain.AuditLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *entry
	s.st.audit = append(s.st.audit, &cp)
	return nil
}

// ListAudit returns audit entries matching the filter, newest first.
func (s *Store) ListAudit(_ context.Context, filter domain.AuditFilter) ([]*domain.AuditLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.AuditLogEntry, 0)
	for i := len(s.st.audit) - 1; i >= 0; i-- {
		e := s.st.audit[i]
		if filter.EntityType != "" && e.EntityType != filter.EntityType {
			continue
		}
		if filter.EntityKey != "" && (e.EntityKey == nil || *e.EntityKey != filter.EntityKey) {
			continue
		}
		if filter.Action != nil && e.Action != *filter.Action {
			continue
		}
		cp := *e
		out = append(out, &cp)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

// CountIncidents counts incidents, optionally restricted to one status.
func (s *Store) CountIncidents(_ context.Context, status *domain.IncidentStatus) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, inc := range s.st.incidents {
		if status == nil || inc.Status == *status {
			n++
		}
	}
	return n, nil
}

// AvgResolutionTimeByType groups resolve time rows by incident type.
func (s *Store) AvgResolutionTimeByType(_ context.Context) ([]domain.ResolutionByType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type acc struct {
		count int64
		sum   int64
	}
	groups := make(map[domain.IncidentType]*acc)
	for _, rt := range s.st.resolveTimes {
		a, ok := groups[rt.IncidentType]
		if !ok {
			a = &acc{}
			groups[rt.IncidentType] = a
		}
		a.count++
		a.sum += int64(rt.TimeSpent)
	}

	out := make([]domain.ResolutionByType, 0, len(groups))
	for t, a := range groups {
		out = append(out, domain.ResolutionByType{
			IncidentType: t,
			Count:        a.count,
			AvgTime:      float64(a.sum) / float64(a.count),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.Compare(string(out[i].IncidentType), string(out[j].IncidentType)) < 0
	})
	return out, nil
}

// CountOpenByPriority counts OPEN incidents per priority.
func (s *Store) CountOpenByPriority(_ context.Context) ([]domain.PriorityCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[domain.Priority]int64)
	for _, inc := range s.st.incidents {
		if inc.Status == domain.IncidentStatusOpen {
			counts[inc.Priority]++
		}
	}

	out := make([]domain.PriorityCount, 0, len(counts))
	for p, n := range counts {
		out = append(out, domain.PriorityCount{Priority: p, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Priority.Rank() > out[j].Priority.Rank()
	})
	return out, nil
}

func cloneIncident(inc *domain.Incident) *domain.Incident {
	cp := *inc
	if inc.AssignedUserID != nil {
		v := *inc.AssignedUserID
		cp.AssignedUserID = &v
	}
	if inc.ResolvedAt != nil {
		v := *inc.ResolvedAt
		cp.ResolvedAt = &v
	}
	if inc.SLABreachedAt != nil {
		v := *inc.SLABreachedAt
		cp.SLABreachedAt = &v
	}
	return &cp
}
