package notifications

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubError struct{ retryable bool }

func (e stubError) Error() string     { return "stub" }
func (e stubError) IsRetryable() bool { return e.retryable }

type recordingSender struct {
	mu    sync.Mutex
	sent  []Notification
	calls int
	errs  []error
}

func (s *recordingSender) Send(_ context.Context, n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return err
		}
	}
	s.sent = append(s.sent, n)
	return nil
}

func (s *recordingSender) snapshot() (int, []Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls, append([]Notification(nil), s.sent...)
}

func newTestNotifier(t *testing.T, sender Sender) *EscalationNotifier {
	t.Helper()
	r, err := NewRenderer()
	require.NoError(t, err)
	return NewEscalationNotifier(NotifierConfig{
		WebhookURL:     "https://chat.example.com/hooks/abc",
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}, sender, r)
}

func TestEscalationNotifier_Delivers(t *testing.T) {
	sender := &recordingSender{}
	n := newTestNotifier(t, sender)
	n.Start(context.Background())

	n.NotifyEscalation(context.Background(), testEscalation())
	n.Stop()

	calls, sent := sender.snapshot()
	assert.Equal(t, 1, calls)
	require.Len(t, sent, 1)
	assert.Equal(t, "https://chat.example.com/hooks/abc", sent[0].To)
	assert.Equal(t, "[SLA breached] Checkout API returns 502", sent[0].Subject)
}

func TestEscalationNotifier_RetriesTransientErrors(t *testing.T) {
	sender := &recordingSender{errs: []error{stubError{retryable: true}, errors.New("connection reset")}}
	n := newTestNotifier(t, sender)
	n.Start(context.Background())

	n.NotifyEscalation(context.Background(), testEscalation())
	n.Stop()

	calls, sent := sender.snapshot()
	assert.Equal(t, 3, calls)
	assert.Len(t, sent, 1)
}

func TestEscalationNotifier_StopsOnPermanentError(t *testing.T) {
	sender := &recordingSender{errs: []error{stubError{retryable: false}}}
	n := newTestNotifier(t, sender)
	n.Start(context.Background())

	n.NotifyEscalation(context.Background(), testEscalation())
	n.Stop()

	calls, sent := sender.snapshot()
	assert.Equal(t, 1, calls)
	assert.Empty(t, sent)
}

func TestEscalationNotifier_GivesUpAfterMaxAttempts(t *testing.T) {
	transient := stubError{retryable: true}
	sender := &recordingSender{errs: []error{transient, transient, transient, transient}}
	n := newTestNotifier(t, sender)
	n.Start(context.Background())

	n.NotifyEscalation(context.Background(), testEscalation())
	n.Stop()

	calls, sent := sender.snapshot()
	assert.Equal(t, 3, calls)
	assert.Empty(t, sent)
}

func TestEscalationNotifier_DropsAfterStop(t *testing.T) {
	sender := &recordingSender{}
	n := newTestNotifier(t, sender)
	n.Start(context.Background())
	n.Stop()

	n.NotifyEscalation(context.Background(), testEscalation())

	calls, _ := sender.snapshot()
	assert.Zero(t, calls)
}

func TestEscalationNotifier_Backoff(t *testing.T) {
	n := NewEscalationNotifier(NotifierConfig{
		InitialBackoff:    time.Second,
		MaxBackoff:        3 * time.Second,
		BackoffMultiplier: 2,
	}, &recordingSender{}, nil)

	assert.Equal(t, time.Second, n.backoff(1))
	assert.Equal(t, 2*time.Second, n.backoff(2))
	assert.Equal(t, 3*time.Second, n.backoff(3))
}
