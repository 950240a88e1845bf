package ledger_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"chargeledger/internal/ledger"
	"chargeledger/internal/membership"
	"chargeledger/internal/storage"
)

const (
	testAdmin     = ledger.AccountID("admin")
	testUser      = ledger.AccountID("alice")
	testUser2     = ledger.AccountID("bob")
	testCharger   = ledger.AccountID("charger-1")
	testCharger2  = ledger.AccountID("charger-2")
	testValidator = ledger.AccountID("validator-1")
)

type recordingSink struct {
	mu     sync.Mutex
	events []ledger.Event
}

func (s *recordingSink) Publish(event ledger.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *recordingSink) kinds() []ledger.EventKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	kinds := make([]ledger.EventKind, 0, len(s.events))
	for _, event := range s.events {
		kinds = append(kinds, event.Kind)
	}
	return kinds
}

func (s *recordingSink) last(kind ledger.EventKind) (ledger.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].Kind == kind {
			return s.events[i], true
		}
	}
	return ledger.Event{}, false
}

func newTestLedger(t *testing.T) (*ledger.Ledger, *storage.Memory, *recordingSink) {
	t.Helper()

	registry := membership.NewRegistry()
	registry.SetOwner(ledger.OrgChargers, testAdmin)
	for _, charger := range []ledger.AccountID{testCharger, testCharger2} {
		if err := registry.Add(ledger.OrgChargers, charger); err != nil {
			t.Fatalf("seed charger: %v", err)
		}
	}
	if err := registry.Add(ledger.OrgPaymentValidators, testValidator); err != nil {
		t.Fatalf("seed validator: %v", err)
	}

	store := storage.NewMemory()
	sink := &recordingSink{}
	l := ledger.New(store, registry, zap.NewNop(),
		ledger.WithEventSink(sink),
		ledger.WithClock(func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }),
	)
	return l, store, sink
}

// registerConsent puts standing bank details on file for the user.
func registerConsent(t *testing.T, l *ledger.Ledger, user ledger.AccountID) {
	t.Helper()
	if err := l.RegisterPaymentConsent(context.Background(), user, "FR7630006000011234567890189", "AGRIFRPP", nil); err != nil {
		t.Fatalf("register payment consent for %s: %v", user, err)
	}
}

func setPrice(t *testing.T, l *ledger.Ledger, cents uint64) {
	t.Helper()
	if err := l.SetCurrentPrice(context.Background(), testAdmin, cents); err != nil {
		t.Fatalf("set price: %v", err)
	}
}
