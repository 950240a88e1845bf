package ledger

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Ledger owns the session, consent, payment and tariff state. All mutating
// calls are serialized behind one mutex, standing in for the ordering layer a
// real chain provides: each call observes a consistent snapshot and its guards
// are race-free by construction.
type Ledger struct {
	mu      sync.Mutex
	store   Store
	members MembershipRegistry
	events  EventSink
	now     func() time.Time
	logger  *zap.Logger
}

// Option adjusts optional ledger collaborators.
type Option func(*Ledger)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithEventSink attaches an event sink.
func WithEventSink(sink EventSink) Option {
	return func(l *Ledger) { l.events = sink }
}

// New builds a ledger over the given state store and membership registry.
func New(store Store, members MembershipRegistry, logger *zap.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		store:   store,
		members: members,
		events:  noopSink{},
		now:     func() time.Time { return time.Now().UTC() },
		logger:  logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) emit(event Event) {
	l.events.Publish(event)
}

// PendingRequest returns the outstanding request for a charger, if any.
func (l *Ledger) PendingRequest(ctx context.Context, charger AccountID) (SessionRequest, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.PendingRequest(ctx, charger)
}

// ActiveSession returns the in-progress session for a charger, if any.
func (l *Ledger) ActiveSession(ctx context.Context, charger AccountID) (ChargingSession, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.ActiveSession(ctx, charger)
}

// Consent resolves a session id to the pair that consented to it.
func (l *Ledger) Consent(ctx context.Context, id SessionID) (SessionConsent, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.Consent(ctx, id)
}

// PendingPayments returns the settlement queue in arrival order.
func (l *Ledger) PendingPayments(ctx context.Context) ([]Payment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.PendingPayments(ctx)
}

// CompletedPayment returns the confirmed settlement for a session, if any.
func (l *Ledger) CompletedPayment(ctx context.Context, id SessionID) (Payment, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.CompletedPayment(ctx, id)
}

// AllowedPayerCount reports how many users have a payment consent on file.
func (l *Ledger) AllowedPayerCount(ctx context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.PaymentConsentCount(ctx)
}

// HasPaymentConsent reports whether the user registered bank details.
func (l *Ledger) HasPaymentConsent(ctx context.Context, user AccountID) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok, err := l.store.PaymentConsent(ctx, user)
	return ok, err
}

// IsCharger reports charger-organization membership.
func (l *Ledger) IsCharger(who AccountID) bool {
	return l.members.IsMember(OrgChargers, who)
}

// IsPaymentValidator reports validator-organization membership.
func (l *Ledger) IsPaymentValidator(who AccountID) bool {
	return l.members.IsMember(OrgPaymentValidators, who)
}
