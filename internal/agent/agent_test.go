package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"chargeledger/internal/gateway"
	"chargeledger/internal/hardware"
	"chargeledger/internal/ledger"
	"chargeledger/internal/membership"
	"chargeledger/internal/storage"
)

const (
	user      = ledger.AccountID("alice")
	charger   = ledger.AccountID("charger-1")
	validator = ledger.AccountID("validator-1")
)

type fakeHardware struct {
	mu         sync.Mutex
	startErr   error
	status     hardware.ChargeStatus
	statusErr  error
	startCalls int
}

func (f *fakeHardware) StartCharge(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCalls++
	return f.startErr
}

func (f *fakeHardware) Status(context.Context) (hardware.ChargeStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status, f.statusErr
}

func (f *fakeHardware) set(status hardware.ChargeStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = status
}

type fakeGateway struct {
	mu     sync.Mutex
	err    error
	orders []gateway.PaymentOrder
}

func (f *fakeGateway) Charge(_ context.Context, order gateway.PaymentOrder) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.orders = append(f.orders, order)
	return nil
}

func (f *fakeGateway) orderCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.orders)
}

func newTestSetup(t *testing.T) (*ledger.Ledger, *fakeHardware, *fakeGateway, *Agent) {
	t.Helper()

	registry := membership.NewRegistry()
	if err := registry.Add(ledger.OrgChargers, charger); err != nil {
		t.Fatalf("seed charger: %v", err)
	}
	if err := registry.Add(ledger.OrgPaymentValidators, validator); err != nil {
		t.Fatalf("seed validator: %v", err)
	}

	l := ledger.New(storage.NewMemory(), registry, zap.NewNop())
	hw := &fakeHardware{}
	gw := &fakeGateway{}

	a := New(Config{
		Ledger:     l,
		Chargers:   map[ledger.AccountID]hardware.API{charger: hw},
		Validators: []ledger.AccountID{validator},
		Gateway:    gw,
		Interval:   time.Hour, // rounds driven manually via runOnce
		Timeout:    time.Second,
	}, zap.NewNop())
	return l, hw, gw, a
}

func prepareRequest(t *testing.T, l *ledger.Ledger) ledger.SessionID {
	t.Helper()
	ctx := context.Background()
	if err := l.RegisterPaymentConsent(ctx, user, "FR7630006000011234567890189", "AGRIFRPP", nil); err != nil {
		t.Fatalf("register consent: %v", err)
	}
	if err := l.SetCurrentPrice(ctx, "admin", 15); err != nil {
		t.Fatalf("set price: %v", err)
	}
	sessionID, err := l.RequestSession(ctx, user, charger)
	if err != nil {
		t.Fatalf("request session: %v", err)
	}
	return sessionID
}

func TestAgentStartsPendingSession(t *testing.T) {
	l, hw, _, a := newTestSetup(t)
	ctx := context.Background()
	prepareRequest(t, l)

	a.runOnce(ctx)

	if hw.startCalls != 1 {
		t.Fatalf("expected one hardware start, got %d", hw.startCalls)
	}
	if _, ok, _ := l.PendingRequest(ctx, charger); ok {
		t.Fatal("request should be consumed")
	}
	if _, ok, _ := l.ActiveSession(ctx, charger); !ok {
		t.Fatal("expected active session after round")
	}
}

func TestAgentRetriesWhenHardwareRefuses(t *testing.T) {
	l, hw, _, a := newTestSetup(t)
	ctx := context.Background()
	prepareRequest(t, l)
	hw.startErr = errors.New("plug not connected")

	a.runOnce(ctx)

	// Request stays pending, no session opened.
	if _, ok, _ := l.PendingRequest(ctx, charger); !ok {
		t.Fatal("request should remain pending")
	}
	if _, ok, _ := l.ActiveSession(ctx, charger); ok {
		t.Fatal("no session expected")
	}

	// Next round the hardware accepts.
	hw.startErr = nil
	a.runOnce(ctx)
	if _, ok, _ := l.ActiveSession(ctx, charger); !ok {
		t.Fatal("expected session after retry")
	}
}

func TestAgentEndsSessionAndSettles(t *testing.T) {
	l, hw, gw, a := newTestSetup(t)
	ctx := context.Background()
	sessionID := prepareRequest(t, l)

	a.runOnce(ctx) // starts the session
	hw.set(hardware.ChargeStatus{State: hardware.StateActive})
	a.runOnce(ctx) // still charging, no transition
	if _, ok, _ := l.ActiveSession(ctx, charger); !ok {
		t.Fatal("session should still be active")
	}

	hw.set(hardware.ChargeStatus{State: hardware.StateEnded, EnergyKWh: 100})
	a.runOnce(ctx) // ends the session, enqueues the payment, settles it

	if _, ok, _ := l.ActiveSession(ctx, charger); ok {
		t.Fatal("session should be ended")
	}
	completed, ok, err := l.CompletedPayment(ctx, sessionID)
	if err != nil || !ok {
		t.Fatalf("expected completed payment, ok=%v err=%v", ok, err)
	}
	if completed.AmountCents != 1500 {
		t.Fatalf("expected amount 1500, got %d", completed.AmountCents)
	}
	if gw.orderCount() != 1 {
		t.Fatalf("expected one gateway order, got %d", gw.orderCount())
	}
	pending, _ := l.PendingPayments(ctx)
	if len(pending) != 0 {
		t.Fatalf("expected empty queue, got %d", len(pending))
	}
}

func TestAgentLeavesLedgerUntouchedOnDivergence(t *testing.T) {
	l, hw, _, a := newTestSetup(t)
	ctx := context.Background()
	prepareRequest(t, l)

	a.runOnce(ctx)
	// Ledger shows active, hardware reports nothing. The divergence is
	// surfaced in logs only; the session must survive.
	hw.set(hardware.ChargeStatus{State: hardware.StateNoCharge})
	a.runOnce(ctx)

	if _, ok, _ := l.ActiveSession(ctx, charger); !ok {
		t.Fatal("session must not be auto-corrected away")
	}
}

func TestAgentRetriesGatewayFailures(t *testing.T) {
	l, hw, gw, a := newTestSetup(t)
	ctx := context.Background()
	sessionID := prepareRequest(t, l)

	a.runOnce(ctx)
	hw.set(hardware.ChargeStatus{State: hardware.StateEnded, EnergyKWh: 10})
	gw.err = errors.New("gateway unavailable")
	a.runOnce(ctx)

	// Payment stays pending, nothing completed.
	pending, _ := l.PendingPayments(ctx)
	if len(pending) != 1 {
		t.Fatalf("expected payment to stay pending, got %d", len(pending))
	}
	if _, ok, _ := l.CompletedPayment(ctx, sessionID); ok {
		t.Fatal("no completion expected while gateway fails")
	}

	gw.err = nil
	a.runOnce(ctx)
	if _, ok, _ := l.CompletedPayment(ctx, sessionID); !ok {
		t.Fatal("expected completion after gateway recovers")
	}
}

func TestRacingValidatorsSettleOnce(t *testing.T) {
	l, hw, _, a := newTestSetup(t)
	ctx := context.Background()
	sessionID := prepareRequest(t, l)

	a.runOnce(ctx)
	hw.set(hardware.ChargeStatus{State: hardware.StateEnded, EnergyKWh: 10})
	a.runOnce(ctx)

	// A second node completed the payment between our gateway call and our
	// submission: the rejection is expected and harmless.
	err := l.CompleteSettlement(ctx, validator, sessionID)
	if !errors.Is(err, ledger.ErrAlreadyConfirmedPayment) && !errors.Is(err, ledger.ErrNonExistentPayment) {
		t.Fatalf("expected idempotency rejection, got %v", err)
	}
	if _, ok, _ := l.CompletedPayment(ctx, sessionID); !ok {
		t.Fatal("expected exactly one completed payment")
	}
}
