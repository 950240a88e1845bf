package ledger_test

import (
	"context"
	"errors"
	"testing"

	"chargeledger/internal/ledger"
)

func TestRequestSessionStoresRequestAndConsent(t *testing.T) {
	l, _, sink := newTestLedger(t)
	ctx := context.Background()
	registerConsent(t, l, testUser)

	sessionID, err := l.RequestSession(ctx, testUser, testCharger)
	if err != nil {
		t.Fatalf("request session: %v", err)
	}
	if sessionID == "" {
		t.Fatal("expected a session id")
	}

	req, ok, err := l.PendingRequest(ctx, testCharger)
	if err != nil || !ok {
		t.Fatalf("expected pending request, ok=%v err=%v", ok, err)
	}
	if req.UserID != testUser || req.SessionID != sessionID {
		t.Fatalf("unexpected request %+v", req)
	}

	consent, ok, err := l.Consent(ctx, sessionID)
	if err != nil || !ok {
		t.Fatalf("expected consent, ok=%v err=%v", ok, err)
	}
	if consent.UserID != testUser || consent.ChargerID != testCharger {
		t.Fatalf("unexpected consent %+v", consent)
	}

	if _, ok := sink.last(ledger.EventSessionRequested); !ok {
		t.Fatal("expected SessionRequested event")
	}
	if _, ok := sink.last(ledger.EventConsentStored); !ok {
		t.Fatal("expected ConsentStored event")
	}
}

func TestRequestSessionGuards(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()

	if _, err := l.RequestSession(ctx, testUser, "unknown-charger"); !errors.Is(err, ledger.ErrNotRegisteredCharger) {
		t.Fatalf("expected ErrNotRegisteredCharger, got %v", err)
	}

	if _, err := l.RequestSession(ctx, testUser, testCharger); !errors.Is(err, ledger.ErrNoPaymentConsent) {
		t.Fatalf("expected ErrNoPaymentConsent, got %v", err)
	}
}

func TestRequestSessionRejectsBusyCharger(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()
	registerConsent(t, l, testUser)
	registerConsent(t, l, testUser2)

	if _, err := l.RequestSession(ctx, testUser, testCharger); err != nil {
		t.Fatalf("first request: %v", err)
	}
	// Pending request blocks a second request, even from another user.
	if _, err := l.RequestSession(ctx, testUser2, testCharger); !errors.Is(err, ledger.ErrChargerIsBusy) {
		t.Fatalf("expected ErrChargerIsBusy, got %v", err)
	}

	// Active session blocks as well.
	if err := l.StartSession(ctx, testCharger, testUser); err != nil {
		t.Fatalf("start session: %v", err)
	}
	if _, err := l.RequestSession(ctx, testUser2, testCharger); !errors.Is(err, ledger.ErrChargerIsBusy) {
		t.Fatalf("expected ErrChargerIsBusy for active session, got %v", err)
	}
}

func TestSessionIDsAreUniquePerRequest(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()
	registerConsent(t, l, testUser)

	first, err := l.RequestSession(ctx, testUser, testCharger)
	if err != nil {
		t.Fatalf("request on charger-1: %v", err)
	}
	// Same user, same ledger time, different charger; and later the same pair
	// again after the first cycle completes.
	second, err := l.RequestSession(ctx, testUser, testCharger2)
	if err != nil {
		t.Fatalf("request on charger-2: %v", err)
	}
	if first == second {
		t.Fatal("expected distinct session ids")
	}

	if err := l.StartSession(ctx, testCharger, testUser); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := l.EndSession(ctx, testCharger, testUser, 1); err != nil {
		t.Fatalf("end: %v", err)
	}
	third, err := l.RequestSession(ctx, testUser, testCharger)
	if err != nil {
		t.Fatalf("second request on charger-1: %v", err)
	}
	if third == first {
		t.Fatal("expected a fresh session id for the repeated pair")
	}
}

func TestStartSessionGuards(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()
	registerConsent(t, l, testUser)

	if err := l.StartSession(ctx, "unknown-charger", testUser); !errors.Is(err, ledger.ErrNotRegisteredCharger) {
		t.Fatalf("expected ErrNotRegisteredCharger, got %v", err)
	}
	if err := l.StartSession(ctx, testCharger, testUser); !errors.Is(err, ledger.ErrNoChargingRequest) {
		t.Fatalf("expected ErrNoChargingRequest without request, got %v", err)
	}

	if _, err := l.RequestSession(ctx, testUser, testCharger); err != nil {
		t.Fatalf("request: %v", err)
	}
	// A request exists, but for a different user.
	if err := l.StartSession(ctx, testCharger, testUser2); !errors.Is(err, ledger.ErrNoChargingRequest) {
		t.Fatalf("expected ErrNoChargingRequest for wrong user, got %v", err)
	}

	// The request survives the rejected start.
	if err := l.StartSession(ctx, testCharger, testUser); err != nil {
		t.Fatalf("start with correct user: %v", err)
	}
}

func TestStartSessionConsumesRequestExactlyOnce(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()
	registerConsent(t, l, testUser)

	sessionID, err := l.RequestSession(ctx, testUser, testCharger)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if err := l.StartSession(ctx, testCharger, testUser); err != nil {
		t.Fatalf("start: %v", err)
	}

	if _, ok, _ := l.PendingRequest(ctx, testCharger); ok {
		t.Fatal("request should be consumed")
	}
	session, ok, err := l.ActiveSession(ctx, testCharger)
	if err != nil || !ok {
		t.Fatalf("expected active session, ok=%v err=%v", ok, err)
	}
	if session.SessionID != sessionID {
		t.Fatalf("session id not carried over: %s != %s", session.SessionID, sessionID)
	}

	// A second start finds no request.
	if err := l.StartSession(ctx, testCharger, testUser); !errors.Is(err, ledger.ErrNoChargingRequest) {
		t.Fatalf("expected ErrNoChargingRequest on replay, got %v", err)
	}
}

func TestEndSessionGuards(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()
	registerConsent(t, l, testUser)

	if err := l.EndSession(ctx, "unknown-charger", testUser, 10); !errors.Is(err, ledger.ErrNotRegisteredCharger) {
		t.Fatalf("expected ErrNotRegisteredCharger, got %v", err)
	}
	if err := l.EndSession(ctx, testCharger, testUser, 10); !errors.Is(err, ledger.ErrNoChargingSession) {
		t.Fatalf("expected ErrNoChargingSession, got %v", err)
	}

	if _, err := l.RequestSession(ctx, testUser, testCharger); err != nil {
		t.Fatalf("request: %v", err)
	}
	if err := l.StartSession(ctx, testCharger, testUser); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := l.EndSession(ctx, testCharger, testUser2, 10); !errors.Is(err, ledger.ErrNoChargingSession) {
		t.Fatalf("expected ErrNoChargingSession for wrong user, got %v", err)
	}
}

func TestEndSessionSucceedsDespiteSettlementFailure(t *testing.T) {
	l, _, sink := newTestLedger(t)
	ctx := context.Background()
	registerConsent(t, l, testUser)
	// No price configured: the internal settlement request fails with
	// ErrNoTariff, but the session must still end.

	if _, err := l.RequestSession(ctx, testUser, testCharger); err != nil {
		t.Fatalf("request: %v", err)
	}
	if err := l.StartSession(ctx, testCharger, testUser); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := l.EndSession(ctx, testCharger, testUser, 42); err != nil {
		t.Fatalf("end session should succeed despite settlement failure: %v", err)
	}

	if _, ok, _ := l.ActiveSession(ctx, testCharger); ok {
		t.Fatal("session should be gone")
	}
	pending, err := l.PendingPayments(ctx)
	if err != nil {
		t.Fatalf("pending payments: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected empty queue, got %d entries", len(pending))
	}
	event, ok := sink.last(ledger.EventSessionEnded)
	if !ok {
		t.Fatal("expected SessionEnded event")
	}
	if event.EnergyKWh != 42 {
		t.Fatalf("expected 42 kwh in event, got %d", event.EnergyKWh)
	}
}

func TestRequestAndSessionNeverCoexist(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()
	registerConsent(t, l, testUser)

	check := func(stage string) {
		_, hasRequest, _ := l.PendingRequest(ctx, testCharger)
		_, hasSession, _ := l.ActiveSession(ctx, testCharger)
		if hasRequest && hasSession {
			t.Fatalf("request and session both present after %s", stage)
		}
	}

	check("init")
	if _, err := l.RequestSession(ctx, testUser, testCharger); err != nil {
		t.Fatalf("request: %v", err)
	}
	check("request")
	if err := l.StartSession(ctx, testCharger, testUser); err != nil {
		t.Fatalf("start: %v", err)
	}
	check("start")
	if err := l.EndSession(ctx, testCharger, testUser, 5); err != nil {
		t.Fatalf("end: %v", err)
	}
	check("end")
}

func TestAddCharger(t *testing.T) {
	l, _, sink := newTestLedger(t)
	ctx := context.Background()
	newCharger := ledger.AccountID("charger-3")

	if err := l.AddCharger(ctx, testUser, newCharger); !errors.Is(err, ledger.ErrNotAnAdmin) {
		t.Fatalf("expected ErrNotAnAdmin, got %v", err)
	}
	if err := l.AddCharger(ctx, testAdmin, testCharger); !errors.Is(err, ledger.ErrAlreadyRegisteredCharger) {
		t.Fatalf("expected ErrAlreadyRegisteredCharger, got %v", err)
	}

	if err := l.AddCharger(ctx, testAdmin, newCharger); err != nil {
		t.Fatalf("add charger: %v", err)
	}
	if !l.IsCharger(newCharger) {
		t.Fatal("new charger should be a member")
	}
	if _, ok := sink.last(ledger.EventNewChargerAdded); !ok {
		t.Fatal("expected NewChargerAdded event")
	}
}
