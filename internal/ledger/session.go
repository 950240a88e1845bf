package ledger

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// RequestSession records a user's request to charge on the given charger and
// stores the consent binding the fresh session id to the (user, charger) pair.
// A charger with an outstanding request or an active session is busy and
// rejects new requests.
func (l *Ledger) RequestSession(ctx context.Context, sender, charger AccountID) (SessionID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.members.IsMember(OrgChargers, charger) {
		return "", ErrNotRegisteredCharger
	}

	if _, ok, err := l.store.PaymentConsent(ctx, sender); err != nil {
		return "", fmt.Errorf("ledger: read payment consent: %w", err)
	} else if !ok {
		l.logger.Warn("session request without payment consent", zap.String("user", string(sender)))
		return "", ErrNoPaymentConsent
	}

	if req, ok, err := l.store.PendingRequest(ctx, charger); err != nil {
		return "", fmt.Errorf("ledger: read request: %w", err)
	} else if ok {
		l.logger.Warn("charger has a pending request",
			zap.String("charger", string(charger)),
			zap.String("session_id", string(req.SessionID)),
		)
		return "", ErrChargerIsBusy
	}
	if session, ok, err := l.store.ActiveSession(ctx, charger); err != nil {
		return "", fmt.Errorf("ledger: read session: %w", err)
	} else if ok {
		l.logger.Warn("charger has an active session",
			zap.String("charger", string(charger)),
			zap.String("session_id", string(session.SessionID)),
		)
		return "", ErrChargerIsBusy
	}

	seq, err := l.store.NextSequence(ctx)
	if err != nil {
		return "", fmt.Errorf("ledger: next sequence: %w", err)
	}
	sessionID := newSessionID(sender, charger, seq)
	now := l.now()

	if err := l.store.PutConsent(ctx, sessionID, SessionConsent{
		UserID:    sender,
		ChargerID: charger,
	}); err != nil {
		return "", fmt.Errorf("ledger: store consent: %w", err)
	}
	if err := l.store.PutRequest(ctx, charger, SessionRequest{
		UserID:    sender,
		CreatedAt: now,
		SessionID: sessionID,
	}); err != nil {
		return "", fmt.Errorf("ledger: store request: %w", err)
	}

	l.emit(Event{Kind: EventConsentStored, At: now, UserID: sender, ChargerID: charger, SessionID: sessionID})
	l.emit(Event{Kind: EventSessionRequested, At: now, UserID: sender, ChargerID: charger, SessionID: sessionID})
	return sessionID, nil
}

// StartSession consumes the pending request on the calling charger and opens a
// charging session carrying the same session id. The stored user must match
// the one the charger claims to serve.
func (l *Ledger) StartSession(ctx context.Context, sender, user AccountID) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.members.IsMember(OrgChargers, sender) {
		return ErrNotRegisteredCharger
	}

	req, ok, err := l.store.PendingRequest(ctx, sender)
	if err != nil {
		return fmt.Errorf("ledger: read request: %w", err)
	}
	if !ok || req.UserID != user {
		return ErrNoChargingRequest
	}

	now := l.now()
	if err := l.store.DeleteRequest(ctx, sender); err != nil {
		return fmt.Errorf("ledger: delete request: %w", err)
	}
	if err := l.store.PutSession(ctx, sender, ChargingSession{
		UserID:    user,
		StartedAt: now,
		SessionID: req.SessionID,
	}); err != nil {
		return fmt.Errorf("ledger: store session: %w", err)
	}

	l.emit(Event{Kind: EventSessionStarted, At: now, UserID: user, ChargerID: sender, SessionID: req.SessionID})
	return nil
}

// EndSession closes the active session on the calling charger and requests
// settlement for the delivered energy. A settlement failure is logged, not
// propagated: ending a session must never be blocked by a payment-side
// problem.
func (l *Ledger) EndSession(ctx context.Context, sender, user AccountID, energyKWh uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.members.IsMember(OrgChargers, sender) {
		return ErrNotRegisteredCharger
	}

	session, ok, err := l.store.ActiveSession(ctx, sender)
	if err != nil {
		return fmt.Errorf("ledger: read session: %w", err)
	}
	if !ok || session.UserID != user {
		return ErrNoChargingSession
	}

	now := l.now()
	if err := l.store.DeleteSession(ctx, sender); err != nil {
		return fmt.Errorf("ledger: delete session: %w", err)
	}

	if err := l.requestSettlement(ctx, sender, session.SessionID, energyKWh); err != nil {
		l.logger.Error("settlement request failed while ending session",
			zap.String("session_id", string(session.SessionID)),
			zap.String("charger", string(sender)),
			zap.Error(err),
		)
	}

	l.emit(Event{Kind: EventSessionEnded, At: now, UserID: user, ChargerID: sender, SessionID: session.SessionID, EnergyKWh: energyKWh})
	return nil
}

// AddCharger registers a new charger account. Only the owner of the charger
// organization may call it.
func (l *Ledger) AddCharger(ctx context.Context, sender, charger AccountID) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	owner, ok := l.members.Owner(OrgChargers)
	if !ok || owner != sender {
		return ErrNotAnAdmin
	}
	if l.members.IsMember(OrgChargers, charger) {
		return ErrAlreadyRegisteredCharger
	}
	if err := l.members.Add(OrgChargers, charger); err != nil {
		return fmt.Errorf("ledger: add charger: %w", err)
	}

	l.emit(Event{Kind: EventNewChargerAdded, At: l.now(), ChargerID: charger, AddedBy: sender})
	return nil
}
