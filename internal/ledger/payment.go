package ledger

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// RegisterPaymentConsent stores (or replaces) the bank details a user agrees
// to be charged on. Settlement requests for the user resolve against the
// latest consent. Signature verification belongs to the identity layer; the
// raw bytes are kept with the record.
func (l *Ledger) RegisterPaymentConsent(ctx context.Context, sender AccountID, iban, bic string, signature []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if err := l.store.PutPaymentConsent(ctx, sender, PaymentConsent{
		IBAN:      iban,
		BIC:       bic,
		Signature: signature,
		CreatedAt: now,
	}); err != nil {
		return fmt.Errorf("ledger: store payment consent: %w", err)
	}

	l.emit(Event{Kind: EventConsentStored, At: now, UserID: sender})
	return nil
}

// RequestSettlement prices the delivered energy and enqueues a pending
// payment for the session. Only the charger recorded in the session consent
// may request it, and only once: a pending entry rejects resubmission and a
// completed payment blocks any further settlement for the same session.
func (l *Ledger) RequestSettlement(ctx context.Context, sender AccountID, id SessionID, energyKWh uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.requestSettlement(ctx, sender, id, energyKWh)
}

// requestSettlement carries the settlement guards. Callers hold l.mu.
func (l *Ledger) requestSettlement(ctx context.Context, sender AccountID, id SessionID, energyKWh uint64) error {
	consent, ok, err := l.store.Consent(ctx, id)
	if err != nil {
		return fmt.Errorf("ledger: read consent: %w", err)
	}
	if !ok || consent.ChargerID != sender {
		return ErrNoConsentForPayment
	}

	if _, ok, err := l.store.CompletedPayment(ctx, id); err != nil {
		return fmt.Errorf("ledger: read completed payment: %w", err)
	} else if ok {
		return ErrAlreadyConfirmedPayment
	}

	// At most one pending payment per session. A resubmission while the first
	// request still sits in the queue is rejected, so a validator completing
	// the session can never leave a second charge behind.
	pending, err := l.store.PendingPayments(ctx)
	if err != nil {
		return fmt.Errorf("ledger: read pending payments: %w", err)
	}
	for _, queued := range pending {
		if queued.SessionID == id {
			return ErrAlreadyRequestedPayment
		}
	}

	payerConsent, ok, err := l.store.PaymentConsent(ctx, consent.UserID)
	if err != nil {
		return fmt.Errorf("ledger: read payment consent: %w", err)
	}
	if !ok {
		return ErrNoConsentForPayment
	}

	price, err := l.store.CurrentPrice(ctx)
	if err != nil {
		return fmt.Errorf("ledger: read price: %w", err)
	}
	if price == 0 {
		return ErrNoTariff
	}

	now := l.now()
	payment := Payment{
		SessionID:   id,
		UserID:      consent.UserID,
		ChargerID:   sender,
		AmountCents: energyKWh * price,
		IBAN:        payerConsent.IBAN,
		BIC:         payerConsent.BIC,
		RequestedAt: now,
	}
	if err := l.store.AppendPendingPayment(ctx, payment); err != nil {
		return fmt.Errorf("ledger: enqueue payment: %w", err)
	}

	l.logger.Info("settlement requested",
		zap.String("session_id", string(id)),
		zap.String("user", string(consent.UserID)),
		zap.Uint64("energy_kwh", energyKWh),
		zap.Uint64("amount_cents", payment.AmountCents),
	)
	l.emit(Event{Kind: EventPaymentRequested, At: now, UserID: consent.UserID, ChargerID: sender, SessionID: id, AmountCents: payment.AmountCents, EnergyKWh: energyKWh})
	return nil
}

// CompleteSettlement confirms that the external transfer for a pending
// payment went through and moves the record to the completed set. The
// completed record doubles as the idempotency guard: a second confirmation
// for the same session is rejected before the queue is consulted.
func (l *Ledger) CompleteSettlement(ctx context.Context, sender AccountID, id SessionID) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.members.IsMember(OrgPaymentValidators, sender) {
		return ErrNotRegisteredPaymentValidator
	}

	if _, ok, err := l.store.CompletedPayment(ctx, id); err != nil {
		return fmt.Errorf("ledger: read completed payment: %w", err)
	} else if ok {
		return ErrAlreadyConfirmedPayment
	}

	payment, ok, err := l.store.TakePendingPayment(ctx, id)
	if err != nil {
		return fmt.Errorf("ledger: take pending payment: %w", err)
	}
	if !ok {
		return ErrNonExistentPayment
	}

	if err := l.store.PutCompletedPayment(ctx, id, payment); err != nil {
		return fmt.Errorf("ledger: store completed payment: %w", err)
	}

	now := l.now()
	l.emit(Event{Kind: EventPaymentProcessed, At: now, UserID: payment.UserID, ChargerID: payment.ChargerID, SessionID: id, AmountCents: payment.AmountCents})
	return nil
}
