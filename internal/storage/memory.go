package storage

import (
	"context"
	"sync"

	"chargeledger/internal/ledger"
)

// Memory is a map-backed ledger.Store. It is the store used in tests and in
// standalone runs without Postgres.
type Memory struct {
	mu        sync.Mutex
	requests  map[ledger.AccountID]ledger.SessionRequest
	sessions  map[ledger.AccountID]ledger.ChargingSession
	consents  map[ledger.SessionID]ledger.SessionConsent
	payers    map[ledger.AccountID]ledger.PaymentConsent
	pending   []ledger.Payment
	completed map[ledger.SessionID]ledger.Payment
	tariffs   map[string]ledger.AccountID
	price     uint64
	sequence  uint64
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		requests:  make(map[ledger.AccountID]ledger.SessionRequest),
		sessions:  make(map[ledger.AccountID]ledger.ChargingSession),
		consents:  make(map[ledger.SessionID]ledger.SessionConsent),
		payers:    make(map[ledger.AccountID]ledger.PaymentConsent),
		completed: make(map[ledger.SessionID]ledger.Payment),
		tariffs:   make(map[string]ledger.AccountID),
	}
}

func (m *Memory) PendingRequest(_ context.Context, charger ledger.AccountID) (ledger.SessionRequest, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[charger]
	return req, ok, nil
}

func (m *Memory) PutRequest(_ context.Context, charger ledger.AccountID, req ledger.SessionRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[charger] = req
	return nil
}

func (m *Memory) DeleteRequest(_ context.Context, charger ledger.AccountID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.requests, charger)
	return nil
}

func (m *Memory) ActiveSession(_ context.Context, charger ledger.AccountID) (ledger.ChargingSession, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[charger]
	return session, ok, nil
}

func (m *Memory) PutSession(_ context.Context, charger ledger.AccountID, session ledger.ChargingSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[charger] = session
	return nil
}

func (m *Memory) DeleteSession(_ context.Context, charger ledger.AccountID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, charger)
	return nil
}

func (m *Memory) Consent(_ context.Context, id ledger.SessionID) (ledger.SessionConsent, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	consent, ok := m.consents[id]
	return consent, ok, nil
}

func (m *Memory) PutConsent(_ context.Context, id ledger.SessionID, consent ledger.SessionConsent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consents[id] = consent
	return nil
}

func (m *Memory) PaymentConsent(_ context.Context, user ledger.AccountID) (ledger.PaymentConsent, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	consent, ok := m.payers[user]
	return consent, ok, nil
}

func (m *Memory) PutPaymentConsent(_ context.Context, user ledger.AccountID, consent ledger.PaymentConsent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payers[user] = consent
	return nil
}

func (m *Memory) PaymentConsentCount(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.payers), nil
}

func (m *Memory) AppendPendingPayment(_ context.Context, payment ledger.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, payment)
	return nil
}

func (m *Memory) PendingPayments(_ context.Context) ([]ledger.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ledger.Payment, len(m.pending))
	copy(out, m.pending)
	return out, nil
}

func (m *Memory) TakePendingPayment(_ context.Context, id ledger.SessionID) (ledger.Payment, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, payment := range m.pending {
		if payment.SessionID == id {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			return payment, true, nil
		}
	}
	return ledger.Payment{}, false, nil
}

func (m *Memory) CompletedPayment(_ context.Context, id ledger.SessionID) (ledger.Payment, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	payment, ok := m.completed[id]
	return payment, ok, nil
}

func (m *Memory) PutCompletedPayment(_ context.Context, id ledger.SessionID, payment ledger.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed[id] = payment
	return nil
}

func (m *Memory) Tariff(_ context.Context, label string) (ledger.AccountID, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	source, ok := m.tariffs[label]
	return source, ok, nil
}

func (m *Memory) PutTariff(_ context.Context, label string, source ledger.AccountID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tariffs[label] = source
	return nil
}

func (m *Memory) CurrentPrice(_ context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.price, nil
}

func (m *Memory) SetCurrentPrice(_ context.Context, price uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.price = price
	return nil
}

func (m *Memory) NextSequence(_ context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sequence++
	return m.sequence, nil
}
