package ledger

import (
	"context"
	"encoding/hex"
	"time"

	"golang.org/x/crypto/blake2b"
)

// AccountID identifies a participant (user, charger, validator or organization
// owner). The surrounding identity layer guarantees authenticity of the sender;
// here it is an opaque comparable value.
type AccountID string

// SessionID is the hex form of a 32-byte hash binding one charge session.
type SessionID string

// Organization names a membership set consulted on guarded calls.
type Organization string

const (
	OrgChargers          Organization = "chargers"
	OrgPaymentValidators Organization = "payment-validators"
)

// SessionRequest is a user's pending request against one charger. At most one
// exists per charger at a time.
type SessionRequest struct {
	UserID    AccountID `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	SessionID SessionID `json:"session_id"`
}

// ChargingSession is an in-progress charge, keyed by charger.
type ChargingSession struct {
	UserID    AccountID `json:"user_id"`
	StartedAt time.Time `json:"started_at"`
	SessionID SessionID `json:"session_id"`
}

// SessionConsent binds a session id to the pair allowed to act on it. Written
// once when the request is accepted, never mutated.
type SessionConsent struct {
	UserID    AccountID `json:"user_id"`
	ChargerID AccountID `json:"charger_id"`
}

// PaymentConsent holds the bank details a user registered for settlement.
type PaymentConsent struct {
	IBAN      string    `json:"iban"`
	BIC       string    `json:"bic"`
	Signature []byte    `json:"signature,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Payment is a settlement record. It sits in the pending queue until a
// validator confirms the external transfer, then moves to the completed set
// keyed by session id.
type Payment struct {
	SessionID   SessionID `json:"session_id"`
	UserID      AccountID `json:"user_id"`
	ChargerID   AccountID `json:"charger_id"`
	AmountCents uint64    `json:"amount_cents"`
	IBAN        string    `json:"iban"`
	BIC         string    `json:"bic"`
	RequestedAt time.Time `json:"requested_at"`
}

// Store is the injected ledger state. Implementations must make each call
// atomic; the Ledger serializes calls on top of that, so no store-level
// locking between calls is required.
type Store interface {
	PendingRequest(ctx context.Context, charger AccountID) (SessionRequest, bool, error)
	PutRequest(ctx context.Context, charger AccountID, req SessionRequest) error
	DeleteRequest(ctx context.Context, charger AccountID) error

	ActiveSession(ctx context.Context, charger AccountID) (ChargingSession, bool, error)
	PutSession(ctx context.Context, charger AccountID, session ChargingSession) error
	DeleteSession(ctx context.Context, charger AccountID) error

	Consent(ctx context.Context, id SessionID) (SessionConsent, bool, error)
	PutConsent(ctx context.Context, id SessionID, consent SessionConsent) error

	PaymentConsent(ctx context.Context, user AccountID) (PaymentConsent, bool, error)
	PutPaymentConsent(ctx context.Context, user AccountID, consent PaymentConsent) error
	PaymentConsentCount(ctx context.Context) (int, error)

	AppendPendingPayment(ctx context.Context, payment Payment) error
	PendingPayments(ctx context.Context) ([]Payment, error)
	TakePendingPayment(ctx context.Context, id SessionID) (Payment, bool, error)

	CompletedPayment(ctx context.Context, id SessionID) (Payment, bool, error)
	PutCompletedPayment(ctx context.Context, id SessionID, payment Payment) error

	Tariff(ctx context.Context, label string) (AccountID, bool, error)
	PutTariff(ctx context.Context, label string, source AccountID) error
	CurrentPrice(ctx context.Context) (uint64, error)
	SetCurrentPrice(ctx context.Context, price uint64) error

	NextSequence(ctx context.Context) (uint64, error)
}

// MembershipOracle answers whether an account belongs to an organization.
type MembershipOracle interface {
	IsMember(org Organization, who AccountID) bool
}

// MembershipRegistry extends the oracle with the writes needed by AddCharger.
type MembershipRegistry interface {
	MembershipOracle
	Owner(org Organization) (AccountID, bool)
	Add(org Organization, who AccountID) error
}

// newSessionID hashes user, charger and a monotonically increasing ledger
// sequence value. The sequence term makes concurrent requests for the same
// pair collide-free.
func newSessionID(user, charger AccountID, seq uint64) SessionID {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(user))
	h.Write([]byte{0})
	h.Write([]byte(charger))
	h.Write([]byte{0})
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(seq >> (8 * (7 - i)))
	}
	h.Write(buf[:])
	return SessionID(hex.EncodeToString(h.Sum(nil)))
}
