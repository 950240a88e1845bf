package ledger

import "time"

// EventKind enumerates ledger events observable by external indexers.
type EventKind string

const (
	EventSessionRequested EventKind = "SessionRequested"
	EventSessionStarted   EventKind = "SessionStarted"
	EventSessionEnded     EventKind = "SessionEnded"
	EventPaymentRequested EventKind = "PaymentRequested"
	EventPaymentProcessed EventKind = "PaymentProcessed"
	EventTariffAdded      EventKind = "TariffAdded"
	EventPriceModified    EventKind = "PriceModified"
	EventConsentStored    EventKind = "ConsentStored"
	EventNewChargerAdded  EventKind = "NewChargerAdded"
)

// Event is the flat envelope published for every state transition. Fields not
// relevant to a kind are left zero and omitted from JSON.
type Event struct {
	Kind        EventKind `json:"kind"`
	At          time.Time `json:"at"`
	UserID      AccountID `json:"user_id,omitempty"`
	ChargerID   AccountID `json:"charger_id,omitempty"`
	SessionID   SessionID `json:"session_id,omitempty"`
	EnergyKWh   uint64    `json:"energy_kwh,omitempty"`
	AmountCents uint64    `json:"amount_cents,omitempty"`
	TariffLabel string    `json:"tariff_label,omitempty"`
	PriceCents  uint64    `json:"price_cents,omitempty"`
	AddedBy     AccountID `json:"added_by,omitempty"`
}

// EventSink receives events after the originating call has committed. Publish
// must not block the caller.
type EventSink interface {
	Publish(event Event)
}

type noopSink struct{}

func (noopSink) Publish(Event) {}
