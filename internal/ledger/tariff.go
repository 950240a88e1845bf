package ledger

import (
	"context"
	"fmt"
)

// AddTariff maps a tariff label to the account publishing its price.
func (l *Ledger) AddTariff(ctx context.Context, sender AccountID, label string, source AccountID) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.store.PutTariff(ctx, label, source); err != nil {
		return fmt.Errorf("ledger: store tariff: %w", err)
	}

	l.emit(Event{Kind: EventTariffAdded, At: l.now(), TariffLabel: label, AddedBy: sender, UserID: source})
	return nil
}

// Tariff resolves a tariff label to its price source.
func (l *Ledger) Tariff(ctx context.Context, label string) (AccountID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	source, ok, err := l.store.Tariff(ctx, label)
	if err != nil {
		return "", fmt.Errorf("ledger: read tariff: %w", err)
	}
	if !ok {
		return "", ErrNoTariff
	}
	return source, nil
}

// SetCurrentPrice replaces the unit price applied to future settlement
// requests. Amounts already enqueued keep the price in force when they were
// requested.
func (l *Ledger) SetCurrentPrice(ctx context.Context, sender AccountID, priceCents uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.store.SetCurrentPrice(ctx, priceCents); err != nil {
		return fmt.Errorf("ledger: store price: %w", err)
	}

	l.emit(Event{Kind: EventPriceModified, At: l.now(), PriceCents: priceCents, AddedBy: sender})
	return nil
}

// CurrentPrice returns the unit price in cents per kWh.
func (l *Ledger) CurrentPrice(ctx context.Context) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.CurrentPrice(ctx)
}
