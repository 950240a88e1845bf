package storage

import (
	"context"
	"database/sql"
	"errors"

	"chargeledger/internal/ledger"
)

// Postgres is a ledger.Store over a pgx/stdlib pool. The ledger serializes
// calls, so plain statements are sufficient; every write is a single
// statement and therefore atomic on its own.
type Postgres struct {
	db *sql.DB
}

// NewPostgres wraps an existing pool.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Migrate creates the ledger tables if they do not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS session_requests (
			charger_id TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL,
			session_id TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS charging_sessions (
			charger_id TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL,
			session_id TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS session_consents (
			session_id TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL,
			charger_id TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS payment_consents (
			user_id    TEXT PRIMARY KEY,
			iban       TEXT NOT NULL,
			bic        TEXT NOT NULL,
			signature  BYTEA,
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS pending_payments (
			id           BIGSERIAL PRIMARY KEY,
			session_id   TEXT NOT NULL UNIQUE,
			user_id      TEXT NOT NULL,
			charger_id   TEXT NOT NULL,
			amount_cents BIGINT NOT NULL,
			iban         TEXT NOT NULL,
			bic          TEXT NOT NULL,
			requested_at TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS completed_payments (
			session_id   TEXT PRIMARY KEY,
			user_id      TEXT NOT NULL,
			charger_id   TEXT NOT NULL,
			amount_cents BIGINT NOT NULL,
			iban         TEXT NOT NULL,
			bic          TEXT NOT NULL,
			requested_at TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS tariffs (
			label     TEXT PRIMARY KEY,
			source_id TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS ledger_counters (
			name  TEXT PRIMARY KEY,
			value BIGINT NOT NULL
		);
		INSERT INTO ledger_counters (name, value) VALUES ('sequence', 0), ('current_price', 0)
		ON CONFLICT (name) DO NOTHING;
	`
	_, err := p.db.ExecContext(ctx, schema)
	return err
}

func (p *Postgres) PendingRequest(ctx context.Context, charger ledger.AccountID) (ledger.SessionRequest, bool, error) {
	const query = `SELECT user_id, session_id, created_at FROM session_requests WHERE charger_id = $1`
	var req ledger.SessionRequest
	err := p.db.QueryRowContext(ctx, query, string(charger)).Scan(&req.UserID, &req.SessionID, &req.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.SessionRequest{}, false, nil
	}
	if err != nil {
		return ledger.SessionRequest{}, false, err
	}
	return req, true, nil
}

func (p *Postgres) PutRequest(ctx context.Context, charger ledger.AccountID, req ledger.SessionRequest) error {
	const query = `
		INSERT INTO session_requests (charger_id, user_id, session_id, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (charger_id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			session_id = EXCLUDED.session_id,
			created_at = EXCLUDED.created_at
	`
	_, err := p.db.ExecContext(ctx, query, string(charger), string(req.UserID), string(req.SessionID), req.CreatedAt)
	return err
}

func (p *Postgres) DeleteRequest(ctx context.Context, charger ledger.AccountID) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM session_requests WHERE charger_id = $1`, string(charger))
	return err
}

func (p *Postgres) ActiveSession(ctx context.Context, charger ledger.AccountID) (ledger.ChargingSession, bool, error) {
	const query = `SELECT user_id, session_id, started_at FROM charging_sessions WHERE charger_id = $1`
	var session ledger.ChargingSession
	err := p.db.QueryRowContext(ctx, query, string(charger)).Scan(&session.UserID, &session.SessionID, &session.StartedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.ChargingSession{}, false, nil
	}
	if err != nil {
		return ledger.ChargingSession{}, false, err
	}
	return session, true, nil
}

func (p *Postgres) PutSession(ctx context.Context, charger ledger.AccountID, session ledger.ChargingSession) error {
	const query = `
		INSERT INTO charging_sessions (charger_id, user_id, session_id, started_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (charger_id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			session_id = EXCLUDED.session_id,
			started_at = EXCLUDED.started_at
	`
	_, err := p.db.ExecContext(ctx, query, string(charger), string(session.UserID), string(session.SessionID), session.StartedAt)
	return err
}

func (p *Postgres) DeleteSession(ctx context.Context, charger ledger.AccountID) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM charging_sessions WHERE charger_id = $1`, string(charger))
	return err
}

func (p *Postgres) Consent(ctx context.Context, id ledger.SessionID) (ledger.SessionConsent, bool, error) {
	const query = `SELECT user_id, charger_id FROM session_consents WHERE session_id = $1`
	var consent ledger.SessionConsent
	err := p.db.QueryRowContext(ctx, query, string(id)).Scan(&consent.UserID, &consent.ChargerID)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.SessionConsent{}, false, nil
	}
	if err != nil {
		return ledger.SessionConsent{}, false, err
	}
	return consent, true, nil
}

func (p *Postgres) PutConsent(ctx context.Context, id ledger.SessionID, consent ledger.SessionConsent) error {
	const query = `
		INSERT INTO session_consents (session_id, user_id, charger_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (session_id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			charger_id = EXCLUDED.charger_id
	`
	_, err := p.db.ExecContext(ctx, query, string(id), string(consent.UserID), string(consent.ChargerID))
	return err
}

func (p *Postgres) PaymentConsent(ctx context.Context, user ledger.AccountID) (ledger.PaymentConsent, bool, error) {
	const query = `SELECT iban, bic, signature, created_at FROM payment_consents WHERE user_id = $1`
	var consent ledger.PaymentConsent
	err := p.db.QueryRowContext(ctx, query, string(user)).Scan(&consent.IBAN, &consent.BIC, &consent.Signature, &consent.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.PaymentConsent{}, false, nil
	}
	if err != nil {
		return ledger.PaymentConsent{}, false, err
	}
	return consent, true, nil
}

func (p *Postgres) PutPaymentConsent(ctx context.Context, user ledger.AccountID, consent ledger.PaymentConsent) error {
	const query = `
		INSERT INTO payment_consents (user_id, iban, bic, signature, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE SET
			iban = EXCLUDED.iban,
			bic = EXCLUDED.bic,
			signature = EXCLUDED.signature,
			created_at = EXCLUDED.created_at
	`
	_, err := p.db.ExecContext(ctx, query, string(user), consent.IBAN, consent.BIC, consent.Signature, consent.CreatedAt)
	return err
}

func (p *Postgres) PaymentConsentCount(ctx context.Context) (int, error) {
	var count int
	err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM payment_consents`).Scan(&count)
	return count, err
}

func (p *Postgres) AppendPendingPayment(ctx context.Context, payment ledger.Payment) error {
	const query = `
		INSERT INTO pending_payments (session_id, user_id, charger_id, amount_cents, iban, bic, requested_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := p.db.ExecContext(ctx, query,
		string(payment.SessionID),
		string(payment.UserID),
		string(payment.ChargerID),
		int64(payment.AmountCents),
		payment.IBAN,
		payment.BIC,
		payment.RequestedAt,
	)
	return err
}

func (p *Postgres) PendingPayments(ctx context.Context) ([]ledger.Payment, error) {
	const query = `
		SELECT session_id, user_id, charger_id, amount_cents, iban, bic, requested_at
		FROM pending_payments
		ORDER BY id
	`
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []ledger.Payment
	for rows.Next() {
		var payment ledger.Payment
		var amount int64
		if err := rows.Scan(
			&payment.SessionID,
			&payment.UserID,
			&payment.ChargerID,
			&amount,
			&payment.IBAN,
			&payment.BIC,
			&payment.RequestedAt,
		); err != nil {
			return nil, err
		}
		payment.AmountCents = uint64(amount)
		payments = append(payments, payment)
	}
	return payments, rows.Err()
}

func (p *Postgres) TakePendingPayment(ctx context.Context, id ledger.SessionID) (ledger.Payment, bool, error) {
	const query = `
		DELETE FROM pending_payments
		WHERE session_id = $1
		RETURNING session_id, user_id, charger_id, amount_cents, iban, bic, requested_at
	`
	var payment ledger.Payment
	var amount int64
	err := p.db.QueryRowContext(ctx, query, string(id)).Scan(
		&payment.SessionID,
		&payment.UserID,
		&payment.ChargerID,
		&amount,
		&payment.IBAN,
		&payment.BIC,
		&payment.RequestedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Payment{}, false, nil
	}
	if err != nil {
		return ledger.Payment{}, false, err
	}
	payment.AmountCents = uint64(amount)
	return payment, true, nil
}

func (p *Postgres) CompletedPayment(ctx context.Context, id ledger.SessionID) (ledger.Payment, bool, error) {
	const query = `
		SELECT session_id, user_id, charger_id, amount_cents, iban, bic, requested_at
		FROM completed_payments WHERE session_id = $1
	`
	var payment ledger.Payment
	var amount int64
	err := p.db.QueryRowContext(ctx, query, string(id)).Scan(
		&payment.SessionID,
		&payment.UserID,
		&payment.ChargerID,
		&amount,
		&payment.IBAN,
		&payment.BIC,
		&payment.RequestedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Payment{}, false, nil
	}
	if err != nil {
		return ledger.Payment{}, false, err
	}
	payment.AmountCents = uint64(amount)
	return payment, true, nil
}

func (p *Postgres) PutCompletedPayment(ctx context.Context, id ledger.SessionID, payment ledger.Payment) error {
	const query = `
		INSERT INTO completed_payments (session_id, user_id, charger_id, amount_cents, iban, bic, requested_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := p.db.ExecContext(ctx, query,
		string(id),
		string(payment.UserID),
		string(payment.ChargerID),
		int64(payment.AmountCents),
		payment.IBAN,
		payment.BIC,
		payment.RequestedAt,
	)
	return err
}

func (p *Postgres) Tariff(ctx context.Context, label string) (ledger.AccountID, bool, error) {
	var source string
	err := p.db.QueryRowContext(ctx, `SELECT source_id FROM tariffs WHERE label = $1`, label).Scan(&source)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return ledger.AccountID(source), true, nil
}

func (p *Postgres) PutTariff(ctx context.Context, label string, source ledger.AccountID) error {
	const query = `
		INSERT INTO tariffs (label, source_id) VALUES ($1, $2)
		ON CONFLICT (label) DO UPDATE SET source_id = EXCLUDED.source_id
	`
	_, err := p.db.ExecContext(ctx, query, label, string(source))
	return err
}

func (p *Postgres) CurrentPrice(ctx context.Context) (uint64, error) {
	var price int64
	err := p.db.QueryRowContext(ctx, `SELECT value FROM ledger_counters WHERE name = 'current_price'`).Scan(&price)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return uint64(price), err
}

func (p *Postgres) SetCurrentPrice(ctx context.Context, price uint64) error {
	const query = `
		INSERT INTO ledger_counters (name, value) VALUES ('current_price', $1)
		ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value
	`
	_, err := p.db.ExecContext(ctx, query, int64(price))
	return err
}

func (p *Postgres) NextSequence(ctx context.Context) (uint64, error) {
	const query = `
		UPDATE ledger_counters SET value = value + 1
		WHERE name = 'sequence'
		RETURNING value
	`
	var seq int64
	if err := p.db.QueryRowContext(ctx, query).Scan(&seq); err != nil {
		return 0, err
	}
	return uint64(seq), nil
}
