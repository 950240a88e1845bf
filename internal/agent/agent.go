package agent

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"chargeledger/internal/gateway"
	"chargeledger/internal/hardware"
	"chargeledger/internal/ledger"
	"chargeledger/pkg/metrics"
)

// Agent is the offchain reconciliation loop. Each round it drives the
// sessions of the charger identities this node controls against the physical
// hardware, and settles pending payments for its validator identities against
// the payment gateway. All submissions go through the regular ledger entry
// points, so duplicate submissions from racing nodes are rejected by the
// ledger guards rather than coordinated here.
type Agent struct {
	ledger     *ledger.Ledger
	chargers   map[ledger.AccountID]hardware.API
	validators []ledger.AccountID
	gateway    gateway.Client
	interval   time.Duration
	timeout    time.Duration
	logger     *zap.Logger
}

// Config wires an agent.
type Config struct {
	Ledger     *ledger.Ledger
	Chargers   map[ledger.AccountID]hardware.API
	Validators []ledger.AccountID
	Gateway    gateway.Client
	Interval   time.Duration
	Timeout    time.Duration
}

// New builds the agent. Interval defaults to 6s (one ledger round), external
// call timeout to 5s.
func New(cfg Config, logger *zap.Logger) *Agent {
	if cfg.Interval <= 0 {
		cfg.Interval = 6 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Agent{
		ledger:     cfg.Ledger,
		chargers:   cfg.Chargers,
		validators: cfg.Validators,
		gateway:    cfg.Gateway,
		interval:   cfg.Interval,
		timeout:    cfg.Timeout,
		logger:     logger,
	}
}

// Run executes rounds until ctx is done.
func (a *Agent) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	a.logger.Info("reconciliation agent started",
		zap.Int("chargers", len(a.chargers)),
		zap.Int("validators", len(a.validators)),
		zap.Duration("interval", a.interval),
	)

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("reconciliation agent stopped")
			return
		case <-ticker.C:
			a.runOnce(ctx)
		}
	}
}

// runOnce performs one reconciliation round. Every step is independent; a
// failed external call leaves the ledger untouched and is retried next round.
func (a *Agent) runOnce(ctx context.Context) {
	metrics.AgentRoundsTotal.Inc()

	for charger, hw := range a.chargers {
		a.reconcileCharger(ctx, charger, hw)
	}
	for _, validator := range a.validators {
		a.reconcilePayments(ctx, validator)
	}
}

func (a *Agent) reconcileCharger(ctx context.Context, charger ledger.AccountID, hw hardware.API) {
	log := a.logger.With(zap.String("charger", string(charger)))

	if req, ok, err := a.ledger.PendingRequest(ctx, charger); err != nil {
		log.Error("failed to read pending request", zap.Error(err))
	} else if ok {
		a.startCharge(ctx, charger, hw, req, log)
	}

	if session, ok, err := a.ledger.ActiveSession(ctx, charger); err != nil {
		log.Error("failed to read active session", zap.Error(err))
	} else if ok {
		a.pollCharge(ctx, charger, hw, session, log)
	}
}

func (a *Agent) startCharge(ctx context.Context, charger ledger.AccountID, hw hardware.API, req ledger.SessionRequest, log *zap.Logger) {
	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	err := hw.StartCharge(callCtx)
	cancel()
	if err != nil {
		metrics.AgentExternalCallsTotal.WithLabelValues("hardware", "error").Inc()
		log.Warn("hardware refused to start charge, will retry next round", zap.Error(err))
		return
	}
	metrics.AgentExternalCallsTotal.WithLabelValues("hardware", "ok").Inc()

	if err := a.ledger.StartSession(ctx, charger, req.UserID); err != nil {
		metrics.AgentSubmissionsTotal.WithLabelValues("start_session", "rejected").Inc()
		// Another node may have started the session first; the guard
		// rejection is expected, not an anomaly.
		log.Warn("start_session submission rejected",
			zap.String("user", string(req.UserID)),
			zap.Error(err),
		)
		return
	}
	metrics.AgentSubmissionsTotal.WithLabelValues("start_session", "ok").Inc()
	log.Info("charge session started",
		zap.String("user", string(req.UserID)),
		zap.String("session_id", string(req.SessionID)),
	)
}

func (a *Agent) pollCharge(ctx context.Context, charger ledger.AccountID, hw hardware.API, session ledger.ChargingSession, log *zap.Logger) {
	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	status, err := hw.Status(callCtx)
	cancel()
	if err != nil {
		metrics.AgentExternalCallsTotal.WithLabelValues("hardware", "error").Inc()
		log.Warn("hardware status poll failed, will retry next round", zap.Error(err))
		return
	}
	metrics.AgentExternalCallsTotal.WithLabelValues("hardware", "ok").Inc()

	switch status.State {
	case hardware.StateNoCharge:
		// Ledger and hardware disagree. Surface it, never auto-correct.
		log.Error("charge session is active on ledger but not found on hardware",
			zap.String("session_id", string(session.SessionID)),
		)
	case hardware.StateActive:
		log.Debug("charge session still active", zap.String("session_id", string(session.SessionID)))
	case hardware.StateEnded:
		if err := a.ledger.EndSession(ctx, charger, session.UserID, status.EnergyKWh); err != nil {
			metrics.AgentSubmissionsTotal.WithLabelValues("end_session", "rejected").Inc()
			log.Warn("end_session submission rejected", zap.Error(err))
			return
		}
		metrics.AgentSubmissionsTotal.WithLabelValues("end_session", "ok").Inc()
		log.Info("charge session ended",
			zap.String("user", string(session.UserID)),
			zap.String("session_id", string(session.SessionID)),
			zap.Uint64("energy_kwh", status.EnergyKWh),
		)
	}
}

func (a *Agent) reconcilePayments(ctx context.Context, validator ledger.AccountID) {
	log := a.logger.With(zap.String("validator", string(validator)))

	pending, err := a.ledger.PendingPayments(ctx)
	if err != nil {
		log.Error("failed to read pending payments", zap.Error(err))
		return
	}
	metrics.PendingPaymentsGauge.Set(float64(len(pending)))

	for _, payment := range pending {
		callCtx, cancel := context.WithTimeout(ctx, a.timeout)
		err := a.gateway.Charge(callCtx, gateway.PaymentOrder{
			SessionID:   string(payment.SessionID),
			PayerIBAN:   payment.IBAN,
			PayerBIC:    payment.BIC,
			AmountCents: payment.AmountCents,
		})
		cancel()
		if err != nil {
			metrics.AgentExternalCallsTotal.WithLabelValues("gateway", "error").Inc()
			log.Warn("gateway call failed, payment stays pending",
				zap.String("session_id", string(payment.SessionID)),
				zap.Error(err),
			)
			continue
		}
		metrics.AgentExternalCallsTotal.WithLabelValues("gateway", "ok").Inc()

		if err := a.ledger.CompleteSettlement(ctx, validator, payment.SessionID); err != nil {
			metrics.AgentSubmissionsTotal.WithLabelValues("complete_settlement", "rejected").Inc()
			if errors.Is(err, ledger.ErrNonExistentPayment) || errors.Is(err, ledger.ErrAlreadyConfirmedPayment) {
				// Another validator got there first. Harmless.
				log.Debug("settlement already completed elsewhere",
					zap.String("session_id", string(payment.SessionID)),
				)
				continue
			}
			log.Error("complete_settlement submission rejected",
				zap.String("session_id", string(payment.SessionID)),
				zap.Error(err),
			)
			continue
		}
		metrics.AgentSubmissionsTotal.WithLabelValues("complete_settlement", "ok").Inc()
		log.Info("payment settled",
			zap.String("session_id", string(payment.SessionID)),
			zap.Uint64("amount_cents", payment.AmountCents),
		)
	}
}
