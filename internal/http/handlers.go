package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"chargeledger/internal/ledger"
	"chargeledger/pkg/metrics"
)

// LedgerHandler exposes the ledger entry points over HTTP.
type LedgerHandler struct {
	ledger *ledger.Ledger
	logger *zap.Logger
}

// NewLedgerHandler builds handler.
func NewLedgerHandler(l *ledger.Ledger, logger *zap.Logger) *LedgerHandler {
	return &LedgerHandler{ledger: l, logger: logger}
}

type requestSessionRequest struct {
	Sender  string `json:"sender"`
	Charger string `json:"charger"`
}

// RequestSession handles POST /internal/ledger/request-session.
func (h *LedgerHandler) RequestSession(w http.ResponseWriter, r *http.Request) {
	var req requestSessionRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Sender == "" || req.Charger == "" {
		writeError(w, http.StatusBadRequest, "sender and charger required")
		return
	}

	sessionID, err := h.ledger.RequestSession(r.Context(), ledger.AccountID(req.Sender), ledger.AccountID(req.Charger))
	metrics.RecordLedgerCall("request_session", err)
	if err != nil {
		h.reject(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"session_id": string(sessionID)})
}

type startSessionRequest struct {
	Sender string `json:"sender"`
	User   string `json:"user"`
}

// StartSession handles POST /internal/ledger/start-session.
func (h *LedgerHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if !decode(w, r, &req) {
		return
	}
	err := h.ledger.StartSession(r.Context(), ledger.AccountID(req.Sender), ledger.AccountID(req.User))
	metrics.RecordLedgerCall("start_session", err)
	if err != nil {
		h.reject(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

type endSessionRequest struct {
	Sender    string `json:"sender"`
	User      string `json:"user"`
	EnergyKWh uint64 `json:"energy_kwh"`
}

// EndSession handles POST /internal/ledger/end-session.
func (h *LedgerHandler) EndSession(w http.ResponseWriter, r *http.Request) {
	var req endSessionRequest
	if !decode(w, r, &req) {
		return
	}
	err := h.ledger.EndSession(r.Context(), ledger.AccountID(req.Sender), ledger.AccountID(req.User), req.EnergyKWh)
	metrics.RecordLedgerCall("end_session", err)
	if err != nil {
		h.reject(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ended"})
}

type paymentConsentRequest struct {
	Sender    string `json:"sender"`
	IBAN      string `json:"iban"`
	BIC       string `json:"bic"`
	Signature []byte `json:"signature,omitempty"`
}

// RegisterPaymentConsent handles POST /internal/ledger/payment-consent.
func (h *LedgerHandler) RegisterPaymentConsent(w http.ResponseWriter, r *http.Request) {
	var req paymentConsentRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Sender == "" || req.IBAN == "" || req.BIC == "" {
		writeError(w, http.StatusBadRequest, "sender, iban and bic required")
		return
	}
	err := h.ledger.RegisterPaymentConsent(r.Context(), ledger.AccountID(req.Sender), req.IBAN, req.BIC, req.Signature)
	metrics.RecordLedgerCall("register_payment_consent", err)
	if err != nil {
		h.reject(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "stored"})
}

type requestSettlementRequest struct {
	Sender    string `json:"sender"`
	SessionID string `json:"session_id"`
	EnergyKWh uint64 `json:"energy_kwh"`
}

// RequestSettlement handles POST /internal/ledger/request-settlement.
func (h *LedgerHandler) RequestSettlement(w http.ResponseWriter, r *http.Request) {
	var req requestSettlementRequest
	if !decode(w, r, &req) {
		return
	}
	err := h.ledger.RequestSettlement(r.Context(), ledger.AccountID(req.Sender), ledger.SessionID(req.SessionID), req.EnergyKWh)
	metrics.RecordLedgerCall("request_settlement", err)
	if err != nil {
		h.reject(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "pending"})
}

type completeSettlementRequest struct {
	Sender    string `json:"sender"`
	SessionID string `json:"session_id"`
}

// CompleteSettlement handles POST /internal/ledger/complete-settlement.
func (h *LedgerHandler) CompleteSettlement(w http.ResponseWriter, r *http.Request) {
	var req completeSettlementRequest
	if !decode(w, r, &req) {
		return
	}
	err := h.ledger.CompleteSettlement(r.Context(), ledger.AccountID(req.Sender), ledger.SessionID(req.SessionID))
	metrics.RecordLedgerCall("complete_settlement", err)
	if err != nil {
		h.reject(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}

type addTariffRequest struct {
	Sender string `json:"sender"`
	Label  string `json:"label"`
	Source string `json:"source"`
}

// AddTariff handles POST /internal/ledger/add-tariff.
func (h *LedgerHandler) AddTariff(w http.ResponseWriter, r *http.Request) {
	var req addTariffRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Label == "" {
		writeError(w, http.StatusBadRequest, "label required")
		return
	}
	err := h.ledger.AddTariff(r.Context(), ledger.AccountID(req.Sender), req.Label, ledger.AccountID(req.Source))
	metrics.RecordLedgerCall("add_tariff", err)
	if err != nil {
		h.reject(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "stored"})
}

type setPriceRequest struct {
	Sender     string `json:"sender"`
	PriceCents uint64 `json:"price_cents"`
}

// SetPrice handles POST /internal/ledger/set-price.
func (h *LedgerHandler) SetPrice(w http.ResponseWriter, r *http.Request) {
	var req setPriceRequest
	if !decode(w, r, &req) {
		return
	}
	err := h.ledger.SetCurrentPrice(r.Context(), ledger.AccountID(req.Sender), req.PriceCents)
	metrics.RecordLedgerCall("set_current_price", err)
	if err != nil {
		h.reject(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stored"})
}

type addChargerRequest struct {
	Sender  string `json:"sender"`
	Charger string `json:"charger"`
}

// AddCharger handles POST /internal/ledger/add-charger.
func (h *LedgerHandler) AddCharger(w http.ResponseWriter, r *http.Request) {
	var req addChargerRequest
	if !decode(w, r, &req) {
		return
	}
	err := h.ledger.AddCharger(r.Context(), ledger.AccountID(req.Sender), ledger.AccountID(req.Charger))
	metrics.RecordLedgerCall("add_charger", err)
	if err != nil {
		h.reject(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "added"})
}

func (h *LedgerHandler) reject(w http.ResponseWriter, err error) {
	writeError(w, statusForError(err), err.Error())
}

// statusForError maps the ledger error taxonomy onto HTTP statuses.
func statusForError(err error) int {
	switch {
	case errors.Is(err, ledger.ErrNotRegisteredCharger),
		errors.Is(err, ledger.ErrNotRegisteredPaymentValidator),
		errors.Is(err, ledger.ErrNotAnAdmin):
		return http.StatusForbidden
	case errors.Is(err, ledger.ErrChargerIsBusy),
		errors.Is(err, ledger.ErrAlreadyConfirmedPayment),
		errors.Is(err, ledger.ErrAlreadyRequestedPayment),
		errors.Is(err, ledger.ErrAlreadyRegisteredCharger):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrNoChargingRequest),
		errors.Is(err, ledger.ErrNoChargingSession),
		errors.Is(err, ledger.ErrNonExistentPayment),
		errors.Is(err, ledger.ErrNoTariff):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrNoPaymentConsent),
		errors.Is(err, ledger.ErrNoConsentForPayment):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// NewHealthHandler responds ok.
func NewHealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// StatsHandler serves aggregate ledger counts and optional per-charger state.
type StatsHandler struct {
	ledger *ledger.Ledger
	logger *zap.Logger
}

// NewStatsHandler builds handler.
func NewStatsHandler(l *ledger.Ledger, logger *zap.Logger) *StatsHandler {
	return &StatsHandler{ledger: l, logger: logger}
}

type chargerState struct {
	Busy           bool                    `json:"busy"`
	PendingRequest *ledger.SessionRequest  `json:"pending_request,omitempty"`
	ActiveSession  *ledger.ChargingSession `json:"active_session,omitempty"`
}

type statsResponse struct {
	AllowedPayers   int           `json:"allowed_payers"`
	PendingPayments int           `json:"pending_payments"`
	Charger         *chargerState `json:"charger,omitempty"`
}

// ServeHTTP handles GET /stats.
func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	allowed, err := h.ledger.AllowedPayerCount(ctx)
	if err != nil {
		h.logger.Error("failed to count allowed payers", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "stats unavailable")
		return
	}
	pending, err := h.ledger.PendingPayments(ctx)
	if err != nil {
		h.logger.Error("failed to read pending payments", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "stats unavailable")
		return
	}

	resp := statsResponse{
		AllowedPayers:   allowed,
		PendingPayments: len(pending),
	}

	if charger := r.URL.Query().Get("charger"); charger != "" {
		state := &chargerState{}
		if req, ok, err := h.ledger.PendingRequest(ctx, ledger.AccountID(charger)); err == nil && ok {
			state.Busy = true
			state.PendingRequest = &req
		}
		if session, ok, err := h.ledger.ActiveSession(ctx, ledger.AccountID(charger)); err == nil && ok {
			state.Busy = true
			state.ActiveSession = &session
		}
		resp.Charger = state
	}

	writeJSON(w, http.StatusOK, resp)
}

func decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
