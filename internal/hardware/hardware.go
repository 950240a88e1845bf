package hardware

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// ChargeState reported by the physical charger.
type ChargeState string

const (
	StateNoCharge ChargeState = "no_charge"
	StateActive   ChargeState = "active"
	StateEnded    ChargeState = "ended"
)

// ChargeStatus is the hardware poll result. EnergyKWh is meaningful only in
// the ended state.
type ChargeStatus struct {
	State     ChargeState `json:"state"`
	EnergyKWh uint64      `json:"energy_kwh"`
}

// API is the charger hardware contract. Status must be safe to poll
// repeatedly.
type API interface {
	StartCharge(ctx context.Context) error
	Status(ctx context.Context) (ChargeStatus, error)
}

// HTTPClient drives one physical charger over its local HTTP control API.
type HTTPClient struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewHTTPClient returns a client for the charger at baseURL.
func NewHTTPClient(baseURL string, timeout time.Duration, logger *zap.Logger) *HTTPClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// StartCharge commands the charger to begin delivering energy.
func (c *HTTPClient) StartCharge(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/charge/start", bytes.NewReader(nil))
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("hardware: start charge returned status %d", resp.StatusCode)
	}
	return nil
}

// Status polls the charger for its current charge state.
func (c *HTTPClient) Status(ctx context.Context) (ChargeStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/charge/status", nil)
	if err != nil {
		return ChargeStatus{}, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return ChargeStatus{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return ChargeStatus{}, fmt.Errorf("hardware: status returned status %d", resp.StatusCode)
	}

	var status ChargeStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return ChargeStatus{}, fmt.Errorf("hardware: decode status: %w", err)
	}
	switch status.State {
	case StateNoCharge, StateActive, StateEnded:
	default:
		return ChargeStatus{}, fmt.Errorf("hardware: unknown charge state %q", status.State)
	}
	return status, nil
}
