package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const tokenTTL = time.Minute

// PaymentOrder is the transfer submitted to the external payment gateway.
type PaymentOrder struct {
	SessionID   string `json:"session_id"`
	PayerIBAN   string `json:"payer_iban"`
	PayerBIC    string `json:"payer_bic"`
	AmountCents uint64 `json:"amount_cents"`
}

// Client submits payment orders. Implementations must be safe for repeated
// submission of the same order: the ledger only records a completion after a
// successful call, so a retried order must not double-charge.
type Client interface {
	Charge(ctx context.Context, order PaymentOrder) error
}

// HTTPClient talks to the gateway's HTTP API. Each request carries a
// short-lived HS256 bearer token identifying this node.
type HTTPClient struct {
	baseURL string
	secret  []byte
	nodeID  string
	client  *http.Client
	logger  *zap.Logger
}

// NewHTTPClient builds a gateway client.
func NewHTTPClient(baseURL, secret, nodeID string, timeout time.Duration, logger *zap.Logger) (*HTTPClient, error) {
	if baseURL == "" {
		return nil, errors.New("gateway: base url required")
	}
	if secret == "" {
		return nil, errors.New("gateway: signing secret required")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		baseURL: baseURL,
		secret:  []byte(secret),
		nodeID:  nodeID,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}, nil
}

// Charge submits the order and treats any non-2xx response as failure.
func (c *HTTPClient) Charge(ctx context.Context, order PaymentOrder) error {
	body, err := json.Marshal(order)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/payments", bytes.NewReader(body))
	if err != nil {
		return err
	}

	token, err := c.mintToken()
	if err != nil {
		return fmt.Errorf("gateway: mint token: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		c.logger.Warn("payment gateway rejected order",
			zap.String("session_id", order.SessionID),
			zap.Int("status", resp.StatusCode),
		)
		return fmt.Errorf("gateway: payment returned status %d", resp.StatusCode)
	}
	return nil
}

func (c *HTTPClient) mintToken() (string, error) {
	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   c.nodeID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
}
