package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

func TestChargeSendsSignedOrder(t *testing.T) {
	const secret = "test-secret"

	var received PaymentOrder
	var authHeader string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/payments" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		authHeader = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode order: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client, err := NewHTTPClient(server.URL, secret, "node-1", time.Second, zap.NewNop())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	order := PaymentOrder{
		SessionID:   "abc123",
		PayerIBAN:   "FR7630006000011234567890189",
		PayerBIC:    "AGRIFRPP",
		AmountCents: 1500,
	}
	if err := client.Charge(context.Background(), order); err != nil {
		t.Fatalf("charge: %v", err)
	}

	if received != order {
		t.Fatalf("gateway received %+v, want %+v", received, order)
	}

	if !strings.HasPrefix(authHeader, "Bearer ") {
		t.Fatalf("expected bearer token, got %q", authHeader)
	}
	token, err := jwt.ParseWithClaims(strings.TrimPrefix(authHeader, "Bearer "), &jwt.RegisteredClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			t.Fatalf("unexpected signing method %v", token.Method)
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		t.Fatalf("token not valid: %v", err)
	}
	claims := token.Claims.(*jwt.RegisteredClaims)
	if claims.Subject != "node-1" {
		t.Fatalf("expected subject node-1, got %q", claims.Subject)
	}
}

func TestChargeRejectsNonSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
	}))
	defer server.Close()

	client, err := NewHTTPClient(server.URL, "secret", "node-1", time.Second, zap.NewNop())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if err := client.Charge(context.Background(), PaymentOrder{SessionID: "x"}); err == nil {
		t.Fatal("expected error for non-2xx response")
	}
}

func TestNewHTTPClientValidatesConfig(t *testing.T) {
	if _, err := NewHTTPClient("", "secret", "node", time.Second, zap.NewNop()); err == nil {
		t.Fatal("expected error for empty base url")
	}
	if _, err := NewHTTPClient("http://gateway", "", "node", time.Second, zap.NewNop()); err == nil {
		t.Fatal("expected error for empty secret")
	}
}
