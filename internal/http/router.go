package httpserver

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Routes groups the node's HTTP handlers.
type Routes struct {
	Ledger *LedgerHandler
	Stats  http.HandlerFunc
	Events http.HandlerFunc
	Health http.HandlerFunc
}

// NewRouter registers the node endpoints. The /internal/ledger/* endpoints
// stand in for the signed-transaction path of a real chain: the caller names
// the sender account and signature checking is left to the surrounding
// identity layer.
func NewRouter(routes Routes) http.Handler {
	mux := http.NewServeMux()

	if routes.Ledger != nil {
		h := routes.Ledger
		mux.Handle("/internal/ledger/request-session", method(http.MethodPost, h.RequestSession))
		mux.Handle("/internal/ledger/start-session", method(http.MethodPost, h.StartSession))
		mux.Handle("/internal/ledger/end-session", method(http.MethodPost, h.EndSession))
		mux.Handle("/internal/ledger/payment-consent", method(http.MethodPost, h.RegisterPaymentConsent))
		mux.Handle("/internal/ledger/request-settlement", method(http.MethodPost, h.RequestSettlement))
		mux.Handle("/internal/ledger/complete-settlement", method(http.MethodPost, h.CompleteSettlement))
		mux.Handle("/internal/ledger/add-tariff", method(http.MethodPost, h.AddTariff))
		mux.Handle("/internal/ledger/set-price", method(http.MethodPost, h.SetPrice))
		mux.Handle("/internal/ledger/add-charger", method(http.MethodPost, h.AddCharger))
	}
	if routes.Stats != nil {
		mux.Handle("/stats", method(http.MethodGet, routes.Stats))
	}
	if routes.Events != nil {
		mux.Handle("/ws/events", method(http.MethodGet, routes.Events))
	}
	if routes.Health != nil {
		mux.Handle("/health", method(http.MethodGet, routes.Health))
	}
	mux.Handle("/metrics", promhttp.Handler())

	return mux
}

func method(expected string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != expected {
			w.Header().Set("Allow", expected)
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		handler(w, r)
	}
}
