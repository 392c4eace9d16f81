package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	"github.com/cedros-basket/checkout/internal/metrics"
)

// webhookRateLimit bounds inbound Telegram webhook traffic per remote IP. A
// non-positive limit disables limiting (useful for local/dev runs).
func webhookRateLimit(requestsPerMinute int, m *metrics.Metrics) func(http.Handler) http.Handler {
	if requestsPerMinute <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyByIP(),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			m.ObserveRateLimit("webhook", r.RemoteAddr)
			w.WriteHeader(http.StatusTooManyRequests)
		}),
	)
}
