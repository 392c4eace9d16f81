package httpapi

import (
	"net/http"
	"time"

	"github.com/cedros-basket/checkout/pkg/responders"
)

// health reports liveness. It never depends on external services so that
// load balancers and process supervisors get a fast, reliable answer.
func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	responders.JSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"uptime":    now.Sub(serverStartTime).String(),
		"timestamp": now.UTC(),
	})
}
