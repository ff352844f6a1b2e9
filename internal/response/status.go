package response

import (
	"net/http"

	"forumkarma/internal/services"
)

// ===============================
// HEALTH CHECK RESPONSES
// ===============================

// WriteHealthCheck writes the service health. Degraded still serves traffic;
// only an unhealthy store returns 503.
func (b *Builder) WriteHealthCheck(w http.ResponseWriter, r *http.Request, health *services.ServiceHealth) {
	code := http.StatusOK
	if health.Status == services.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}

	b.WriteJSON(w, r, b.Success(r.Context(), health), code)
}
