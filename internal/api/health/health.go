package health

import (
	"context"
	"net/http"
	"time"

	"crm-automation-api/internal/api/common"

	"go.uber.org/zap"
)

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HandleHealth checks if the API server is running and its database reachable.
// A nil db only reports the process itself.
func HandleHealth(db Pinger, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.Ping(ctx); err != nil {
				log.Warn("health check: database unreachable", zap.Error(err), zap.String("component", "api"))
				common.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status":   "degraded",
					"database": "unreachable",
				}, log)
				return
			}
		}
		common.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"}, log)
	}
}
