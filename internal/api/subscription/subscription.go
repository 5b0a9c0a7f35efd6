package subscription

import (
	"context"
	"net/http"

	"crm-automation-api/internal/api/common"
	"crm-automation-api/internal/domain"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// StateReader leest de lokale subscription projectie.
type StateReader interface {
	GetByUserID(ctx context.Context, userID uuid.UUID) (*domain.SubscriptionState, error)
}

// HandleGetSubscription geeft de subscription van de ingelogde gebruiker terug,
// of null als er nog geen is.
func HandleGetSubscription(store StateReader, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := common.GetUserIDFromContext(r.Context())
		if err != nil {
			common.WriteJSONError(w, http.StatusUnauthorized, err.Error(), log)
			return
		}

		state, err := store.GetByUserID(r.Context(), userID)
		if err != nil {
			common.WriteError(w, err, "Kon subscription niet ophalen", log)
			return
		}

		common.WriteJSON(w, http.StatusOK, map[string]any{"subscription": state}, log)
	}
}
