package relay

import (
	"errors"
	"net/http"

	"crm-automation-api/internal/api/common"
	relaysvc "crm-automation-api/internal/relay"

	"go.uber.org/zap"
)

// HandleRelay voert een uitgaande call uit namens de dispatcher en antwoordt
// met de {success, status, dados} envelope. De status van de bestemming zit
// in de envelope; de relay zelf antwoordt 200.
func HandleRelay(svc *relaysvc.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req relaysvc.Request
		if err := common.DecodeJSON(w, r, &req); err != nil {
			common.WriteJSONError(w, http.StatusBadRequest, "Ongeldige request body", log)
			return
		}

		resp, err := svc.Forward(r.Context(), req)
		if err != nil {
			if errors.Is(err, relaysvc.ErrInvalidRequest) {
				common.WriteJSONError(w, http.StatusBadRequest, err.Error(), log)
				return
			}
			common.WriteJSONError(w, http.StatusBadGateway, err.Error(), log)
			return
		}

		common.WriteJSON(w, http.StatusOK, resp, log)
	}
}
