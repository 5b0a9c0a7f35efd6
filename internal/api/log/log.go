package log

import (
	"net/http"
	"strconv"

	"crm-automation-api/internal/api/common"
	"crm-automation-api/internal/automation"
	logstore "crm-automation-api/internal/store/log"

	"go.uber.org/zap"
)

// HandleGetAutomationLogs haalt de execution logs van een automation op, nieuwste eerst.
// De automation moet bij de tenant van de aanvrager horen.
func HandleGetAutomationLogs(svc *automation.Service, logs logstore.LogStorer, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		member, err := common.GetMemberFromContext(r.Context())
		if err != nil {
			common.WriteJSONError(w, http.StatusUnauthorized, err.Error(), log)
			return
		}

		ruleID, err := common.URLParamUUID(r, "id")
		if err != nil {
			common.WriteJSONError(w, http.StatusBadRequest, "Ongeldig automation ID", log)
			return
		}

		limit := logstore.DefaultLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			limit, err = strconv.Atoi(raw)
			if err != nil {
				common.WriteJSONError(w, http.StatusBadRequest, "Ongeldige limit", log)
				return
			}
		}

		if _, err := svc.Get(r.Context(), member.TenantID, ruleID); err != nil {
			common.WriteError(w, err, "Kon automation niet ophalen", log)
			return
		}

		entries, err := logs.ListLogs(r.Context(), ruleID, logstore.ClampLimit(limit))
		if err != nil {
			common.WriteError(w, err, "Kon logs niet ophalen", log)
			return
		}

		common.WriteJSON(w, http.StatusOK, entries, log)
	}
}
