package rule

import (
	"errors"
	"net/http"

	"crm-automation-api/internal/api/common"
	"crm-automation-api/internal/automation"
	"crm-automation-api/internal/domain"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// ruleResponse is een regel plus zijn publieke inbound webhook URL.
type ruleResponse struct {
	domain.AutomationRule
	WebhookURL string `json:"webhook_url"`
}

func toResponse(baseURL string, r domain.AutomationRule) ruleResponse {
	return ruleResponse{AutomationRule: r, WebhookURL: automation.WebhookURL(baseURL, r.ID)}
}

func toResponses(baseURL string, rules []domain.AutomationRule) []ruleResponse {
	return lo.Map(rules, func(r domain.AutomationRule, _ int) ruleResponse {
		return toResponse(baseURL, r)
	})
}

// HandleGetRules lists the tenant's automations, filtered by ?filter=all|active|inactive.
func HandleGetRules(svc *automation.Service, baseURL string, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		member, err := common.GetMemberFromContext(r.Context())
		if err != nil {
			common.WriteJSONError(w, http.StatusUnauthorized, err.Error(), log)
			return
		}

		filter, err := automation.ParseFilter(r.URL.Query().Get("filter"))
		if err != nil {
			common.WriteJSONError(w, http.StatusBadRequest, err.Error(), log)
			return
		}

		rules, err := svc.List(r.Context(), member.TenantID)
		if err != nil {
			common.WriteError(w, err, "Kon automations niet ophalen", log)
			return
		}

		common.WriteJSON(w, http.StatusOK, toResponses(baseURL, automation.FilterRules(rules, filter)), log)
	}
}

// HandleCreateRule creëert een nieuwe automation.
func HandleCreateRule(svc *automation.Service, baseURL string, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		member, err := common.GetMemberFromContext(r.Context())
		if err != nil {
			common.WriteJSONError(w, http.StatusUnauthorized, err.Error(), log)
			return
		}

		var req automation.CreateInput
		if err := common.DecodeJSON(w, r, &req); err != nil {
			common.WriteJSONError(w, http.StatusBadRequest, "Ongeldige request body", log)
			return
		}

		created, err := svc.Create(r.Context(), member.TenantID, req)
		if err != nil {
			common.WriteError(w, err, "Kon automation niet creëren", log)
			return
		}

		common.WriteJSON(w, http.StatusCreated, toResponse(baseURL, created), log)
	}
}

// HandleGetRule returns one automation.
func HandleGetRule(svc *automation.Service, baseURL string, log *zap.Logger) http.HandlerFunc {
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

		found, err := svc.Get(r.Context(), member.TenantID, ruleID)
		if err != nil {
			common.WriteError(w, err, "Kon automation niet ophalen", log)
			return
		}

		common.WriteJSON(w, http.StatusOK, toResponse(baseURL, found), log)
	}
}

// HandleUpdateRule update een bestaande automation (partieel).
func HandleUpdateRule(svc *automation.Service, baseURL string, log *zap.Logger) http.HandlerFunc {
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

		var req automation.UpdateInput
		if err := common.DecodeJSON(w, r, &req); err != nil {
			common.WriteJSONError(w, http.StatusBadRequest, "Ongeldige request body", log)
			return
		}

		updated, err := svc.Update(r.Context(), member.TenantID, ruleID, req)
		if err != nil {
			common.WriteError(w, err, "Kon automation niet updaten", log)
			return
		}

		common.WriteJSON(w, http.StatusOK, toResponse(baseURL, updated), log)
	}
}

// HandleDeleteRule verwijdert een automation. Logs blijven bewaard.
func HandleDeleteRule(svc *automation.Service, log *zap.Logger) http.HandlerFunc {
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

		if err := svc.Delete(r.Context(), member.TenantID, ruleID); err != nil {
			common.WriteError(w, err, "Kon automation niet verwijderen", log)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

// HandleToggleRule zet alleen de 'active' vlag.
func HandleToggleRule(svc *automation.Service, baseURL string, log *zap.Logger) http.HandlerFunc {
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

		var req struct {
			Active *bool `json:"active"`
		}
		if err := common.DecodeJSON(w, r, &req); err != nil || req.Active == nil {
			common.WriteJSONError(w, http.StatusBadRequest, "Body moet {\"active\": bool} zijn", log)
			return
		}

		updated, err := svc.ToggleActive(r.Context(), member.TenantID, ruleID, *req.Active)
		if err != nil {
			common.WriteError(w, err, "Kon automation niet togglen", log)
			return
		}

		common.WriteJSON(w, http.StatusOK, toResponse(baseURL, updated), log)
	}
}

// HandleTestRule sends the test payload once and returns the result plus the
// refetched automations.
func HandleTestRule(svc *automation.Service, baseURL string, log *zap.Logger) http.HandlerFunc {
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

		outcome, err := svc.TestRule(r.Context(), member.TenantID, ruleID)
		if errors.Is(err, automation.ErrRefetch) {
			// De test is wel uitgevoerd en gelogd; geef het resultaat toch terug.
			log.Error("refetch after test failed", zap.Error(err), zap.String("component", "api"))
			common.WriteJSON(w, http.StatusOK, map[string]any{
				"result":      outcome.Result,
				"automations": nil,
				"error":       "Kon automations niet ophalen",
			}, log)
			return
		}
		if err != nil {
			common.WriteError(w, err, "Kon automation niet testen", log)
			return
		}

		common.WriteJSON(w, http.StatusOK, map[string]any{
			"result":      outcome.Result,
			"automations": toResponses(baseURL, outcome.Automations),
		}, log)
	}
}

type triggerRequest struct {
	Entity domain.TargetEntity `json:"entity"`
	Event  domain.TriggerEvent `json:"event"`
	Record map[string]any      `json:"record"`
}

type acceptedAutomation struct {
	AutomationID uuid.UUID `json:"automation_id"`
	Name         string    `json:"name"`
}

// HandleTriggerEvent fires the automations bound to an entity event. Dispatch
// and retries run in the background; the response lists the accepted rules.
func HandleTriggerEvent(svc *automation.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		member, err := common.GetMemberFromContext(r.Context())
		if err != nil {
			common.WriteJSONError(w, http.StatusUnauthorized, err.Error(), log)
			return
		}

		var req triggerRequest
		if err := common.DecodeJSON(w, r, &req); err != nil {
			common.WriteJSONError(w, http.StatusBadRequest, "Ongeldige request body", log)
			return
		}

		accepted, err := svc.TriggerAsync(r.Context(), member.TenantID, req.Entity, req.Event, req.Record)
		if err != nil {
			common.WriteError(w, err, "Kon event niet verwerken", log)
			return
		}

		common.WriteJSON(w, http.StatusAccepted, map[string]any{
			"accepted": lo.Map(accepted, func(t automation.TriggerResult, _ int) acceptedAutomation {
				return acceptedAutomation{AutomationID: t.AutomationID, Name: t.Name}
			}),
		}, log)
	}
}
