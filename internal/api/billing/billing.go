package billing

import (
	"errors"
	"io"
	"net/http"

	"crm-automation-api/internal/api/common"
	billingsvc "crm-automation-api/internal/billing"
	"crm-automation-api/internal/domain"
	"crm-automation-api/internal/logger"

	"go.uber.org/zap"
)

// HandleBillingWebhook ontvangt provider events. De body wordt ongewijzigd
// gelezen omdat de handtekening over de ruwe bytes gaat.
// 4xx betekent: niet opnieuw proberen. 5xx laat de provider opnieuw leveren.
func HandleBillingWebhook(receiver *billingsvc.Receiver, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, common.MaxBodyBytes))
		if err != nil {
			common.WriteJSONError(w, http.StatusBadRequest, "Kon request body niet lezen", log)
			return
		}

		outcome, err := receiver.Handle(r.Context(), payload, r.Header.Get(billingsvc.SignatureHeader))
		switch {
		case err == nil:
			common.WriteJSON(w, http.StatusOK, map[string]any{
				"received":  true,
				"duplicate": outcome.Duplicate,
			}, log)
		case errors.Is(err, domain.ErrInvalidSignature):
			common.WriteJSON(w, http.StatusBadRequest, map[string]string{
				"error":   "invalid signature",
				"message": err.Error(),
			}, log)
		case errors.Is(err, billingsvc.ErrMalformedEvent):
			common.WriteJSON(w, http.StatusBadRequest, map[string]string{
				"error":   "malformed event",
				"message": err.Error(),
			}, log)
		default:
			common.WriteJSON(w, http.StatusInternalServerError, map[string]any{
				"received":  false,
				"error":     logger.Truncate(err.Error()),
				"eventType": outcome.EventType,
			}, log)
		}
	}
}
