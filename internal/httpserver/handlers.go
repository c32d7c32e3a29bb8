package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/buhogo/payd/internal/errors"
	"github.com/buhogo/payd/internal/payments"
	"github.com/buhogo/payd/pkg/responders"
)

type submitRequest struct {
	Invoice        string `json:"invoice"`
	Amount         int64  `json:"amount"`
	Description    string `json:"description"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

type attemptResponse struct {
	IdempotencyKey string    `json:"idempotencyKey"`
	Invoice        string    `json:"invoice"`
	Amount         int64     `json:"amount"`
	Description    string    `json:"description,omitempty"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// submitPayment drives one submission. Success answers 200, a pending
// handoff answers 202 with the key the caller needs for follow-up.
func (h *handlers) submitPayment(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		responders.Error(w, http.StatusBadRequest, string(apperrors.ErrCodeInvalidInput), "request body is not valid JSON")
		return
	}

	result, err := h.coordinator.Submit(r.Context(), payments.SubmitRequest{
		Invoice:     req.Invoice,
		Amount:      req.Amount,
		Description: req.Description,
		ExistingKey: req.IdempotencyKey,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	status := http.StatusOK
	if result.Outcome == payments.OutcomePending {
		status = http.StatusAccepted
	}
	responders.JSON(w, status, result)
}

func (h *handlers) getPayment(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	attempt, err := h.coordinator.Get(r.Context(), key)
	if err != nil {
		h.writeError(w, err)
		return
	}

	responders.JSON(w, http.StatusOK, attemptResponse{
		IdempotencyKey: attempt.IdempotencyKey,
		Invoice:        attempt.Invoice,
		Amount:         attempt.Amount,
		Description:    attempt.Description,
		Status:         string(attempt.Status),
		CreatedAt:      attempt.CreatedAt,
		UpdatedAt:      attempt.UpdatedAt,
	})
}

func (h *handlers) listPayments(w http.ResponseWriter, r *http.Request) {
	attempts := h.coordinator.ListPending(r.Context())

	out := make([]attemptResponse, 0, len(attempts))
	for _, attempt := range attempts {
		out = append(out, attemptResponse{
			IdempotencyKey: attempt.IdempotencyKey,
			Invoice:        attempt.Invoice,
			Amount:         attempt.Amount,
			Description:    attempt.Description,
			Status:         string(attempt.Status),
			CreatedAt:      attempt.CreatedAt,
			UpdatedAt:      attempt.UpdatedAt,
		})
	}
	responders.JSON(w, http.StatusOK, map[string]interface{}{"attempts": out})
}

// abandonPayment stops tracking and drops the ledger entry. Idempotent.
func (h *handlers) abandonPayment(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	h.coordinator.Abandon(r.Context(), key)
	w.WriteHeader(http.StatusNoContent)
}

// reconcilePayment forces one reconciliation poll for the key.
func (h *handlers) reconcilePayment(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	result, err := h.reconciler.ReconcileOnce(r.Context(), key)
	if err != nil {
		h.writeError(w, err)
		return
	}
	responders.JSON(w, http.StatusOK, result)
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	status := "ok"
	if h.coordinator.Degraded() {
		status = "degraded"
	}

	responders.JSON(w, http.StatusOK, map[string]interface{}{
		"status":         status,
		"uptime_seconds": int64(time.Since(serverStartTime).Seconds()),
		"breakers": map[string]string{
			"relay_pay":    h.breakers.State("relay_pay"),
			"relay_lookup": h.breakers.State("relay_lookup"),
			"webhook":      h.breakers.State("webhook"),
		},
	})
}

// writeError maps a classified error onto the wire. Unclassified errors
// never leak their internals to the caller.
func (h *handlers) writeError(w http.ResponseWriter, err error) {
	var pe *apperrors.PaymentError
	if errors.As(err, &pe) {
		responders.Error(w, pe.Code.HTTPStatus(), string(pe.Code), apperrors.UserMessage(pe.Code))
		return
	}
	h.logger.Error().Err(err).Msg("unclassified error reached the http layer")
	responders.Error(w, http.StatusInternalServerError, string(apperrors.ErrCodeInternalError), apperrors.UserMessage(apperrors.ErrCodeInternalError))
}
