package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/x42/offer-notifier/internal/api/respond"
	"github.com/x42/offer-notifier/internal/devices"
	"github.com/x42/offer-notifier/internal/notifications"
)

// RegisterRequest is the body of POST /api/notification/register.
type RegisterRequest struct {
	Token string `json:"token" example:"ExponentPushToken[xxxxxxxxxxxxxxxxxxxxxx]"`
	Email string `json:"email" example:"usuario@email.com"`
}

// BroadcastResponse is returned by the test broadcast.
type BroadcastResponse struct {
	Message string                 `json:"message"`
	Tickets []notifications.Ticket `json:"tickets"`
}

// RunResponse is returned by a manually triggered pass.
type RunResponse struct {
	Message string                   `json:"message"`
	Summary string                   `json:"summary"`
	Result  notifications.PassResult `json:"result"`
}

// Register stores a device push token for an email.
// @Summary Register a device token
// @Description Registers an Expo push token with the user's email. Existing tokens are left untouched.
// @Tags notification
// @Accept json
// @Produce json
// @Param body body RegisterRequest true "Push token and email"
// @Success 201 {object} respond.MessageResponse "Token e email registrados com sucesso!"
// @Success 200 {object} respond.MessageResponse "Token já registrado"
// @Failure 400 {object} respond.ErrorResponse "Token inválido / Email é obrigatório"
// @Failure 500 {object} respond.ErrorResponse
// @Router /api/notification/register [post]
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.WriteErrorDetail(w, http.StatusBadRequest, "INVALID_BODY", "Corpo da requisição inválido", err.Error())
		return
	}

	created, err := devices.Register(r.Context(), h.registry, req.Token, req.Email)
	switch {
	case errors.Is(err, devices.ErrInvalidToken):
		respond.WriteError(w, http.StatusBadRequest, "INVALID_TOKEN", "Token inválido")
		return
	case errors.Is(err, devices.ErrMissingEmail):
		respond.WriteError(w, http.StatusBadRequest, "MISSING_EMAIL", "Email é obrigatório")
		return
	case err != nil:
		h.logger.Error("Device registration failed", "error", err)
		respond.WriteError(w, http.StatusInternalServerError, "REGISTRY_ERROR", "Erro ao registrar token")
		return
	}

	if !created {
		respond.WriteMessage(w, http.StatusOK, "Token já registrado")
		return
	}
	h.logger.Info("Device registered", "email", req.Email)
	respond.WriteMessage(w, http.StatusCreated, "Token e email registrados com sucesso!")
}

// Send broadcasts the fixed test notification to every registered device.
// @Summary Send a test notification
// @Description Sends a fixed test push notification to every valid registered token.
// @Tags notification
// @Produce json
// @Success 200 {object} BroadcastResponse
// @Failure 500 {object} respond.ErrorResponse
// @Router /api/notification/send [post]
func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	tickets, err := h.notifier.Broadcast(r.Context())
	if err != nil {
		h.logger.Error("Test broadcast failed", "error", err)
		respond.WriteErrorDetail(w, http.StatusInternalServerError, "SEND_FAILED", "Erro ao enviar notificações", err.Error())
		return
	}
	if tickets == nil {
		tickets = []notifications.Ticket{}
	}
	respond.WriteJSONObject(w, http.StatusOK, BroadcastResponse{
		Message: "Notificações enviadas com sucesso!",
		Tickets: tickets,
	})
}

// Run executes one notification pass immediately.
// @Summary Run the notification pass
// @Description Selects one offer per registered user and sends the push notifications now.
// @Tags notification
// @Produce json
// @Success 200 {object} RunResponse
// @Failure 500 {object} respond.ErrorResponse
// @Router /api/notification/run [post]
func (h *Handler) Run(w http.ResponseWriter, r *http.Request) {
	result, err := h.notifier.Run(r.Context())
	if err != nil {
		h.logger.Error("Notification pass failed", "run_id", result.RunID, "error", err)
		respond.WriteErrorDetail(w, http.StatusInternalServerError, "PASS_FAILED", "Erro ao executar notificações", err.Error())
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, RunResponse{
		Message: "Notificações processadas",
		Summary: result.Summary(),
		Result:  result,
	})
}
