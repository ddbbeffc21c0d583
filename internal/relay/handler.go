package relay

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ocmt/relay/internal/httpserver"
	"github.com/ocmt/relay/internal/relayauth"
)

// Handler provides the HTTP surface for the delivery pipeline (spec.md §6:
// "POST /send", "POST /forward", "GET /messages/pending", "POST
// /messages/ack").
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs a relay Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// Routes returns a chi.Router with all relay routes mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	h.Mount(r)
	return r
}

// Mount registers relay routes directly onto r, so a caller that also needs
// to mount other handlers under the same "/relay" prefix can combine them on
// one router instead of nesting conflicting chi.Mount calls.
func (h *Handler) Mount(r chi.Router) {
	r.Post("/send", h.handleSend)
	r.Post("/forward", h.handleForward)
	r.Get("/messages/pending", h.handlePending)
	r.Post("/messages/ack", h.handleAck)
}

type sendRequest struct {
	ToContainerID string `json:"toContainerId" validate:"required"`
	Payload       string `json:"payload" validate:"required"`
}

func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	from := relayauth.ContainerIDFromContext(r.Context())
	outcome, err := h.service.Send(r.Context(), from, req.ToContainerID, req.Payload)
	h.respondOutcome(w, r, outcome, err)
}

type forwardRequest struct {
	ToContainerID    string `json:"toContainerId" validate:"required"`
	CapabilityToken  string `json:"capabilityToken" validate:"required"`
	EncryptedPayload string `json:"encryptedPayload" validate:"required"`
	Nonce            string `json:"nonce"`
	Signature        string `json:"signature"`
}

func (h *Handler) handleForward(w http.ResponseWriter, r *http.Request) {
	var req forwardRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	from := relayauth.ContainerIDFromContext(r.Context())
	outcome, err := h.service.Forward(r.Context(), from, req.ToContainerID, req.CapabilityToken, req.EncryptedPayload)
	if errors.Is(err, ErrInvalidCapability) {
		httpserver.RespondError(w, http.StatusForbidden, "invalid_capability", "capability token is missing, malformed, expired, or revoked")
		return
	}
	h.respondOutcome(w, r, outcome, err)
}

func (h *Handler) respondOutcome(w http.ResponseWriter, r *http.Request, outcome Outcome, err error) {
	switch {
	case errors.Is(err, ErrUnknownRecipient):
		httpserver.RespondError(w, http.StatusNotFound, "unknown_recipient", "recipient container is not registered")
		return
	case errors.Is(err, ErrPayloadTooLarge):
		httpserver.RespondError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "payload exceeds maximum size")
		return
	case err != nil:
		h.logger.Error("delivering message", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to deliver message")
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{
		"messageId":      outcome.MessageID,
		"status":         outcome.Status,
		"deliveryMethod": outcome.DeliveryMethod,
		"wakeTriggered":  outcome.WakeTriggered,
	})
}

func (h *Handler) handlePending(w http.ResponseWriter, r *http.Request) {
	recipient := relayauth.ContainerIDFromContext(r.Context())

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	if ackParam := r.URL.Query().Get("ack"); ackParam != "" {
		h.service.Ack(r.Context(), strings.Split(ackParam, ","))
	}

	messages, err := h.service.Pending(r.Context(), recipient, limit)
	if err != nil {
		h.logger.Error("listing pending messages", "error", err, "recipient", recipient)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list pending messages")
		return
	}

	out := make([]map[string]any, len(messages))
	for i, m := range messages {
		out[i] = map[string]any{
			"id":        m.ID,
			"from":      m.From,
			"payload":   m.Payload,
			"size":      m.Size,
			"timestamp": m.CreatedAt.Unix(),
		}
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{
		"count":    len(out),
		"messages": out,
	})
}

type ackRequest struct {
	MessageIDs []string `json:"messageIds" validate:"required,max=100,dive,required"`
}

func (h *Handler) handleAck(w http.ResponseWriter, r *http.Request) {
	var req ackRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	acknowledged := h.service.Ack(r.Context(), req.MessageIDs)
	httpserver.Respond(w, http.StatusOK, map[string]any{"acknowledged": acknowledged})
}
