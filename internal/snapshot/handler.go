package snapshot

import (
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ocmt/relay/internal/httpserver"
)

// Handler provides HTTP handlers for the snapshot store (spec.md §6
// "POST /snapshots, GET /snapshots/:id, DELETE /snapshots/:id, POST /snapshots/list").
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler creates a snapshot Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// Routes returns a chi.Router with all snapshot routes mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.handleUpsert)
	r.Get("/{id}", h.handleGet)
	r.Delete("/{id}", h.handleDelete)
	r.Post("/list", h.handleList)
	return r
}

// upsertRequest is the wire shape of POST /snapshots.
type upsertRequest struct {
	CapabilityID    string `json:"capabilityId" validate:"required"`
	RecipientPubKey string `json:"recipientPubKey" validate:"required"`
	IssuerPubKey    string `json:"issuerPubKey" validate:"required"`
	EncryptedData   string `json:"encryptedData" validate:"required"`
	EphemeralPubKey string `json:"ephemeralPubKey" validate:"required"`
	Nonce           string `json:"nonce" validate:"required"`
	Tag             string `json:"tag" validate:"required"`
	Signature       string `json:"signature" validate:"required"`
	ExpiresAt       int64  `json:"expiresAt" validate:"required"`
}

func (h *Handler) handleUpsert(w http.ResponseWriter, r *http.Request) {
	var req upsertRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	sig, err := base64.StdEncoding.DecodeString(req.Signature)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "invalid_request", "signature must be base64")
		return
	}
	issuerPubKey, err := base64.StdEncoding.DecodeString(req.IssuerPubKey)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "invalid_request", "issuerPubKey must be base64")
		return
	}

	snap := Snapshot{
		CapabilityID:    req.CapabilityID,
		RecipientPubKey: req.RecipientPubKey,
		IssuerPubKey:    req.IssuerPubKey,
		EncryptedData:   req.EncryptedData,
		EphemeralPubKey: req.EphemeralPubKey,
		Nonce:           req.Nonce,
		Tag:             req.Tag,
		Signature:       req.Signature,
		CreatedAt:       time.Now(),
		ExpiresAt:       time.Unix(req.ExpiresAt, 0),
	}

	if err := h.service.Upsert(r.Context(), snap, sig, issuerPubKey); err != nil {
		switch {
		case errors.Is(err, ErrRevoked):
			httpserver.RespondError(w, http.StatusForbidden, "invalid_capability", "capability is revoked")
		case errors.Is(err, ErrInvalidSignature):
			httpserver.RespondError(w, http.StatusForbidden, "invalid_capability", "signature verification failed")
		case errors.Is(err, ErrExpired):
			httpserver.RespondError(w, http.StatusBadRequest, "invalid_request", "expiresAt must be in the future")
		default:
			h.logger.Error("upserting snapshot", "error", err)
			httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to store snapshot")
		}
		return
	}

	httpserver.Respond(w, http.StatusCreated, map[string]string{"capabilityId": snap.CapabilityID})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	snap, err := h.service.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "snapshot not found")
			return
		}
		h.logger.Error("getting snapshot", "error", err, "capability_id", id)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to load snapshot")
		return
	}

	httpserver.Respond(w, http.StatusOK, snap)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.service.Delete(r.Context(), id); err != nil {
		h.logger.Error("deleting snapshot", "error", err, "capability_id", id)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to delete snapshot")
		return
	}

	httpserver.Respond(w, http.StatusNoContent, nil)
}

// listRequest is the wire shape of POST /snapshots/list.
type listRequest struct {
	RecipientPublicKey string `json:"recipientPublicKey" validate:"required"`
	Timestamp          int64  `json:"timestamp" validate:"required"`
	Signature          string `json:"signature" validate:"required"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	var req listRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	sig, err := base64.StdEncoding.DecodeString(req.Signature)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "invalid_request", "signature must be base64")
		return
	}
	recipientPubKey, err := base64.StdEncoding.DecodeString(req.RecipientPublicKey)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "invalid_request", "recipientPublicKey must be base64")
		return
	}

	rows, err := h.service.ListByRecipient(r.Context(), ListRequest{
		RecipientPublicKey: req.RecipientPublicKey,
		Timestamp:          req.Timestamp,
		Signature:          req.Signature,
	}, sig, recipientPubKey)
	if err != nil {
		if errors.Is(err, ErrInvalidSignature) {
			httpserver.RespondError(w, http.StatusBadRequest, "invalid_signature", "signature verification failed")
			return
		}
		httpserver.RespondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{
		"snapshots": rows,
		"count":     len(rows),
	})
}
