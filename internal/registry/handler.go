package registry

import (
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ocmt/relay/internal/httpserver"
	"github.com/ocmt/relay/internal/relayauth"
)

// Handler provides HTTP handlers for the container registry (spec.md §6
// "POST /registry/register, PATCH /registry/update, DELETE /registry,
// GET /registry, GET /registry/lookup/:publicKeyHash, POST /registry/lookup").
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler creates a registry Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// Routes returns a chi.Router with all registry routes mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/register", h.handleRegister)
	r.Patch("/update", h.handleUpdate)
	r.Delete("/", h.handleDelete)
	r.Get("/", h.handleGet)
	r.Get("/lookup/{hash}", h.handleLookupByHash)
	r.Post("/lookup", h.handleLookup)
	return r
}

type registerRequest struct {
	ContainerID      string `json:"containerId" validate:"required"`
	SigningPubKey    string `json:"signingPubKey" validate:"required"`
	EncryptionPubKey string `json:"encryptionPubKey"`
	CallbackURL      string `json:"callbackUrl"`
	Challenge        string `json:"challenge" validate:"required"`
	Signature        string `json:"signature" validate:"required"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	pub, err := base64.StdEncoding.DecodeString(req.SigningPubKey)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "invalid_request", "signingPubKey must be base64")
		return
	}
	challenge, err := base64.StdEncoding.DecodeString(req.Challenge)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "invalid_request", "challenge must be base64")
		return
	}
	sig, err := base64.StdEncoding.DecodeString(req.Signature)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "invalid_request", "signature must be base64")
		return
	}

	reg, err := h.service.Register(r.Context(), RegisterRequest{
		ContainerID:      req.ContainerID,
		SigningPubKey:    pub,
		EncryptionPubKey: req.EncryptionPubKey,
		CallbackURL:      req.CallbackURL,
		Challenge:        challenge,
		Signature:        sig,
	})
	if err != nil {
		h.respondRegistrationError(w, err)
		return
	}

	httpserver.Respond(w, http.StatusCreated, toDiscoveryInfo(reg))
}

func (h *Handler) respondRegistrationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidPubKey):
		httpserver.RespondError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, ErrChallengeFailed):
		httpserver.RespondError(w, http.StatusForbidden, "unauthorized", "proof-of-possession failed")
	case errors.Is(err, ErrInvalidCallbackURL):
		httpserver.RespondError(w, http.StatusBadRequest, "invalid_request", err.Error())
	default:
		h.logger.Error("registering container", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to register container")
	}
}

type updateRequest struct {
	EncryptionPubKey *string `json:"encryptionPubKey"`
	CallbackURL      *string `json:"callbackUrl"`
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	containerID := relayauth.ContainerIDFromContext(r.Context())
	if containerID == "" {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "missing container identity")
		return
	}

	var req updateRequest
	if !httpserver.DecodeBody(w, r, &req) {
		return
	}

	reg, err := h.service.Update(r.Context(), containerID, req.EncryptionPubKey, req.CallbackURL)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "container not registered")
			return
		}
		h.respondRegistrationError(w, err)
		return
	}

	httpserver.Respond(w, http.StatusOK, toDiscoveryInfo(reg))
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	containerID := relayauth.ContainerIDFromContext(r.Context())
	if containerID == "" {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "missing container identity")
		return
	}

	if err := h.service.Delete(r.Context(), containerID); err != nil {
		h.logger.Error("deleting registration", "error", err, "container_id", containerID)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to delete registration")
		return
	}

	httpserver.Respond(w, http.StatusNoContent, nil)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	containerID := relayauth.ContainerIDFromContext(r.Context())
	if containerID == "" {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "missing container identity")
		return
	}

	info, err := h.service.Lookup(r.Context(), containerID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "container not registered")
			return
		}
		h.logger.Error("looking up registration", "error", err, "container_id", containerID)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to load registration")
		return
	}

	httpserver.Respond(w, http.StatusOK, info)
}

func (h *Handler) handleLookupByHash(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "hash")

	info, err := h.service.LookupByPubKeyHash(r.Context(), hash)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "no container with that public key hash")
			return
		}
		h.logger.Error("looking up registration by hash", "error", err, "hash", hash)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to load registration")
		return
	}

	httpserver.Respond(w, http.StatusOK, info)
}

type lookupRequest struct {
	ContainerID string `json:"containerId"`
}

func (h *Handler) handleLookup(w http.ResponseWriter, r *http.Request) {
	var req lookupRequest
	if !httpserver.DecodeBody(w, r, &req) {
		return
	}
	if req.ContainerID == "" {
		httpserver.RespondError(w, http.StatusBadRequest, "invalid_request", "containerId is required")
		return
	}

	info, err := h.service.Lookup(r.Context(), req.ContainerID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "container not registered")
			return
		}
		h.logger.Error("looking up registration", "error", err, "container_id", req.ContainerID)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to load registration")
		return
	}

	httpserver.Respond(w, http.StatusOK, info)
}
