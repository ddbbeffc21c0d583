package revocation

import (
	"encoding/base64"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ocmt/relay/internal/httpserver"
)

// Handler provides the HTTP surface for the revocation index (spec.md §6:
// "POST /revoke", "GET /revocation/:capabilityId", "POST
// /check-revocations").
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs a revocation Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// Routes returns a chi.Router with all revocation routes mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	h.Mount(r)
	return r
}

// Mount registers revocation routes directly onto r, so a caller that also
// needs to mount other handlers under the same "/relay" prefix can combine
// them on one router instead of nesting conflicting chi.Mount calls.
func (h *Handler) Mount(r chi.Router) {
	r.Post("/revoke", h.handleRevoke)
	r.Get("/revocation/{capabilityId}", h.handleCheck)
	r.Post("/check-revocations", h.handleBatchCheck)
}

type revokeRequest struct {
	CapabilityID   string `json:"capabilityId" validate:"required"`
	RevokedBy      string `json:"revokedBy" validate:"required"`
	Reason         string `json:"reason"`
	OriginalExpiry int64  `json:"originalExpiry"`
	Timestamp      int64  `json:"timestamp" validate:"required"`
	Signature      string `json:"signature" validate:"required,base64"`
}

func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	var req revokeRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	sig, err := base64.StdEncoding.DecodeString(req.Signature)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "invalid_request", "signature must be base64")
		return
	}
	revokedByPubKey, err := base64.StdEncoding.DecodeString(req.RevokedBy)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "invalid_request", "revokedBy must be base64")
		return
	}

	if err := h.service.Revoke(r.Context(), RevokeRequest{
		CapabilityID:   req.CapabilityID,
		RevokedBy:      req.RevokedBy,
		Reason:         req.Reason,
		OriginalExpiry: req.OriginalExpiry,
		Timestamp:      req.Timestamp,
		Signature:      req.Signature,
	}, sig, revokedByPubKey); err != nil {
		h.logger.Warn("revocation rejected", "error", err, "capability_id", req.CapabilityID)
		httpserver.RespondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{"capabilityId": req.CapabilityID, "revoked": true})
}

func (h *Handler) handleCheck(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "capabilityId")
	res := h.service.IsRevoked(r.Context(), id)

	httpserver.Respond(w, http.StatusOK, map[string]any{
		"revoked":   res.Revoked,
		"revokedAt": optionalUnix(res),
		"revokedBy": optionalString(res.RevokedBy),
		"reason":    optionalString(res.Reason),
		"source":    res.Source,
	})
}

func optionalUnix(res CheckResult) any {
	if res.RevokedAt.IsZero() {
		return nil
	}
	return res.RevokedAt.Unix()
}

func optionalString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

type batchCheckRequest struct {
	CapabilityIDs []string `json:"capabilityIds" validate:"required,max=1000,dive,required"`
}

func (h *Handler) handleBatchCheck(w http.ResponseWriter, r *http.Request) {
	var req batchCheckRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	results, err := h.service.BatchCheck(r.Context(), req.CapabilityIDs)
	if err != nil {
		h.logger.Error("batch checking revocations", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to check revocations")
		return
	}

	out := make(map[string]any, len(results))
	for id, res := range results {
		out[id] = map[string]any{"revoked": res.Revoked, "source": res.Source}
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{"results": out})
}
