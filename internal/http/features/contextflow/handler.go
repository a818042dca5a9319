package contextflow

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/taxdesk/identityctx/internal/httputil"
	"github.com/taxdesk/identityctx/pkg/backend"
	"github.com/taxdesk/identityctx/pkg/domain"
	"github.com/taxdesk/identityctx/pkg/identity"
)

// Handler drives the context resolution flow.
type Handler struct {
	logger   *slog.Logger
	resolver *identity.Resolver
}

// NewHandler creates a new context flow handler.
func NewHandler(logger *slog.Logger, resolver *identity.Resolver) *Handler {
	return &Handler{logger: logger, resolver: resolver}
}

// StateResponse describes the resolution state and, depending on it, the
// options the client must present or the redirect to follow.
type StateResponse struct {
	State       string                `json:"state"`
	Redirect    string                `json:"redirect,omitempty"`
	RoleBuckets []identity.RoleBucket `json:"role_buckets,omitempty"`
	Firms       []domain.Membership   `json:"firms,omitempty"`
}

func (h *Handler) writeState(w http.ResponseWriter, state identity.State) {
	resp := StateResponse{State: string(state)}
	switch state {
	case identity.StateRoleSelection:
		resp.RoleBuckets = h.resolver.RoleBuckets()
	case identity.StateFirmSelection:
		resp.Firms = h.resolver.FirmOptions()
	case identity.StateResolved:
		resp.Redirect = h.resolver.Redirect()
	}
	httputil.JSON(w, http.StatusOK, resp)
}

// Get returns the current resolution state.
// GET /v1/context
//
// Once resolved, this keeps returning the redirect: the selection flow is
// not re-enterable, since tokens may have rotated during it.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	h.writeState(w, h.resolver.State())
}

// Begin enters the resolution flow.
// POST /v1/context
//
// The body may carry the context payload from the login response; an
// empty body means the entry point had no firm data (invite acceptance)
// and a fresh context is fetched.
func (h *Handler) Begin(w http.ResponseWriter, r *http.Request) {
	var payload backend.ContextResponse
	err := json.NewDecoder(r.Body).Decode(&payload)
	switch {
	case errors.Is(err, io.EOF):
		state, err := h.resolver.Begin(r.Context(), nil)
		h.respondTransition(w, state, err)
	case err != nil:
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
	default:
		state, err := h.resolver.BeginFromPayload(r.Context(), &payload)
		h.respondTransition(w, state, err)
	}
}

// SelectRoleRequest is the role-selection confirmation.
type SelectRoleRequest struct {
	Role string `json:"role"`
}

// SelectRole resolves the role-selection step.
// POST /v1/context/role
func (h *Handler) SelectRole(w http.ResponseWriter, r *http.Request) {
	var req SelectRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Role == "" {
		httputil.Error(w, http.StatusBadRequest, "role is required")
		return
	}

	state, err := h.resolver.ChooseRole(r.Context(), req.Role)
	h.respondTransition(w, state, err)
}

// SelectFirmRequest is the firm-selection confirmation.
type SelectFirmRequest struct {
	MembershipID string `json:"membership_id"`
}

// SelectFirm resolves the firm-selection step.
// POST /v1/context/firm
func (h *Handler) SelectFirm(w http.ResponseWriter, r *http.Request) {
	var req SelectFirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.MembershipID == "" {
		httputil.Error(w, http.StatusBadRequest, "membership_id is required")
		return
	}

	state, err := h.resolver.ChooseFirm(r.Context(), req.MembershipID)
	h.respondTransition(w, state, err)
}

// respondTransition maps a transition outcome to HTTP. Exchange failures
// leave the step retryable, so the state is reported alongside the error.
func (h *Handler) respondTransition(w http.ResponseWriter, state identity.State, err error) {
	if err == nil {
		h.writeState(w, state)
		return
	}

	switch {
	case errors.Is(err, domain.ErrInvalidState):
		httputil.Error(w, http.StatusConflict, "selection step not active")
	case errors.Is(err, domain.ErrNoPendingContext):
		httputil.Error(w, http.StatusConflict, "no pending context")
	case errors.Is(err, domain.ErrUnknownRole):
		httputil.Error(w, http.StatusBadRequest, "role not offered")
	case errors.Is(err, domain.ErrUnknownMembership):
		httputil.Error(w, http.StatusNotFound, "membership not found")
	default:
		h.logger.Error("context transition failed", "state", state, "error", err)
		httputil.JSON(w, http.StatusBadGateway, map[string]string{
			"error": "selection failed, please retry",
			"state": string(state),
		})
	}
}
