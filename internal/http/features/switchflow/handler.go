package switchflow

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/taxdesk/identityctx/internal/httputil"
	"github.com/taxdesk/identityctx/pkg/credstore"
	"github.com/taxdesk/identityctx/pkg/domain"
	"github.com/taxdesk/identityctx/pkg/identity"
)

// Handler executes runtime account switches.
type Handler struct {
	logger    *slog.Logger
	switcher  *identity.Switcher
	refresher *identity.Refresher
	creds     *credstore.Store
}

// NewHandler creates a new switch handler.
func NewHandler(logger *slog.Logger, switcher *identity.Switcher, refresher *identity.Refresher, creds *credstore.Store) *Handler {
	return &Handler{
		logger:    logger,
		switcher:  switcher,
		refresher: refresher,
		creds:     creds,
	}
}

// SwitchRequest identifies the target membership, either directly or by
// firm and role.
type SwitchRequest struct {
	MembershipID string `json:"membership_id"`
	FirmID       int64  `json:"firm_id"`
	Role         string `json:"role"`
}

// Switch moves the session to the target membership.
// POST /v1/switch
func (h *Handler) Switch(w http.ResponseWriter, r *http.Request) {
	var req SwitchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.MembershipID == "" && req.FirmID == 0 {
		httputil.Error(w, http.StatusBadRequest, "membership_id or firm_id is required")
		return
	}

	ctx := r.Context()
	hints := identity.HintsFromStore(ctx, h.creds)
	memberships, err := h.refresher.Snapshot(ctx, hints)
	if err != nil {
		h.logger.Error("failed to load memberships for switch", "error", err)
		httputil.Error(w, http.StatusBadGateway, "failed to load memberships")
		return
	}
	if len(memberships) == 0 {
		httputil.Error(w, http.StatusConflict, "no memberships available")
		return
	}

	current := currentMembership(memberships)
	target, ok := findTarget(memberships, req)
	if !ok {
		httputil.Error(w, http.StatusNotFound, "membership not found")
		return
	}

	result, err := h.switcher.Switch(ctx, target, current)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrSwitchInFlight):
			httputil.Error(w, http.StatusConflict, "another switch is in progress")
		default:
			h.logger.Error("account switch failed", "error", err)
			httputil.Error(w, http.StatusBadGateway, "account switch failed")
		}
		return
	}

	httputil.JSON(w, http.StatusOK, result)
}

// currentMembership is the entry marked current, defaulting to the first
// when disambiguation marked none.
func currentMembership(memberships []domain.Membership) domain.Membership {
	for _, m := range memberships {
		if m.IsCurrent {
			return m
		}
	}
	return memberships[0]
}

func findTarget(memberships []domain.Membership, req SwitchRequest) (domain.Membership, bool) {
	if req.MembershipID != "" {
		for _, m := range memberships {
			if m.ID == req.MembershipID {
				return m, true
			}
		}
		return domain.Membership{}, false
	}

	role := domain.NormalizeRole(req.Role)
	for _, m := range memberships {
		if m.Firm.ID != req.FirmID {
			continue
		}
		if req.Role == "" || m.Role == role {
			return m, true
		}
	}
	return domain.Membership{}, false
}
