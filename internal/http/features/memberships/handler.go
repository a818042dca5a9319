package memberships

import (
	"log/slog"
	"net/http"

	"github.com/taxdesk/identityctx/internal/httputil"
	"github.com/taxdesk/identityctx/pkg/credstore"
	"github.com/taxdesk/identityctx/pkg/domain"
	"github.com/taxdesk/identityctx/pkg/identity"
)

// Handler serves the normalized membership list.
type Handler struct {
	logger    *slog.Logger
	refresher *identity.Refresher
	creds     *credstore.Store
}

// NewHandler creates a new memberships handler.
func NewHandler(logger *slog.Logger, refresher *identity.Refresher, creds *credstore.Store) *Handler {
	return &Handler{logger: logger, refresher: refresher, creds: creds}
}

// ListResponse carries the display-ordered membership list.
type ListResponse struct {
	Memberships []domain.Membership `json:"memberships"`
}

// List returns the membership list, cached when available with a
// background refresh.
// GET /v1/memberships
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	hints := identity.HintsFromStore(ctx, h.creds)

	memberships, err := h.refresher.Snapshot(ctx, hints)
	if err != nil {
		h.logger.Error("failed to load memberships", "error", err)
		httputil.Error(w, http.StatusBadGateway, "failed to load memberships")
		return
	}

	domain.SortForDisplay(memberships)
	httputil.JSON(w, http.StatusOK, ListResponse{Memberships: memberships})
}
