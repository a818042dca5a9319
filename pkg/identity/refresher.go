package identity

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/taxdesk/identityctx/pkg/credstore"
	"github.com/taxdesk/identityctx/pkg/domain"
)

// MembershipAPI is the subset of the backend client the refresher uses.
type MembershipAPI interface {
	Memberships(ctx context.Context) ([]domain.RawMembership, error)
}

// Refresher implements the cache-then-network membership load: the cached
// list is surfaced immediately while a background refresh runs, and the
// fresh list replaces it wholesale rather than merging field by field.
type Refresher struct {
	api    MembershipAPI
	creds  *credstore.Store
	logger *slog.Logger
}

// NewRefresher creates a membership refresher.
func NewRefresher(api MembershipAPI, creds *credstore.Store, logger *slog.Logger) *Refresher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Refresher{api: api, creds: creds, logger: logger}
}

// Load surfaces the cached membership list through apply, then refreshes
// in the background. The background result is discarded if ctx is done by
// the time it lands, so a late response never reaches a consumer that has
// moved on. apply may be called from another goroutine and must be safe
// for that.
func (r *Refresher) Load(ctx context.Context, hints Hints, apply func([]domain.Membership)) {
	if cached, ok := r.cached(ctx); ok {
		apply(Normalize(cached, hints))
	}
	go r.refresh(ctx, hints, apply)
}

// Snapshot returns the membership list synchronously: the cached list when
// present (with a background refresh kicked off), otherwise a blocking
// fetch.
func (r *Refresher) Snapshot(ctx context.Context, hints Hints) ([]domain.Membership, error) {
	if cached, ok := r.cached(ctx); ok {
		go r.refresh(ctx, hints, nil)
		return Normalize(cached, hints), nil
	}

	raw, err := r.api.Memberships(ctx)
	if err != nil {
		return nil, err
	}
	r.storeRaw(ctx, raw)
	return Normalize(raw, hints), nil
}

// cached reads the persisted raw list. Malformed cache data is logged and
// treated as absent, never fatal.
func (r *Refresher) cached(ctx context.Context) ([]domain.RawMembership, bool) {
	data, err := r.creds.FirmsData(ctx)
	if err != nil || len(data) == 0 {
		return nil, false
	}
	var raw []domain.RawMembership
	if err := json.Unmarshal(data, &raw); err != nil {
		r.logger.Warn("ignoring malformed cached membership list", "error", err)
		return nil, false
	}
	return raw, true
}

// refresh fetches the fresh list, persists it, and applies it unless the
// caller's context is already done. Failures leave the cache-derived state
// authoritative.
func (r *Refresher) refresh(ctx context.Context, hints Hints, apply func([]domain.Membership)) {
	raw, err := r.api.Memberships(ctx)
	if err != nil {
		r.logger.Debug("background membership refresh failed", "error", err)
		return
	}
	r.storeRaw(context.WithoutCancel(ctx), raw)

	if apply == nil {
		return
	}
	select {
	case <-ctx.Done():
		return
	default:
		apply(Normalize(raw, hints))
	}
}

// storeRaw persists the raw records verbatim, preserving whatever field
// spellings upstream used.
func (r *Refresher) storeRaw(ctx context.Context, raw []domain.RawMembership) {
	payloads := make([]json.RawMessage, len(raw))
	for i := range raw {
		payloads[i] = raw[i].Payload
	}
	data, err := json.Marshal(payloads)
	if err != nil {
		return
	}
	if err := r.creds.SetFirmsData(ctx, data); err != nil {
		r.logger.Debug("failed to cache membership list", "error", err)
	}
}
