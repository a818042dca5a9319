package identity

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/taxdesk/identityctx/pkg/backend"
	"github.com/taxdesk/identityctx/pkg/credstore"
	"github.com/taxdesk/identityctx/pkg/domain"
)

// SwitchAPI is the subset of the backend client the switch protocol uses.
type SwitchAPI interface {
	SwitchFirm(ctx context.Context, firmID int64, role string) (*backend.SwitchResponse, error)
	SwitchRole(ctx context.Context, apiRole string) (*backend.SwitchResponse, error)
}

// Invalidator receives the invalidate-all broadcast after a successful
// switch. Caches not owned by this subsystem register here instead of the
// application relying on a full reload.
type Invalidator interface {
	InvalidateAll(ctx context.Context)
}

// SwitchResult reports the outcome of a switch attempt.
type SwitchResult struct {
	// Switched is false for the already-current no-op, which only closes
	// the picker.
	Switched bool                  `json:"switched"`
	Redirect string                `json:"redirect"`
	Identity domain.ActiveIdentity `json:"identity"`
}

// SwitcherConfig holds switch protocol dependencies.
type SwitcherConfig struct {
	API   SwitchAPI
	Creds *credstore.Store
	// Invalidator is optional.
	Invalidator Invalidator
	// RedirectFn, if set, is invoked with the computed path after
	// RedirectDelay once a switch succeeds.
	RedirectFn    func(path string)
	RedirectDelay time.Duration
	Logger        *slog.Logger
}

// Switcher executes runtime account switches from an already-active
// dashboard.
type Switcher struct {
	api         SwitchAPI
	creds       *credstore.Store
	invalidator Invalidator
	redirectFn  func(path string)
	delay       time.Duration
	logger      *slog.Logger

	switching atomic.Bool
}

// NewSwitcher creates the switch protocol executor.
func NewSwitcher(cfg SwitcherConfig) *Switcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Switcher{
		api:         cfg.API,
		creds:       cfg.Creds,
		invalidator: cfg.Invalidator,
		redirectFn:  cfg.RedirectFn,
		delay:       cfg.RedirectDelay,
		logger:      logger,
	}
}

// Switch moves the session from the current membership to the target. A
// same-firm switch with a differing role uses the role-switch endpoint
// with the mapped API role code; everything else is a cross-firm switch.
// A second call while one is outstanding is rejected, not queued. On
// failure the previously active identity and tokens are untouched.
func (s *Switcher) Switch(ctx context.Context, target, current domain.Membership) (*SwitchResult, error) {
	if target.IsCurrent || sameMembership(target, current) {
		return &SwitchResult{
			Switched: false,
			Redirect: RedirectPath(domain.UserTypeForRole(current.Role)),
		}, nil
	}

	if !s.switching.CompareAndSwap(false, true) {
		return nil, domain.ErrSwitchInFlight
	}
	defer s.switching.Store(false)

	var (
		resp *backend.SwitchResponse
		err  error
	)
	if target.Firm.ID == current.Firm.ID && target.Role != current.Role {
		resp, err = s.api.SwitchRole(ctx, domain.APIRoleCode(target.Role))
	} else {
		resp, err = s.api.SwitchFirm(ctx, target.Firm.ID, target.Role)
	}
	if err != nil {
		return nil, err
	}

	// Verify tokens before touching anything: no partial rotation.
	pair, err := resp.TokenPair()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrSwitchFailed, err)
	}

	remember := s.creds.Remembered(ctx)
	if err := s.creds.SetTokens(ctx, pair.AccessToken, pair.RefreshToken, remember); err != nil {
		return nil, fmt.Errorf("rotate tokens: %w", err)
	}
	if len(resp.User) > 0 {
		if err := s.creds.SetUserData(ctx, resp.User); err != nil {
			return nil, fmt.Errorf("persist user snapshot: %w", err)
		}
	}
	if len(resp.Firms) > 0 {
		// Stored verbatim; re-normalization happens lazily on next read.
		if err := s.creds.SetFirmsData(ctx, resp.Firms); err != nil {
			return nil, fmt.Errorf("persist membership list: %w", err)
		}
	}

	identity := domain.ActiveIdentity{
		UserType:   domain.UserTypeForRole(target.Role),
		ActiveRole: domain.NormalizeRole(target.Role),
		FirmID:     target.Firm.ID,
	}
	if err := s.creds.SetActiveIdentity(ctx, identity); err != nil {
		return nil, fmt.Errorf("persist identity: %w", err)
	}
	if err := s.creds.SetLoggedIn(ctx, true); err != nil {
		return nil, fmt.Errorf("persist login flag: %w", err)
	}

	redirect := RedirectPath(identity.UserType)
	s.logger.Info("account switched",
		"firm_id", identity.FirmID,
		"role", identity.ActiveRole,
		"user_type", identity.UserType,
		"redirect", redirect,
	)

	if s.invalidator != nil {
		s.invalidator.InvalidateAll(ctx)
	}
	if s.redirectFn != nil {
		time.AfterFunc(s.delay, func() { s.redirectFn(redirect) })
	}

	return &SwitchResult{Switched: true, Redirect: redirect, Identity: identity}, nil
}

func sameMembership(target, current domain.Membership) bool {
	if target.ID != "" && target.ID == current.ID {
		return true
	}
	return target.Firm.ID == current.Firm.ID && target.Role == current.Role
}
