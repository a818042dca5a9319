package identity

import (
	"context"
	"log/slog"
	"sync"

	"github.com/taxdesk/identityctx/pkg/backend"
	"github.com/taxdesk/identityctx/pkg/credstore"
	"github.com/taxdesk/identityctx/pkg/domain"
)

// State is a context-resolution state. Resolved is terminal.
type State string

const (
	StateAwaitingContext State = "awaiting_context"
	StateRoleSelection   State = "role_selection"
	StateFirmSelection   State = "firm_selection"
	StateResolved        State = "resolved"
)

// ContextAPI is the subset of the backend client the resolver uses.
type ContextAPI interface {
	AvailableContexts(ctx context.Context) (*backend.ContextResponse, error)
}

// ResolverConfig holds resolver dependencies.
type ResolverConfig struct {
	Contexts  ContextAPI
	Selection *Selection
	Creds     *credstore.Store
	Logger    *slog.Logger
}

// Resolver is the context resolution router: given a post-login or
// post-invite payload it decides whether role selection, firm selection,
// both, or neither is required, with shortcuts when only one option
// exists.
type Resolver struct {
	contexts  ContextAPI
	selection *Selection
	creds     *credstore.Store
	logger    *slog.Logger

	mu          sync.Mutex
	fetched     bool
	state       State
	pending     *domain.PendingContext
	activeRole  string
	firmOptions []domain.Membership
	identity    *domain.ActiveIdentity
	redirect    string
}

// NewResolver creates a resolver in the awaiting-context state.
func NewResolver(cfg ResolverConfig) *Resolver {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		contexts:  cfg.Contexts,
		selection: cfg.Selection,
		creds:     cfg.Creds,
		logger:    logger,
		state:     StateAwaitingContext,
	}
}

// Begin enters the flow. A nil pending context means the entry point did
// not pre-populate firm data (invite acceptance); a fresh context is then
// fetched, at most once, so a just-created membership is included.
func (r *Resolver) Begin(ctx context.Context, pending *domain.PendingContext) (State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if pending == nil {
		fetched, err := r.fetchContext(ctx)
		if err != nil {
			return r.state, err
		}
		pending = fetched
	}
	r.pending = pending
	return r.evaluate(ctx)
}

// BeginFromPayload enters the flow with the raw context payload a login
// response carries, normalizing the firm list first.
func (r *Resolver) BeginFromPayload(ctx context.Context, payload *backend.ContextResponse) (State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pending = r.fromResponse(ctx, payload)
	return r.evaluate(ctx)
}

// fetchContext fetches the pending context from upstream. The fetch is
// attempted only once per resolver, success or not.
func (r *Resolver) fetchContext(ctx context.Context) (*domain.PendingContext, error) {
	if r.fetched {
		return nil, domain.ErrNoPendingContext
	}
	r.fetched = true

	resp, err := r.contexts.AvailableContexts(ctx)
	if err != nil {
		return nil, err
	}
	return r.fromResponse(ctx, resp), nil
}

func (r *Resolver) fromResponse(ctx context.Context, resp *backend.ContextResponse) *domain.PendingContext {
	return &domain.PendingContext{
		NeedsRoleSelection: resp.NeedsRoleSelection,
		NeedsFirmSelection: resp.NeedsFirmSelection,
		AllRoles:           resp.AllRoles,
		AllFirms:           Normalize(resp.AllFirms, HintsFromStore(ctx, r.creds)),
		User:               resp.User,
	}
}

// evaluate runs the transition rules once entry data is available.
// Callers must hold the lock.
func (r *Resolver) evaluate(ctx context.Context) (State, error) {
	if r.pending == nil {
		return r.state, domain.ErrNoPendingContext
	}
	if r.pending.NeedsRoleSelection {
		r.state = StateRoleSelection
		return r.state, nil
	}
	return r.firmBranch(ctx, r.resolvedRole(ctx), nil)
}

// resolvedRole is the role in effect when no role selection is required.
func (r *Resolver) resolvedRole(ctx context.Context) string {
	if r.activeRole != "" {
		return r.activeRole
	}
	if role := r.pending.PrimaryRole(); role != "" {
		return domain.NormalizeRole(role)
	}
	identity, err := r.creds.ActiveIdentity(ctx)
	if err == nil {
		return identity.ActiveRole
	}
	return ""
}

// firmBranch applies the firm-selection rules for the given role. When
// the role's category leaves exactly one firm, it is selected immediately
// with no selection step; zero firms resolve directly. A non-nil identity
// means a role exchange already persisted it. Callers must hold the lock.
func (r *Resolver) firmBranch(ctx context.Context, role string, identity *domain.ActiveIdentity) (State, error) {
	if !r.pending.NeedsFirmSelection {
		return r.resolveDirect(ctx, role, identity)
	}

	category := domain.Classify(role)
	firms := FilterByCategory(r.pending.AllFirms, category)
	switch len(firms) {
	case 0:
		return r.resolveDirect(ctx, role, identity)
	case 1:
		chosen, err := r.selection.ConfirmFirm(ctx, firms[0])
		if err != nil {
			// Surface the failure on a visible firm-selection step so the
			// same choice can be retried.
			r.firmOptions = firms
			r.state = StateFirmSelection
			return r.state, err
		}
		r.finish(*chosen)
		return r.state, nil
	default:
		r.firmOptions = firms
		r.state = StateFirmSelection
		return r.state, nil
	}
}

// resolveDirect reaches Resolved without a firm exchange. Identity is
// persisted here unless a preceding exchange already did.
func (r *Resolver) resolveDirect(ctx context.Context, role string, identity *domain.ActiveIdentity) (State, error) {
	if identity == nil {
		resolved := domain.ActiveIdentity{}
		if role != "" {
			resolved.ActiveRole = domain.NormalizeRole(role)
			resolved.UserType = domain.UserTypeForRole(resolved.ActiveRole)
		} else if userType, err := r.creds.UserType(ctx); err == nil {
			resolved.UserType = userType
		}
		if err := r.creds.SetActiveIdentity(ctx, resolved); err != nil {
			return r.state, err
		}
		identity = &resolved
	}
	r.finish(*identity)
	return r.state, nil
}

// finish enters the terminal state and discards the pending context.
func (r *Resolver) finish(identity domain.ActiveIdentity) {
	r.identity = &identity
	r.redirect = RedirectPath(identity.UserType)
	r.state = StateResolved
	r.pending = nil
	r.firmOptions = nil
	r.logger.Info("context resolved",
		"user_type", identity.UserType,
		"firm_id", identity.FirmID,
		"redirect", r.redirect,
	)
}

// ChooseRole resolves the role-selection step, then re-runs the firm
// branch with the newly chosen category. On exchange failure the state is
// unchanged and the step may be retried.
func (r *Resolver) ChooseRole(ctx context.Context, role string) (State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateRoleSelection {
		return r.state, domain.ErrInvalidState
	}
	if !r.roleOffered(role) {
		return r.state, domain.ErrUnknownRole
	}

	identity, err := r.selection.ConfirmRole(ctx, role)
	if err != nil {
		return r.state, err
	}
	r.activeRole = identity.ActiveRole
	return r.firmBranch(ctx, identity.ActiveRole, identity)
}

func (r *Resolver) roleOffered(role string) bool {
	normalized := domain.NormalizeRole(role)
	for _, option := range r.pending.AllRoles {
		if domain.NormalizeRole(option.Role) == normalized {
			return true
		}
	}
	return false
}

// ChooseFirm resolves the firm-selection step. On exchange failure the
// state is unchanged and the step may be retried.
func (r *Resolver) ChooseFirm(ctx context.Context, membershipID string) (State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateFirmSelection {
		return r.state, domain.ErrInvalidState
	}

	for _, membership := range r.firmOptions {
		if membership.ID == membershipID {
			identity, err := r.selection.ConfirmFirm(ctx, membership)
			if err != nil {
				return r.state, err
			}
			r.finish(*identity)
			return r.state, nil
		}
	}
	return r.state, domain.ErrUnknownMembership
}

// State returns the current resolution state.
func (r *Resolver) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Redirect returns the computed dashboard path once resolved.
func (r *Resolver) Redirect() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.redirect
}

// Identity returns the resolved identity, or nil before resolution.
func (r *Resolver) Identity() *domain.ActiveIdentity {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.identity == nil {
		return nil
	}
	identity := *r.identity
	return &identity
}

// RoleBuckets returns the login-type buckets for the role-selection step.
func (r *Resolver) RoleBuckets() []RoleBucket {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateRoleSelection || r.pending == nil {
		return nil
	}
	return Buckets(r.pending.AllRoles)
}

// FirmOptions returns the candidate firms for the firm-selection step,
// ordered for display with the current membership first.
func (r *Resolver) FirmOptions() []domain.Membership {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateFirmSelection {
		return nil
	}
	options := make([]domain.Membership, len(r.firmOptions))
	copy(options, r.firmOptions)
	domain.SortForDisplay(options)
	return options
}
