package credstore

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/taxdesk/identityctx/pkg/domain"
)

// Scope selects one of the two storage backends.
type Scope string

const (
	// ScopeDurable survives across sessions (remembered logins).
	ScopeDurable Scope = "durable"
	// ScopeEphemeral lives only for the current session.
	ScopeEphemeral Scope = "ephemeral"
)

// Storage keys. These are the only keys this subsystem persists.
const (
	KeyAccessToken  = "accessToken"
	KeyRefreshToken = "refreshToken"
	KeyRememberMe   = "rememberMe"
	KeyUserData     = "userData"
	KeyUserType     = "userType"
	KeyIsLoggedIn   = "isLoggedIn"
	KeyFirmsData    = "firmsData"
	KeyActiveRole   = "activeRole"
	KeyFirmID       = "firmId"
)

// Backend is a key-value storage scope. A missing key reads as an empty
// string, not an error.
type Backend interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Store abstracts the dual persistence backend for tokens and session
// state. The invariant it owns: tokens exist in exactly one scope at a
// time, and SetTokens is the only code path that writes a token key.
type Store struct {
	mu        sync.Mutex
	durable   Backend
	ephemeral Backend
	now       func() time.Time
}

// New creates a credential store over the two backends.
func New(durable, ephemeral Backend) *Store {
	return &Store{
		durable:   durable,
		ephemeral: ephemeral,
		now:       time.Now,
	}
}

// ActiveScope decides which backend currently holds session state: durable
// if the ephemeral backend's remember flag is "true", else the durable
// backend's own flag decides, defaulting to ephemeral when neither is set.
func (s *Store) ActiveScope(ctx context.Context) (Scope, error) {
	flag, err := s.ephemeral.Get(ctx, KeyRememberMe)
	if err != nil {
		return "", fmt.Errorf("read remember flag: %w", err)
	}
	if flag == "true" {
		return ScopeDurable, nil
	}
	flag, err = s.durable.Get(ctx, KeyRememberMe)
	if err != nil {
		return "", fmt.Errorf("read remember flag: %w", err)
	}
	if flag == "true" {
		return ScopeDurable, nil
	}
	return ScopeEphemeral, nil
}

// Remembered reports whether the durable scope is active.
func (s *Store) Remembered(ctx context.Context) bool {
	scope, err := s.ActiveScope(ctx)
	return err == nil && scope == ScopeDurable
}

func (s *Store) backend(scope Scope) Backend {
	if scope == ScopeDurable {
		return s.durable
	}
	return s.ephemeral
}

func (s *Store) activeBackend(ctx context.Context) (Backend, error) {
	scope, err := s.ActiveScope(ctx)
	if err != nil {
		return nil, err
	}
	return s.backend(scope), nil
}

// SetTokens rotates the token pair. Both scopes are purged of token and
// remember keys first, then all three values are written into exactly one
// scope chosen by remember. This is the only legitimate token write path.
func (s *Store) SetTokens(ctx context.Context, access, refresh string, remember bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, backend := range []Backend{s.durable, s.ephemeral} {
		for _, key := range []string{KeyAccessToken, KeyRefreshToken, KeyRememberMe} {
			if err := backend.Delete(ctx, key); err != nil {
				return fmt.Errorf("purge %s: %w", key, err)
			}
		}
	}

	target := s.ephemeral
	if remember {
		target = s.durable
	}
	writes := map[string]string{
		KeyAccessToken:  access,
		KeyRefreshToken: refresh,
		KeyRememberMe:   strconv.FormatBool(remember),
	}
	for key, value := range writes {
		if err := target.Set(ctx, key, value); err != nil {
			return fmt.Errorf("write %s: %w", key, err)
		}
	}
	return nil
}

// AccessToken reads the access token through the active scope.
func (s *Store) AccessToken(ctx context.Context) (string, error) {
	backend, err := s.activeBackend(ctx)
	if err != nil {
		return "", err
	}
	return backend.Get(ctx, KeyAccessToken)
}

// RefreshToken reads the refresh token through the active scope.
func (s *Store) RefreshToken(ctx context.Context) (string, error) {
	backend, err := s.activeBackend(ctx)
	if err != nil {
		return "", err
	}
	return backend.Get(ctx, KeyRefreshToken)
}

// IsTokenExpired decodes the access token's exp claim and compares it to
// the current time. A missing token or any decode failure reads as
// expired.
func (s *Store) IsTokenExpired(ctx context.Context) bool {
	token, err := s.AccessToken(ctx)
	if err != nil || token == "" {
		return true
	}

	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return true
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return true
	}
	return !s.now().Before(exp.Time)
}

func (s *Store) setValue(ctx context.Context, key, value string) error {
	backend, err := s.activeBackend(ctx)
	if err != nil {
		return err
	}
	return backend.Set(ctx, key, value)
}

func (s *Store) value(ctx context.Context, key string) (string, error) {
	backend, err := s.activeBackend(ctx)
	if err != nil {
		return "", err
	}
	return backend.Get(ctx, key)
}

// SetUserData persists the user snapshot verbatim.
func (s *Store) SetUserData(ctx context.Context, snapshot []byte) error {
	return s.setValue(ctx, KeyUserData, string(snapshot))
}

// UserData returns the persisted user snapshot.
func (s *Store) UserData(ctx context.Context) ([]byte, error) {
	value, err := s.value(ctx, KeyUserData)
	if err != nil || value == "" {
		return nil, err
	}
	return []byte(value), nil
}

// SetFirmsData persists the raw membership list verbatim. Re-normalization
// happens lazily on the next read, not here.
func (s *Store) SetFirmsData(ctx context.Context, firms []byte) error {
	return s.setValue(ctx, KeyFirmsData, string(firms))
}

// FirmsData returns the cached raw membership list.
func (s *Store) FirmsData(ctx context.Context) ([]byte, error) {
	value, err := s.value(ctx, KeyFirmsData)
	if err != nil || value == "" {
		return nil, err
	}
	return []byte(value), nil
}

// SetLoggedIn records the logged-in flag.
func (s *Store) SetLoggedIn(ctx context.Context, loggedIn bool) error {
	return s.setValue(ctx, KeyIsLoggedIn, strconv.FormatBool(loggedIn))
}

// LoggedIn reports the logged-in flag.
func (s *Store) LoggedIn(ctx context.Context) bool {
	value, err := s.value(ctx, KeyIsLoggedIn)
	return err == nil && value == "true"
}

// SetActiveIdentity overwrites the persisted active identity entirely.
func (s *Store) SetActiveIdentity(ctx context.Context, identity domain.ActiveIdentity) error {
	if err := s.setValue(ctx, KeyUserType, identity.UserType); err != nil {
		return err
	}
	if err := s.setValue(ctx, KeyActiveRole, identity.ActiveRole); err != nil {
		return err
	}
	return s.setValue(ctx, KeyFirmID, strconv.FormatInt(identity.FirmID, 10))
}

// ActiveIdentity returns the persisted active identity. Absent or
// malformed fields read as zero values.
func (s *Store) ActiveIdentity(ctx context.Context) (domain.ActiveIdentity, error) {
	userType, err := s.value(ctx, KeyUserType)
	if err != nil {
		return domain.ActiveIdentity{}, err
	}
	role, err := s.value(ctx, KeyActiveRole)
	if err != nil {
		return domain.ActiveIdentity{}, err
	}
	firmValue, err := s.value(ctx, KeyFirmID)
	if err != nil {
		return domain.ActiveIdentity{}, err
	}
	firmID, _ := strconv.ParseInt(firmValue, 10, 64)
	return domain.ActiveIdentity{
		UserType:   userType,
		ActiveRole: role,
		FirmID:     firmID,
	}, nil
}

// UserType returns the persisted user type tag.
func (s *Store) UserType(ctx context.Context) (string, error) {
	return s.value(ctx, KeyUserType)
}

// Clear purges every key from both scopes.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := []string{
		KeyAccessToken, KeyRefreshToken, KeyRememberMe,
		KeyUserData, KeyUserType, KeyIsLoggedIn, KeyFirmsData,
		KeyActiveRole, KeyFirmID,
	}
	for _, backend := range []Backend{s.durable, s.ephemeral} {
		for _, key := range keys {
			if err := backend.Delete(ctx, key); err != nil {
				return fmt.Errorf("clear %s: %w", key, err)
			}
		}
	}
	return nil
}
