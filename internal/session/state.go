package session

import (
	"errors"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"signalcraft-client/internal/analysis"
	"signalcraft-client/internal/shared/telemetry"
)

// expiryLeeway treats tokens this close to expiry as already expired.
const expiryLeeway = 30 * time.Second

// Logout reasons reported to listeners.
const (
	ReasonUser         = "user"
	ReasonUnauthorized = "unauthorized"
	ReasonExpired      = "token_expired"
)

// User is the authenticated operator.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	FullName string `json:"full_name,omitempty"`
	Role     string `json:"role,omitempty"`
}

// State is the authentication state shared by the API client and the agent.
// It implements oauth2.TokenSource.
type State struct {
	mu        sync.RWMutex
	vault     Vault
	user      *User
	token     *oauth2.Token
	demo      bool
	now       func() time.Time
	listeners []func(reason string)
}

// New creates an empty session backed by vault.
func New(vault Vault) *State {
	if vault == nil {
		vault = NewMemoryVault()
	}
	return &State{vault: vault, now: time.Now}
}

// Restore loads a previously saved token. Expired tokens are discarded.
func (s *State) Restore() error {
	tok, err := s.vault.Load()
	if errors.Is(err, ErrNoToken) {
		return nil
	}
	if err != nil {
		return err
	}
	if s.expired(tok) {
		telemetry.Info("session.restore_expired", nil)
		return s.vault.Clear()
	}
	s.mu.Lock()
	s.token = tok
	s.mu.Unlock()
	return nil
}

// Login stores the token and user. The expiry is read from the JWT when unset.
func (s *State) Login(user User, tok *oauth2.Token) error {
	if tok == nil || tok.AccessToken == "" {
		return errors.New("access token is required")
	}
	if tok.Expiry.IsZero() {
		if exp, ok := tokenExpiry(tok.AccessToken); ok {
			tok.Expiry = exp
		}
	}
	if err := s.vault.Save(tok); err != nil {
		return err
	}
	s.mu.Lock()
	s.user = &user
	s.token = tok
	s.demo = false
	s.mu.Unlock()
	telemetry.Info("session.login", map[string]any{"user_id": user.ID, "username": user.Username})
	return nil
}

// LoginDemo starts a demo session. Demo tokens are never persisted.
func (s *State) LoginDemo() User {
	user := User{ID: 0, Username: "demo", Email: "demo@signalcraft.local", FullName: "Demo Operator", Role: "engineer"}
	s.mu.Lock()
	s.user = &user
	s.token = &oauth2.Token{AccessToken: "demo-token", TokenType: "Bearer"}
	s.demo = true
	s.mu.Unlock()
	telemetry.Info("session.login", map[string]any{"user_id": user.ID, "username": user.Username, "demo": true})
	return user
}

// SetUser records the profile fetched after a restored login.
func (s *State) SetUser(user User) {
	s.mu.Lock()
	s.user = &user
	s.mu.Unlock()
}

// Logout clears the session and notifies listeners. It is safe to call repeatedly.
func (s *State) Logout(reason string) {
	s.mu.Lock()
	wasActive := s.token != nil
	s.user = nil
	s.token = nil
	s.demo = false
	listeners := append([]func(string){}, s.listeners...)
	s.mu.Unlock()

	if err := s.vault.Clear(); err != nil {
		telemetry.Error("session.vault_clear_failed", map[string]any{"error": err})
	}
	if !wasActive {
		return
	}
	telemetry.Info("session.logout", map[string]any{"reason": reason})
	for _, fn := range listeners {
		fn(reason)
	}
}

// OnLogout registers fn to run after every effective logout.
func (s *State) OnLogout(fn func(reason string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Token returns the current access token or analysis.ErrUnauthorized.
func (s *State) Token() (*oauth2.Token, error) {
	s.mu.RLock()
	tok := s.token
	demo := s.demo
	s.mu.RUnlock()

	if tok == nil {
		return nil, analysis.ErrUnauthorized
	}
	if !demo && s.expired(tok) {
		// There is no refresh endpoint; an expired token ends the session.
		s.Logout(ReasonExpired)
		return nil, analysis.ErrUnauthorized
	}
	cp := *tok
	return &cp, nil
}

// User returns the logged-in user.
func (s *State) User() (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return User{}, false
	}
	return *s.user, true
}

// IsAuthenticated reports whether a token is held.
func (s *State) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token != nil
}

// IsDemo reports whether the session was started in demo mode.
func (s *State) IsDemo() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.demo
}

func (s *State) expired(tok *oauth2.Token) bool {
	if tok.Expiry.IsZero() {
		return false
	}
	return !s.now().Add(expiryLeeway).Before(tok.Expiry)
}

var _ oauth2.TokenSource = (*State)(nil)
