package session

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"signalcraft-client/internal/analysis"
)

func makeJWT(t *testing.T, exp time.Time) string {
	t.Helper()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	payload, err := json.Marshal(claims{Sub: "engineer@example.com", Exp: exp.Unix()})
	if err != nil {
		t.Fatalf("marshal claims: %v", err)
	}
	return header + "." + base64.RawURLEncoding.EncodeToString(payload) + ".sig"
}

func TestLoginReadsExpiryFromJWT(t *testing.T) {
	s := New(NewMemoryVault())
	exp := time.Now().Add(time.Hour).Truncate(time.Second).UTC()
	if err := s.Login(User{ID: 7, Username: "eng"}, &oauth2.Token{AccessToken: makeJWT(t, exp)}); err != nil {
		t.Fatalf("Login: %v", err)
	}
	tok, err := s.Token()
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if !tok.Expiry.Equal(exp) {
		t.Fatalf("expected expiry %s, got %s", exp, tok.Expiry)
	}
}

func TestExpiredTokenForcesLogout(t *testing.T) {
	s := New(NewMemoryVault())
	var reasons []string
	s.OnLogout(func(reason string) { reasons = append(reasons, reason) })

	exp := time.Now().Add(10 * time.Second)
	if err := s.Login(User{ID: 1}, &oauth2.Token{AccessToken: "opaque", Expiry: exp}); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if _, err := s.Token(); !errors.Is(err, analysis.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized inside leeway, got %v", err)
	}
	if s.IsAuthenticated() {
		t.Fatalf("expected session cleared")
	}
	if len(reasons) != 1 || reasons[0] != ReasonExpired {
		t.Fatalf("expected one expired logout, got %v", reasons)
	}
}

func TestLogoutNotifiesOnce(t *testing.T) {
	s := New(nil)
	calls := 0
	s.OnLogout(func(string) { calls++ })
	s.LoginDemo()
	s.Logout(ReasonUnauthorized)
	s.Logout(ReasonUnauthorized)
	if calls != 1 {
		t.Fatalf("expected one notification, got %d", calls)
	}
	if s.IsDemo() {
		t.Fatalf("expected demo flag cleared")
	}
}

func TestTokenWithoutLogin(t *testing.T) {
	s := New(nil)
	if _, err := s.Token(); !errors.Is(err, analysis.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestRestoreFromFileVault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.tok")
	vault, err := NewFileVault(path, "device-secret")
	if err != nil {
		t.Fatalf("NewFileVault: %v", err)
	}
	first := New(vault)
	if err := first.Login(User{ID: 3}, &oauth2.Token{AccessToken: "abc", Expiry: time.Now().Add(time.Hour)}); err != nil {
		t.Fatalf("Login: %v", err)
	}

	second := New(vault)
	if err := second.Restore(); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	tok, err := second.Token()
	if err != nil {
		t.Fatalf("Token after restore: %v", err)
	}
	if tok.AccessToken != "abc" {
		t.Fatalf("expected restored token abc, got %q", tok.AccessToken)
	}
}
