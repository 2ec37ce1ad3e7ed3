package auth_test

import (
	"testing"
	"time"

	"github.com/firasghr/pibox-server/auth"
)

func newTestAuthority(t *testing.T) *auth.Authority {
	t.Helper()
	secret := make([]byte, 32)
	for i := range secret {
		secret[i] = byte(i)
	}
	a, err := auth.New(secret, time.Second, time.Hour)
	if err != nil {
		t.Fatalf("auth.New: %v", err)
	}
	return a
}

func TestTokenRoundTrip(t *testing.T) {
	a := newTestAuthority(t)

	pair, err := a.Issue("alice", "device-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("expected non-empty tokens")
	}

	claims, err := a.VerifyAccess(pair.AccessToken)
	if err != nil {
		t.Fatalf("VerifyAccess: %v", err)
	}
	if claims.Subject != "alice" {
		t.Errorf("got subject %q, want alice", claims.Subject)
	}
	if claims.DeviceID != "device-1" {
		t.Errorf("got device-id %q, want device-1", claims.DeviceID)
	}
	if claims.Kind != auth.KindAccess {
		t.Errorf("got kind %q, want access", claims.Kind)
	}
}

func TestCrossKindRejection(t *testing.T) {
	a := newTestAuthority(t)

	pair, err := a.Issue("bob", "")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	_, err = a.VerifyAccess(pair.RefreshToken)
	if err == nil {
		t.Fatal("expected VerifyAccess to reject a refresh token")
	}
	verr, ok := err.(*auth.VerifyError)
	if !ok {
		t.Fatalf("expected *auth.VerifyError, got %T", err)
	}
	if verr.Kind != auth.ErrWrongKind {
		t.Errorf("got error kind %v, want wrong-kind", verr.Kind)
	}
}

func TestRefreshPreservesIdentity(t *testing.T) {
	a := newTestAuthority(t)

	pair, err := a.Issue("carol", "dev-42")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	fresh, err := a.Refresh(pair.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	claims, err := a.VerifyAccess(fresh.AccessToken)
	if err != nil {
		t.Fatalf("VerifyAccess: %v", err)
	}
	if claims.Subject != "carol" {
		t.Errorf("got subject %q, want carol", claims.Subject)
	}
	if claims.DeviceID != "dev-42" {
		t.Errorf("got device-id %q, want dev-42", claims.DeviceID)
	}
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	a := newTestAuthority(t)

	pair, err := a.Issue("dave", "")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	_, err = a.Refresh(pair.AccessToken)
	if err == nil {
		t.Fatal("expected Refresh to reject an access token")
	}
	verr, ok := err.(*auth.VerifyError)
	if !ok {
		t.Fatalf("expected *auth.VerifyError, got %T", err)
	}
	if verr.Kind != auth.ErrWrongKind {
		t.Errorf("got error kind %v, want wrong-kind", verr.Kind)
	}
}

func TestVerifyAccessExpired(t *testing.T) {
	a := newTestAuthority(t)

	pair, err := a.Issue("erin", "")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	time.Sleep(1100 * time.Millisecond) // access TTL is 1s in this test authority

	_, err = a.VerifyAccess(pair.AccessToken)
	if err == nil {
		t.Fatal("expected expired access token to fail verification")
	}
	verr, ok := err.(*auth.VerifyError)
	if !ok {
		t.Fatalf("expected *auth.VerifyError, got %T", err)
	}
	if verr.Kind != auth.ErrExpired {
		t.Errorf("got error kind %v, want expired", verr.Kind)
	}
}

func TestVerifyAccessMalformed(t *testing.T) {
	a := newTestAuthority(t)

	_, err := a.VerifyAccess("not-a-jwt")
	if err == nil {
		t.Fatal("expected malformed token to fail verification")
	}
	verr, ok := err.(*auth.VerifyError)
	if !ok {
		t.Fatalf("expected *auth.VerifyError, got %T", err)
	}
	if verr.Kind != auth.ErrMalformed {
		t.Errorf("got error kind %v, want malformed", verr.Kind)
	}
}

func TestNewRejectsShortSecret(t *testing.T) {
	_, err := auth.New([]byte("too-short"), 0, 0)
	if err == nil {
		t.Fatal("expected error for short secret")
	}
}

func TestNewGeneratesEphemeralSecret(t *testing.T) {
	a, err := auth.New(nil, 0, 0)
	if err != nil {
		t.Fatalf("auth.New: %v", err)
	}
	pair, err := a.Issue("frank", "")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := a.VerifyAccess(pair.AccessToken); err != nil {
		t.Fatalf("VerifyAccess with ephemeral secret: %v", err)
	}
}

func TestAllowAnyVerifier(t *testing.T) {
	if auth.AllowAny.Verify("", "pw") {
		t.Error("expected empty username to be rejected")
	}
	if auth.AllowAny.Verify("user", "") {
		t.Error("expected empty password to be rejected")
	}
	if !auth.AllowAny.Verify("user", "pw") {
		t.Error("expected non-empty pair to be accepted")
	}
}
