// Package auth implements the Token Authority: stateless issuance and
// verification of HMAC-signed access and refresh tokens.
//
// Claims carry a subject (username), an optional device-id, issued-at and
// expires-at timestamps, and a token-kind distinguishing access from
// refresh tokens. Verification never consults any server-side store — the
// signature and the embedded expiry are the only source of truth, which
// matters on a resource-constrained device that should not need a session
// database.
package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Kind distinguishes access tokens from refresh tokens.
type Kind string

const (
	// KindAccess marks a short-lived token authorizing API calls.
	KindAccess Kind = "access"
	// KindRefresh marks a long-lived token used only to mint new access
	// tokens.
	KindRefresh Kind = "refresh"
)

// ErrorKind classifies why VerifyAccess or Refresh rejected a token.
type ErrorKind int

const (
	// ErrMalformed means the token could not be parsed or its signature did
	// not verify.
	ErrMalformed ErrorKind = iota
	// ErrExpired means the token parsed and verified but its expires-at has
	// passed.
	ErrExpired
	// ErrWrongKind means the token verified but carries the wrong
	// token-kind for the operation (e.g. an access token presented where a
	// refresh token was required, or vice versa).
	ErrWrongKind
)

func (k ErrorKind) String() string {
	switch k {
	case ErrMalformed:
		return "malformed"
	case ErrExpired:
		return "expired"
	case ErrWrongKind:
		return "wrong-kind"
	default:
		return "unknown"
	}
}

// VerifyError is returned by VerifyAccess and Refresh on rejection. Callers
// at the protocol boundary surface Kind as the auth-error reason.
type VerifyError struct {
	Kind ErrorKind
	Err  error
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("auth: %s: %v", e.Kind, e.Err)
}

func (e *VerifyError) Unwrap() error { return e.Err }

// Claims is the decoded payload of a signed token.
type Claims struct {
	Subject   string
	DeviceID  string
	IssuedAt  int64
	ExpiresAt int64
	Kind      Kind
}

// jwtClaims is the wire shape signed by golang-jwt. It embeds the library's
// RegisteredClaims for sub/iat/exp handling and adds the two private claims
// the Token Authority needs.
type jwtClaims struct {
	jwt.RegisteredClaims
	TokenKind Kind   `json:"tkn"`
	DeviceID  string `json:"did,omitempty"`
}

// TokenPair bundles an access token, a refresh token, and the access
// token's lifetime in seconds. Opaque to clients; returned from login and
// refresh.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
}

// Authority issues and verifies token pairs. Zero value is not usable;
// construct with New.
type Authority struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// minSecretLen is the minimum HMAC secret length the Authority accepts,
// matching common HS256 key-size guidance.
const minSecretLen = 32

// New constructs an Authority. secret must be at least 32 bytes; pass nil to
// have New generate an ephemeral random secret (tokens will not verify
// across a process restart). accessTTL and refreshTTL default to 900s and
// 604800s respectively when zero.
func New(secret []byte, accessTTL, refreshTTL time.Duration) (*Authority, error) {
	if accessTTL <= 0 {
		accessTTL = 900 * time.Second
	}
	if refreshTTL <= 0 {
		refreshTTL = 604800 * time.Second
	}

	if secret == nil {
		generated := make([]byte, minSecretLen)
		if _, err := rand.Read(generated); err != nil {
			return nil, fmt.Errorf("auth: generate ephemeral secret: %w", err)
		}
		secret = generated
	}
	if len(secret) < minSecretLen {
		return nil, fmt.Errorf("auth: secret must be at least %d bytes, got %d", minSecretLen, len(secret))
	}

	return &Authority{
		secret:     secret,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}, nil
}

// Issue produces a fresh access/refresh pair for username, optionally bound
// to deviceID. The only failure mode is the underlying signing library
// failing, which is fatal (a misconfigured or corrupted secret).
func (a *Authority) Issue(username, deviceID string) (TokenPair, error) {
	now := time.Now()

	access, err := a.sign(username, deviceID, KindAccess, now, a.accessTTL)
	if err != nil {
		return TokenPair{}, fmt.Errorf("auth: issue access token: %w", err)
	}
	refresh, err := a.sign(username, deviceID, KindRefresh, now, a.refreshTTL)
	if err != nil {
		return TokenPair{}, fmt.Errorf("auth: issue refresh token: %w", err)
	}

	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(a.accessTTL.Seconds()),
	}, nil
}

func (a *Authority) sign(username, deviceID string, kind Kind, issuedAt time.Time, ttl time.Duration) (string, error) {
	claims := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
		},
		TokenKind: kind,
		DeviceID:  deviceID,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// VerifyAccess parses and verifies token, asserting token-kind = access.
// Returns a *VerifyError with Kind one of ErrMalformed, ErrExpired,
// ErrWrongKind on rejection.
func (a *Authority) VerifyAccess(token string) (Claims, error) {
	return a.verify(token, KindAccess)
}

// verifyRefresh parses and verifies token, asserting token-kind = refresh.
func (a *Authority) verifyRefresh(token string) (Claims, error) {
	return a.verify(token, KindRefresh)
}

func (a *Authority) verify(token string, want Kind) (Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &jwtClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, &VerifyError{Kind: ErrExpired, Err: err}
		}
		return Claims{}, &VerifyError{Kind: ErrMalformed, Err: err}
	}

	claims, ok := parsed.Claims.(*jwtClaims)
	if !ok || !parsed.Valid {
		return Claims{}, &VerifyError{Kind: ErrMalformed, Err: fmt.Errorf("unexpected claims type")}
	}
	if claims.TokenKind != want {
		return Claims{}, &VerifyError{Kind: ErrWrongKind, Err: fmt.Errorf("expected %s token, got %s", want, claims.TokenKind)}
	}

	var issuedAt, expiresAt int64
	if claims.IssuedAt != nil {
		issuedAt = claims.IssuedAt.Unix()
	}
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Unix()
	}

	return Claims{
		Subject:   claims.Subject,
		DeviceID:  claims.DeviceID,
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
		Kind:      claims.TokenKind,
	}, nil
}

// Refresh verifies refreshToken and, if valid, issues a fresh token pair
// preserving the original subject and device-id.
func (a *Authority) Refresh(refreshToken string) (TokenPair, error) {
	claims, err := a.verifyRefresh(refreshToken)
	if err != nil {
		return TokenPair{}, err
	}
	return a.Issue(claims.Subject, claims.DeviceID)
}

// Verifier validates a username/password pair against a credential store.
// The default implementation (AllowAny) accepts any non-empty pair and is
// meant only for development; production deployments inject a real one.
type Verifier interface {
	Verify(username, password string) bool
}

// VerifierFunc adapts a plain function to the Verifier interface.
type VerifierFunc func(username, password string) bool

// Verify calls f(username, password).
func (f VerifierFunc) Verify(username, password string) bool { return f(username, password) }

// AllowAny is the default Verifier: it accepts any non-empty
// username/password pair. Suitable for development only.
var AllowAny Verifier = VerifierFunc(func(username, password string) bool {
	return username != "" && password != ""
})
