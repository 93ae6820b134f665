// Package identity issues and verifies the signed tokens devices present to
// the store server.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/louisbranch/questparty/internal/platform/errors"
	"github.com/louisbranch/questparty/internal/platform/id"
)

// Issuer is the iss claim of every token.
const Issuer = "questparty"

// DefaultTTL is the lifetime of a token when none is given.
const DefaultTTL = 12 * time.Hour

// Claims is a verified device identity.
type Claims struct {
	UID         string
	DisplayName string
	ExpiresAt   time.Time
}

type tokenClaims struct {
	jwt.RegisteredClaims
	UID  string `json:"uid"`
	Name string `json:"name,omitempty"`
}

// Signer issues tokens.
type Signer struct {
	secret []byte
	now    func() time.Time
}

// NewSigner builds a signer from an HMAC secret.
func NewSigner(secret string, now func() time.Time) (*Signer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("identity secret is required")
	}
	if now == nil {
		now = time.Now
	}
	return &Signer{secret: []byte(secret), now: now}, nil
}

// Issue signs a token for uid.
func (s *Signer) Issue(uid, displayName string, ttl time.Duration) (string, error) {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return "", apperrors.New(apperrors.CodeInvalidArgument, "uid is required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	jti, err := id.NewID()
	if err != nil {
		return "", err
	}
	now := s.now().UTC()
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   uid,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UID:  uid,
		Name: strings.TrimSpace(displayName),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign identity token: %w", err)
	}
	return token, nil
}

// Verifier checks tokens.
type Verifier struct {
	secret []byte
	now    func() time.Time
}

// NewVerifier builds a verifier from the same secret the signer uses.
func NewVerifier(secret string, now func() time.Time) (*Verifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("identity secret is required")
	}
	if now == nil {
		now = time.Now
	}
	return &Verifier{secret: []byte(secret), now: now}, nil
}

// Verify parses token and checks signature, issuer and expiry.
func (v *Verifier) Verify(token string) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, apperrors.New(apperrors.CodePermissionDenied, "identity token is required")
	}
	var parsed tokenClaims
	_, err := jwt.ParseWithClaims(token, &parsed, func(*jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return Claims{}, mapJWTError(err)
	}
	if parsed.Issuer != Issuer {
		return Claims{}, apperrors.WithMetadata(apperrors.CodePermissionDenied, "identity token issuer mismatch", map[string]string{"Field": "iss"})
	}
	if parsed.ExpiresAt == nil {
		return Claims{}, apperrors.New(apperrors.CodePermissionDenied, "identity token exp is required")
	}
	exp := parsed.ExpiresAt.Time.UTC()
	if !exp.After(v.now().UTC()) {
		return Claims{}, apperrors.New(apperrors.CodePermissionDenied, "identity token is expired")
	}
	if strings.TrimSpace(parsed.UID) == "" {
		return Claims{}, apperrors.New(apperrors.CodePermissionDenied, "identity token uid is required")
	}
	return Claims{UID: parsed.UID, DisplayName: parsed.Name, ExpiresAt: exp}, nil
}

// Authenticate resolves a bearer token to its uid.
func (v *Verifier) Authenticate(_ context.Context, token string) (string, error) {
	claims, err := v.Verify(token)
	if err != nil {
		return "", err
	}
	return claims.UID, nil
}

func mapJWTError(err error) error {
	if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
		return apperrors.New(apperrors.CodePermissionDenied, "identity token signature is invalid")
	}
	if errors.Is(err, jwt.ErrTokenUnverifiable) {
		return apperrors.New(apperrors.CodePermissionDenied, "identity token alg is invalid")
	}
	return apperrors.New(apperrors.CodePermissionDenied, "identity token is invalid")
}
