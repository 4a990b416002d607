package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v4"
)

var (
	// ErrInvalidToken covers malformed, expired and wrongly signed tokens.
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrVerifierUnavailable means the verifier could not reach its key source.
	ErrVerifierUnavailable = errors.New("auth: verifier unavailable")
)

// sessionClaims is the payload of tokens issued by the storefront login flow.
type sessionClaims struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	// Role is the legacy single-role claim; Roles takes precedence when both are set.
	Role  string   `json:"role,omitempty"`
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// SessionTokens issues and verifies HS256 session tokens.
type SessionTokens struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewSessionTokens builds an HS256 token manager. Tokens without an issuer claim are accepted when issuer is empty.
func NewSessionTokens(secret, issuer string, clock func() time.Time) (*SessionTokens, error) {
	if len(strings.TrimSpace(secret)) < 16 {
		return nil, errors.New("auth: jwt secret must be at least 16 characters")
	}
	if clock == nil {
		clock = time.Now
	}
	return &SessionTokens{
		secret: []byte(secret),
		issuer: strings.TrimSpace(issuer),
		now:    clock,
	}, nil
}

// Issue signs a token for identity valid for ttl.
func (s *SessionTokens) Issue(identity Identity, ttl time.Duration) (string, error) {
	if strings.TrimSpace(identity.UserID) == "" {
		return "", errors.New("auth: user id is required")
	}
	now := s.now().UTC()
	claims := sessionClaims{
		Email: identity.Email,
		Name:  identity.Name,
		Roles: identity.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.UserID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// Verify implements TokenVerifier.
func (s *SessionTokens) Verify(_ context.Context, token string) (*Identity, error) {
	var claims sessionClaims
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	_, err := parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	now := s.now()
	if !claims.VerifyExpiresAt(now, true) || !claims.VerifyNotBefore(now, false) {
		return nil, fmt.Errorf("%w: token expired or not yet valid", ErrInvalidToken)
	}
	if s.issuer != "" && claims.Issuer != "" && claims.Issuer != s.issuer {
		return nil, fmt.Errorf("%w: unexpected issuer %q", ErrInvalidToken, claims.Issuer)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, fmt.Errorf("%w: subject missing", ErrInvalidToken)
	}
	roles := rolesFromClaim(claims.Roles)
	if len(roles) == 0 {
		roles = rolesFromClaim(claims.Role)
	}
	if len(roles) == 0 {
		roles = []string{RoleCustomer}
	}
	return &Identity{
		UserID: claims.Subject,
		Email:  strings.ToLower(strings.TrimSpace(claims.Email)),
		Name:   claims.Name,
		Roles:  roles,
		Source: "jwt",
	}, nil
}
