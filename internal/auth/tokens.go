package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/curibio/cloud-core/internal/models"
	"github.com/curibio/cloud-core/internal/scopes"
)

const (
	Issuer = "curibio.com"

	AccessTTL  = 5 * time.Minute
	RefreshTTL = 30 * time.Minute
	AccountTTL = 24 * time.Hour
)

var (
	ErrMissingUserID    = errors.New("user tokens must carry a userid")
	ErrUserIDOnAdmin    = errors.New("admin tokens must not carry a userid")
	ErrAdminScopeOnUser = errors.New("user tokens cannot carry admin scopes")
	ErrAccountToken     = errors.New("account tokens must carry exactly one account scope and no fingerprint")
	ErrRefreshScopes    = errors.New("refresh tokens carry only the refresh scope")
)

type Claims struct {
	CustomerID  uuid.UUID          `json:"customer_id"`
	UserID      *uuid.UUID         `json:"userid,omitempty"`
	AccountType models.AccountType `json:"account_type"`
	Scopes      []scopes.Scope     `json:"scopes"`
	Fingerprint string             `json:"fgp,omitempty"`
	Refresh     bool               `json:"refresh,omitempty"`
	jwt.RegisteredClaims
}

// AccountID is the row the token acts as: the customer for admins, the
// user for users.
func (c *Claims) AccountID() uuid.UUID {
	if c.AccountType == models.AccountTypeAdmin || c.UserID == nil {
		return c.CustomerID
	}
	return *c.UserID
}

func (c *Claims) HasScope(s scopes.Scope) bool {
	for _, have := range c.Scopes {
		if have == s {
			return true
		}
	}
	return false
}

// TokenParams describes the token to mint. Fingerprint is the already
// hashed value; the plain half travels in a cookie, never in the token.
type TokenParams struct {
	CustomerID  uuid.UUID
	UserID      *uuid.UUID
	AccountType models.AccountType
	Scopes      []scopes.Scope
	Fingerprint string
	Refresh     bool
}

type TokenService struct {
	secret   []byte
	audience string
}

func NewTokenService(secret, audience string) *TokenService {
	return &TokenService{secret: []byte(secret), audience: audience}
}

// Create mints a signed token after enforcing the shape rules: user
// tokens name a userid and never carry admin scopes, admin tokens never
// name a userid, account tokens are single-scope and fingerprint-free,
// refresh tokens carry only the refresh scope.
func (s *TokenService) Create(p TokenParams) (string, error) {
	ttl := AccessTTL

	if p.Refresh {
		if len(p.Scopes) != 0 {
			return "", ErrRefreshScopes
		}
		p.Scopes = []scopes.Scope{scopes.Refresh}
		ttl = RefreshTTL
	}

	accountScoped := false
	for _, sc := range p.Scopes {
		if !sc.Valid() {
			return "", &scopes.InvalidScopeError{Raw: string(sc)}
		}
		if sc.IsAccount() {
			accountScoped = true
		}
	}

	if accountScoped {
		if len(p.Scopes) != 1 || p.Fingerprint != "" {
			return "", ErrAccountToken
		}
		ttl = AccountTTL
	}

	switch p.AccountType {
	case models.AccountTypeUser:
		if p.UserID == nil {
			return "", ErrMissingUserID
		}
		if !p.Refresh && !accountScoped {
			for _, sc := range p.Scopes {
				if sc.IsAdmin() {
					return "", ErrAdminScopeOnUser
				}
			}
		}
	case models.AccountTypeAdmin:
		if p.UserID != nil {
			return "", ErrUserIDOnAdmin
		}
	default:
		return "", fmt.Errorf("unknown account type %q", p.AccountType)
	}

	now := time.Now()
	claims := &Claims{
		CustomerID:  p.CustomerID,
		UserID:      p.UserID,
		AccountType: p.AccountType,
		Scopes:      p.Scopes,
		Fingerprint: p.Fingerprint,
		Refresh:     p.Refresh,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Audience:  jwt.ClaimStrings{s.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Decode verifies signature, audience and expiry. Any failure collapses
// into the returned error; callers respond 401 without detail.
func (s *TokenService) Decode(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims,
		func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithAudience(s.audience),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// TokenPair is what login and refresh hand back. The plain fingerprint
// goes out as a secure cookie; both tokens embed its SHA-256.
type TokenPair struct {
	Access      string
	Refresh     string
	Fingerprint string
}

// CreatePair mints a matching access and refresh token sharing one fresh
// fingerprint.
func (s *TokenService) CreatePair(customerID uuid.UUID, userID *uuid.UUID, accountType models.AccountType, scopeSet []scopes.Scope) (*TokenPair, error) {
	plain, hashed, err := NewFingerprint()
	if err != nil {
		return nil, err
	}

	access, err := s.Create(TokenParams{
		CustomerID:  customerID,
		UserID:      userID,
		AccountType: accountType,
		Scopes:      scopeSet,
		Fingerprint: hashed,
	})
	if err != nil {
		return nil, err
	}

	refresh, err := s.Create(TokenParams{
		CustomerID:  customerID,
		UserID:      userID,
		AccountType: accountType,
		Fingerprint: hashed,
		Refresh:     true,
	})
	if err != nil {
		return nil, err
	}

	return &TokenPair{Access: access, Refresh: refresh, Fingerprint: plain}, nil
}

// NewFingerprint returns a random 128-bit value and its hex SHA-256.
func NewFingerprint() (plain, hashed string, err error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("generate fingerprint: %w", err)
	}
	plain = hex.EncodeToString(buf)
	return plain, HashFingerprint(plain), nil
}

func HashFingerprint(plain string) string {
	h := sha256.Sum256([]byte(plain))
	return hex.EncodeToString(h[:])
}
