// Package auth authenticates API callers by access token.
//
// Tokens are issued by the identity service the ledger trusts. The ledger only
// checks the signature and takes the user id from the subject claim.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/nkiryanov/depositledger/internal/apperrors"
	"github.com/nkiryanov/depositledger/internal/models"
)

const (
	defaultAccessTokenTTL = 15 * time.Minute
	defaultSigningMethod  = "HS256"
)

type AccessTokenClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
}

type IssuedToken struct {
	Value     string
	ExpiresAt time.Time
}

// Token manager with sensible default
type Config struct {
	// Secret key to sign access token
	// Required to be set
	SecretKey string

	// JWT MAC (Message Authentication Code) algorithm
	// If not set than default is used
	Alg string

	// Access token lifetime
	// If not set than default is used
	AccessTTL time.Duration
}

type TokenManager struct {
	key       string
	alg       jwt.SigningMethod
	accessTTL time.Duration
}

func New(cfg Config) (*TokenManager, error) {
	if cfg.SecretKey == "" {
		return nil, fmt.Errorf("secret key must not be empty: %w", apperrors.ErrConfiguration)
	}

	if cfg.Alg == "" {
		cfg.Alg = defaultSigningMethod
	}
	alg := jwt.GetSigningMethod(cfg.Alg)
	if alg == nil {
		return nil, fmt.Errorf("unknown signing method %q: %w", cfg.Alg, apperrors.ErrConfiguration)
	}

	if cfg.AccessTTL == 0 {
		cfg.AccessTTL = defaultAccessTokenTTL
	}

	return &TokenManager{
		key:       cfg.SecretKey,
		alg:       alg,
		accessTTL: cfg.AccessTTL,
	}, nil
}

// Issue access token for user. Used by tooling and tests, production tokens come from the identity service
func (m *TokenManager) Issue(user models.User) (IssuedToken, error) {
	var token IssuedToken
	now := time.Now().Truncate(time.Second)
	expiresAt := now.Add(m.accessTTL)

	accessToken := jwt.NewWithClaims(
		m.alg,
		AccessTokenClaims{
			RegisteredClaims: jwt.RegisteredClaims{
				ID:        uuid.NewString(),
				Subject:   user.ID,
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(expiresAt),
			},
			Email: user.Email,
		},
	)
	access, err := accessToken.SignedString([]byte(m.key))
	if err != nil {
		return token, fmt.Errorf("error while signing access token. Err: %w", err)
	}

	return IssuedToken{Value: access, ExpiresAt: expiresAt}, nil
}

// Parse and validate access token
func (m *TokenManager) ParseAccess(access string) (models.User, error) {
	claims := &AccessTokenClaims{}

	_, err := jwt.ParseWithClaims(
		access,
		claims,
		func(t *jwt.Token) (any, error) {
			return []byte(m.key), nil
		},
		jwt.WithValidMethods([]string{m.alg.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return models.User{}, fmt.Errorf("error while parsing or validating token. Err: %w", errors.Join(apperrors.ErrUnauthorized, err))
	}

	if claims.Subject == "" || strings.Contains(claims.Subject, "/") {
		return models.User{}, fmt.Errorf("token subject %q is not a user id: %w", claims.Subject, apperrors.ErrUnauthorized)
	}

	return models.User{ID: claims.Subject, Email: claims.Email}, nil
}

// Authenticate request by its bearer token
func (m *TokenManager) Auth(_ context.Context, r *http.Request) (models.User, error) {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return models.User{}, apperrors.ErrUnauthorized
	}

	return m.ParseAccess(strings.TrimSpace(token))
}
