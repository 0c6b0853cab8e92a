package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultTokenTTL = 12 * time.Hour
)

var (
	errMissingSigningSecret = errors.New("signing secret must be provided")
	errMissingIssuer        = errors.New("issuer must be provided")
	errMissingAudience      = errors.New("audience must be provided")
	errNonPositiveTTL       = errors.New("token ttl must be positive")

	// ErrMissingSubject is returned when an operator token carries no subject.
	ErrMissingSubject = errors.New("auth: subject claim must be provided")
	// ErrMissingAccount is returned when an operator token is not scoped to an account.
	ErrMissingAccount = errors.New("auth: account claim must be provided")
	// ErrInvalidToken wraps every parse or verification failure.
	ErrInvalidToken = errors.New("auth: invalid token")
)

// OperatorClaims identifies the operator acting on behalf of one account.
type OperatorClaims struct {
	AccountID string `json:"account_id"`
	jwt.RegisteredClaims
}

// TokenIssuerConfig configures the operator JWT issuer.
type TokenIssuerConfig struct {
	SigningSecret []byte
	Issuer        string
	Audience      string
	TokenTTL      time.Duration
	Clock         func() time.Time
}

// TokenIssuer mints and validates HS256 operator tokens.
type TokenIssuer struct {
	signingSecret []byte
	issuer        string
	audience      string
	ttl           time.Duration
	clock         func() time.Time
}

// NewTokenIssuer validates the configuration.
func NewTokenIssuer(cfg TokenIssuerConfig) (*TokenIssuer, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, errMissingSigningSecret
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		return nil, errMissingIssuer
	}
	audience := strings.TrimSpace(cfg.Audience)
	if audience == "" {
		return nil, errMissingAudience
	}
	if cfg.TokenTTL < 0 {
		return nil, errNonPositiveTTL
	}
	ttl := cfg.TokenTTL
	if ttl == 0 {
		ttl = defaultTokenTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &TokenIssuer{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		issuer:        issuer,
		audience:      audience,
		ttl:           ttl,
		clock:         clock,
	}, nil
}

// Issue produces a signed JWT and its lifetime in seconds.
func (i *TokenIssuer) Issue(subject, accountID string) (string, int64, error) {
	if strings.TrimSpace(subject) == "" {
		return "", 0, ErrMissingSubject
	}
	if strings.TrimSpace(accountID) == "" {
		return "", 0, ErrMissingAccount
	}

	now := i.clock().UTC()
	expiresAt := now.Add(i.ttl)
	claims := OperatorClaims{
		AccountID: accountID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    i.issuer,
			Audience:  []string{i.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.signingSecret)
	if err != nil {
		return "", 0, err
	}
	return signed, int64(expiresAt.Sub(now).Seconds()), nil
}

// Validate checks signature, issuer, audience and expiry, and returns the claims.
func (i *TokenIssuer) Validate(tokenString string) (OperatorClaims, error) {
	claims := &OperatorClaims{}
	_, err := jwt.ParseWithClaims(
		strings.TrimSpace(tokenString),
		claims,
		func(token *jwt.Token) (interface{}, error) {
			return i.signingSecret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(i.audience),
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.clock),
	)
	if err != nil {
		return OperatorClaims{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return OperatorClaims{}, ErrMissingSubject
	}
	if strings.TrimSpace(claims.AccountID) == "" {
		return OperatorClaims{}, ErrMissingAccount
	}
	return *claims, nil
}
