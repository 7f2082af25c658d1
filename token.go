package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenStore is the persistence contract the token service needs.
// Storing every issued token is what makes revocation of an otherwise
// still cryptographically valid token possible.
type TokenStore interface {
	// ReplaceActiveToken revokes every non-revoked record for
	// (email, purpose) and inserts the new token, atomically.
	ReplaceActiveToken(ctx context.Context, email string, purpose TokenPurpose, token string) error
	GetToken(ctx context.Context, token string) (*TokenRecord, error)
	// RevokeToken marks a record revoked. Already-revoked records are
	// left alone so concurrent revocations are idempotent.
	RevokeToken(ctx context.Context, token string) error
	RevokeAllTokens(ctx context.Context, email string, purpose TokenPurpose) error
}

// PurposeConfig carries the signing material for one token purpose.
type PurposeConfig struct {
	Secret []byte
	TTL    time.Duration
}

// TokenService issues and verifies signed, time-limited tokens while
// keeping at most one valid token per (user, purpose).
type TokenService struct {
	issuer   string
	purposes map[TokenPurpose]PurposeConfig
	store    TokenStore
	logger   *slog.Logger
	now      func() time.Time
}

func NewTokenService(issuer string, purposes map[TokenPurpose]PurposeConfig, store TokenStore, logger *slog.Logger) *TokenService {
	return &TokenService{
		issuer:   issuer,
		purposes: purposes,
		store:    store,
		logger:   logger,
		now:      time.Now,
	}
}

// Generate signs a new token for userID and replaces the previously
// active record for the same purpose. The token is not returned unless
// the store replacement succeeded; an unrecorded token could never
// verify anyway.
func (s *TokenService) Generate(ctx context.Context, userID string, purpose TokenPurpose) (string, error) {
	pc, ok := s.purposes[purpose]
	if !ok {
		return "", fmt.Errorf("unknown token purpose %q", purpose)
	}

	now := s.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			// jti keeps two tokens minted within the same second from
			// colliding on the token string.
			ID:        uuid.NewString(),
			Issuer:    s.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(pc.TTL)),
		},
		Use: string(purpose),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(pc.Secret)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", purpose, err)
	}

	if err := s.store.ReplaceActiveToken(ctx, userID, purpose, signed); err != nil {
		return "", fmt.Errorf("persist %s token: %w", purpose, err)
	}

	s.logger.Info("issued token", "user", userID, "purpose", purpose)
	return signed, nil
}

// Verify checks the token against the store first (revocation wins over
// cryptographic validity), then against the purpose's secret. A token
// failing cryptographic verification is revoked on the spot so it can
// never succeed later.
func (s *TokenService) Verify(ctx context.Context, token string) (*Claims, error) {
	rec, err := s.store.GetToken(ctx, token)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("token record: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("lookup token: %w", err)
	}
	if rec.Revoked {
		return nil, ErrRevoked
	}

	pc, ok := s.purposes[rec.Purpose]
	if !ok {
		return nil, fmt.Errorf("%w: purpose %q not configured", ErrVerificationFailed, rec.Purpose)
	}

	claims := &Claims{}
	_, err = jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return pc.Secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		if revokeErr := s.store.RevokeToken(ctx, token); revokeErr != nil {
			s.logger.Error("revoking failed token", "user", rec.Email, "error", revokeErr)
		}
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, fmt.Errorf("%w: %s", ErrVerificationFailed, err)
	}

	return claims, nil
}

// UserIDFromToken decodes the subject without verifying signature or
// expiry. It exists only so the refresh path can find the owner of an
// expired token; never use it for authorization.
func (s *TokenService) UserIDFromToken(token string) (string, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", fmt.Errorf("%w: %s", ErrVerificationFailed, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: token has no subject", ErrVerificationFailed)
	}
	return claims.Subject, nil
}

// Revoke marks the presented token permanently invalid.
func (s *TokenService) Revoke(ctx context.Context, token string) error {
	return s.store.RevokeToken(ctx, token)
}
