package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/crypto/bcrypt"
)

func hashPassword(p string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(p), bcrypt.DefaultCost)
	return string(b), err
}

func comparePassword(hash, p string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(p)) == nil
}

// UserStore is the credential lookup contract the auth service needs.
type UserStore interface {
	// CreateUser fails with ErrConflict if the email is taken.
	CreateUser(ctx context.Context, email, passwordHash string) (*User, error)
	// GetUserByEmail fails with ErrNotFound if the email is unknown.
	GetUserByEmail(ctx context.Context, email string) (*User, error)
}

// AuthResult is what Authenticate hands to the HTTP middleware. When
// Refreshed is set, Token is a replacement for the one the client sent
// and must be surfaced back to it.
type AuthResult struct {
	Token     string
	UserID    string
	Refreshed bool
}

// AuthService orchestrates signup/login against the user store and
// token issuance/verification against the token service. It is the only
// component the HTTP boundary talks to.
type AuthService struct {
	users  UserStore
	tokens *TokenService
	dual   bool // issue refresh tokens alongside access tokens
	logger *slog.Logger
}

func NewAuthService(users UserStore, tokens *TokenService, dual bool, logger *slog.Logger) *AuthService {
	return &AuthService{users: users, tokens: tokens, dual: dual, logger: logger}
}

// Signup creates the account and issues its first token(s). User
// creation is not rolled back if issuance fails; the client can simply
// log in.
func (a *AuthService) Signup(ctx context.Context, email, password string) (*TokenPair, error) {
	hash, err := hashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	if _, err := a.users.CreateUser(ctx, email, hash); err != nil {
		return nil, err
	}
	a.logger.Info("user signed up", "email", email)
	return a.issue(ctx, email)
}

// Login verifies the password and issues fresh tokens, which revokes
// any previously active ones.
func (a *AuthService) Login(ctx context.Context, email, password string) (*TokenPair, error) {
	user, err := a.users.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if !comparePassword(user.Password, password) {
		return nil, ErrInvalidCredentials
	}
	return a.issue(ctx, email)
}

// Authenticate verifies a bearer token. An expired token is replaced
// transparently: the caller gets a brand-new token and is responsible
// for surfacing it to the client. Any other failure propagates.
func (a *AuthService) Authenticate(ctx context.Context, token string) (*AuthResult, error) {
	claims, err := a.tokens.Verify(ctx, token)
	if err == nil {
		if _, uerr := a.users.GetUserByEmail(ctx, claims.Subject); uerr != nil {
			return nil, uerr
		}
		return &AuthResult{Token: token, UserID: claims.Subject}, nil
	}
	if !errors.Is(err, ErrExpired) {
		return nil, err
	}

	a.logger.Info("token expired, reissuing")
	newToken, userID, err := a.reissue(ctx, token)
	if err != nil {
		return nil, err
	}
	return &AuthResult{Token: newToken, UserID: userID, Refreshed: true}, nil
}

// Refresh is the explicit variant of the expiry-triggered path: decode
// the owner without verification, confirm the account still exists and
// issue a new access token.
func (a *AuthService) Refresh(ctx context.Context, token string) (string, error) {
	newToken, _, err := a.reissue(ctx, token)
	return newToken, err
}

// Logout revokes the presented token.
func (a *AuthService) Logout(ctx context.Context, token string) error {
	return a.tokens.Revoke(ctx, token)
}

func (a *AuthService) reissue(ctx context.Context, oldToken string) (string, string, error) {
	userID, err := a.tokens.UserIDFromToken(oldToken)
	if err != nil {
		return "", "", err
	}
	if _, err := a.users.GetUserByEmail(ctx, userID); err != nil {
		return "", "", err
	}
	newToken, err := a.tokens.Generate(ctx, userID, PurposeAccess)
	if err != nil {
		return "", "", err
	}
	return newToken, userID, nil
}

func (a *AuthService) issue(ctx context.Context, email string) (*TokenPair, error) {
	access, err := a.tokens.Generate(ctx, email, PurposeAccess)
	if err != nil {
		return nil, err
	}
	pair := &TokenPair{AccessToken: access}
	if a.dual {
		refresh, err := a.tokens.Generate(ctx, email, PurposeRefresh)
		if err != nil {
			return nil, err
		}
		pair.RefreshToken = refresh
	}
	return pair, nil
}
