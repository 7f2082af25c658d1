package main

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenPurpose is the functional role of an issued token.
type TokenPurpose string

const (
	PurposeAccess  TokenPurpose = "access"
	PurposeRefresh TokenPurpose = "refresh"
)

// User represents a registered account.
type User struct {
	ID        int64
	Email     string
	Password  string // bcrypt hash
	CreatedAt time.Time
}

// TokenRecord is one issued signed token. Records are never deleted,
// only revoked, so the table doubles as an audit trail. At most one
// record per (email, purpose) may have Revoked == false.
type TokenRecord struct {
	ID        int64
	Email     string
	Purpose   TokenPurpose
	Token     string
	Revoked   bool
	CreatedAt time.Time
}

// Claims is the payload encoded inside a signed token.
type Claims struct {
	jwt.RegisteredClaims
	Use string `json:"use"`
}

// Country is a read-only reference record served by the listing API.
type Country struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Timezone string `json:"timezone"`
	Code     string `json:"code"`
	Offset   int    `json:"offset"`
}

// TokenPair is what signup/login hand back to the client. RefreshToken
// is only set when the service runs in dual-token mode.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
}
