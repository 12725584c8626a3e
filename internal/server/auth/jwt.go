// Package auth issues and verifies signed session tokens.
//
// Tokens are self-contained HS256 JWTs carrying the user id, email, and an
// expiry, nothing else. Verification is a pure function of the token string
// and the signing secret: there is no server-side session record and no
// revocation list, so a token stays valid until its embedded expiry.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dsmirnov/credvault/internal/common"
)

var (
	// ErrTokenExpired means the token verified but its expiry has passed.
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenInvalidSignature means the token was signed with a different
	// secret or the payload was altered after signing.
	ErrTokenInvalidSignature = errors.New("token signature invalid")

	// ErrTokenMalformed means the string is not a three-part signed token.
	ErrTokenMalformed = errors.New("token malformed")
)

// Payload is the claim set embedded in a session token.
type Payload struct {
	UserID string
	Email  string
}

// TokenPair bundles a short-lived access token and a long-lived refresh token.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// Claims is the wire form of Payload plus the registered expiry claim.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"userId"`
	Email  string `json:"email"`
}

// TokenService signs and verifies session tokens with a single process-wide
// secret. It is stateless and safe for concurrent use.
type TokenService struct {
	secret          []byte
	accessValidity  time.Duration
	refreshValidity time.Duration
}

func NewTokenService(secret []byte, accessValidity, refreshValidity time.Duration) *TokenService {
	return &TokenService{
		secret:          secret,
		accessValidity:  accessValidity,
		refreshValidity: refreshValidity,
	}
}

// IssueAccessToken signs p with the short access-token lifetime.
func (s *TokenService) IssueAccessToken(p Payload) (string, error) {
	return s.issue(p, s.accessValidity)
}

// IssueRefreshToken signs p with the long refresh-token lifetime.
func (s *TokenService) IssueRefreshToken(p Payload) (string, error) {
	return s.issue(p, s.refreshValidity)
}

// IssuePair issues an access and a refresh token for the same payload.
func (s *TokenService) IssuePair(p Payload) (*TokenPair, error) {
	access, err := s.IssueAccessToken(p)
	if err != nil {
		return nil, err
	}
	refresh, err := s.IssueRefreshToken(p)
	if err != nil {
		return nil, err
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

func (s *TokenService) issue(p Payload, validity time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(validity)),
		},
		UserID: p.UserID,
		Email:  p.Email,
	})

	return token.SignedString(s.secret)
}

// Verify validates the token's signature and expiry and returns its payload.
// Failures map onto the closed set ErrTokenMalformed,
// ErrTokenInvalidSignature, ErrTokenExpired; signature problems win over
// expiry.
func (s *TokenService) Verify(tokenString string) (Payload, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))

	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed):
			return Payload{}, ErrTokenMalformed
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return Payload{}, ErrTokenInvalidSignature
		case errors.Is(err, jwt.ErrTokenExpired):
			return Payload{}, ErrTokenExpired
		default:
			return Payload{}, ErrTokenMalformed
		}
	}

	if !token.Valid {
		return Payload{}, ErrTokenInvalidSignature
	}

	return Payload{UserID: claims.UserID, Email: claims.Email}, nil
}

// GenerateOpaqueToken returns a cryptographically random 256-bit value,
// hex-encoded. It is unrelated to the signing mechanism and carries no
// claims; use it for session identifiers and similar.
func (s *TokenService) GenerateOpaqueToken() (string, error) {
	return common.MakeRandHexString(32)
}
