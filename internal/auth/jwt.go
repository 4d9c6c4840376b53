package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrExpiredToken = errors.New("token expired")
	ErrTokenRevoked = errors.New("token revoked")
)

// Claims is the payload of an MCPbox admin session JWT. PasswordVersion
// pins the token to the password that was active when it was issued: a
// password change bumps AdminUser.PasswordVersion, and any outstanding
// token stamped with the old value is rejected on its next use.
type Claims struct {
	jwt.RegisteredClaims
	Email           string `json:"email"`
	Role            string `json:"role"`
	PasswordVersion int    `json:"pv"`
}

// TokenIssuer signs and validates admin session JWTs with a fixed HMAC
// secret and access/refresh TTLs taken from config.
type TokenIssuer struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewTokenIssuer(secret string, accessTTL, refreshTTL time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), accessTTL: accessTTL, refreshTTL: refreshTTL}
}

// IssueAccessToken returns a signed JWT access token plus its JTI, so the
// caller can record it for later blacklisting on logout.
func (t *TokenIssuer) IssueAccessToken(userID, email, role string, passwordVersion int) (token string, jti string, err error) {
	jti = uuid.New().String()
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.accessTTL)),
			ID:        jti,
		},
		Email:           email,
		Role:            role,
		PasswordVersion: passwordVersion,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, jti, nil
}

// IssueRefreshToken returns a long-lived refresh token carrying no role
// claim. Login hands it out; no route accepts it in exchange for a new
// access token.
func (t *TokenIssuer) IssueRefreshToken(userID string, passwordVersion int) (token string, jti string, err error) {
	jti = uuid.New().String()
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.refreshTTL)),
			ID:        jti,
		},
		PasswordVersion: passwordVersion,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", "", fmt.Errorf("sign refresh token: %w", err)
	}
	return signed, jti, nil
}

// Parse validates signature and expiry only; it does not consult the
// blacklist (JWTProvider does that separately through its
// BlacklistChecker).
func (t *TokenIssuer) Parse(tokenString string) (*Claims, error) {
	tok, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(tok *jwt.Token) (interface{}, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, err
	}
	claims, ok := tok.Claims.(*Claims)
	if !ok || !tok.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}
