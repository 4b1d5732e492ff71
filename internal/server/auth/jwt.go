// Package auth implements the bearer-credential gateway. A token resolves to
// the (user, device) pair it was issued for; expired, malformed, or
// wrongly-signed tokens are rejected before any sync logic runs. Token
// issuance and refresh live with the external identity provider.
package auth

import (
	"errors"
	"time"

	"github.com/frostlink/syncd/internal/common"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims carried by a sync token: the registered set plus the user and
// device the credential is bound to.
type Claims struct {
	jwt.RegisteredClaims
	UserID   string `json:"uid"`
	DeviceID string `json:"did"`
}

// Identity is the authenticated caller of a sync request.
type Identity struct {
	UserID   string
	DeviceID string
}

// GenerateToken mints an HS256 token binding a (user, device) pair for the
// given validity window. Used by tests and by deployments without an
// external issuer.
func GenerateToken(userID, deviceID string, secretKey []byte, validity time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(validity)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		UserID:   userID,
		DeviceID: deviceID,
	})

	return token.SignedString(secretKey)
}

// Authenticate validates a bearer token and returns the bound identity.
// Only HS256 is accepted; anything else counts as an unknown signer.
func Authenticate(tokenString string, secretKey []byte) (Identity, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return secretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, common.ErrTokenExpired
		}
		return Identity{}, common.ErrInvalidToken
	}

	if !token.Valid || claims.UserID == "" || claims.DeviceID == "" {
		return Identity{}, common.ErrInvalidToken
	}

	return Identity{UserID: claims.UserID, DeviceID: claims.DeviceID}, nil
}
