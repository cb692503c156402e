package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalid = errors.New("invalid token")

// Claims identify a widget user, a backend admin, or a client service
// connection that relays keys for every user of one widget host.
type Claims struct {
	UserID   string `json:"uid"`
	Username string `json:"username,omitempty"`
	Admin    bool   `json:"admin,omitempty"`
	Service  bool   `json:"svc,omitempty"`
	jwt.RegisteredClaims
}

// MayActFor reports whether the holder may read or write userID's data.
func (c *Claims) MayActFor(userID string) bool {
	if c == nil {
		return false
	}
	return c.Admin || c.Service || (c.UserID != "" && c.UserID == userID)
}

// Generate signs claims for userID with the shared secret key.
func Generate(secret, userID, username string, admin bool, ttl time.Duration) (string, error) {
	return sign(secret, Claims{UserID: userID, Username: username, Admin: admin}, ttl)
}

// GenerateService signs a service token for the shared persistent channel.
func GenerateService(secret string, ttl time.Duration) (string, error) {
	return sign(secret, Claims{Service: true}, ttl)
}

func sign(secret string, claims Claims, ttl time.Duration) (string, error) {
	now := time.Now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func Parse(secret, tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(_ *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return nil, ErrInvalid
	}
	if claims, ok := token.Claims.(*Claims); ok {
		return claims, nil
	}
	return nil, ErrInvalid
}
