package auth

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the decoded fields of a verified bearer token. The identity
// provider encodes org permissions as a delimited authority string, for
// example "organization:123456789:read organization:987654321:admin".
// Only the signature and expiry are verified here; UserName may be empty
// for tokens that only ever read, and writes enforce it at the handler.
type Claims struct {
	Authorities string `json:"authorities"`
	UserName    string `json:"user_name"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	jwt.RegisteredClaims
}

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

// IssueToken signs claims with HS256. Used by tests and local tooling; in
// production tokens come from the identity provider.
func IssueToken(secret []byte, claims Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", err
	}
	return signed, nil
}

func ParseToken(secret []byte, raw string) (Claims, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrExpiredToken
		}
		return Claims{}, ErrInvalidToken
	}
	if !token.Valid {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}
