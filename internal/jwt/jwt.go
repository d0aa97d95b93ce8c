package jwt

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionToken is the session token issued by the auth provider. The user id is the subject.
type SessionToken struct {
	SessionID string `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

func (t SessionToken) UserID() string {
	return t.Subject
}

// Verifier checks provider session tokens, either HS256 with a shared secret
// or RS256 with the provider's public key.
type Verifier struct {
	secret    []byte
	publicKey *rsa.PublicKey
}

// NewVerifier prefers the public key when both are given.
func NewVerifier(secret string, publicKeyPEM string) (*Verifier, error) {
	v := &Verifier{}

	if publicKeyPEM != "" {
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(publicKeyPEM))
		if err != nil {
			return nil, fmt.Errorf("parsing auth public key: %w", err)
		}
		v.publicKey = key
		return v, nil
	}

	if secret == "" {
		return nil, errors.New("either an auth secret or an auth public key is required")
	}
	v.secret = []byte(secret)
	return v, nil
}

func (v *Verifier) keyFunc(token *jwt.Token) (interface{}, error) {
	if v.publicKey != nil {
		return v.publicKey, nil
	}
	return v.secret, nil
}

func (v *Verifier) methods() []string {
	if v.publicKey != nil {
		return []string{jwt.SigningMethodRS256.Alg()}
	}
	return []string{jwt.SigningMethodHS256.Alg()}
}

// VerifyToken checks signature and expiry, and that there is a subject.
func (v *Verifier) VerifyToken(tokenString string) (SessionToken, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionToken{}, v.keyFunc,
		jwt.WithValidMethods(v.methods()),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(5*time.Second),
	)
	if err != nil {
		return SessionToken{}, err
	}

	claims, ok := token.Claims.(*SessionToken)
	if !ok || !token.Valid {
		return SessionToken{}, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return SessionToken{}, errors.New("token has no subject")
	}
	return *claims, nil
}

// CreateToken signs an HS256 token for userID, the way the provider would.
// It only works for a secret based Verifier and is meant for tests and local development.
func (v *Verifier) CreateToken(userID string, lifetime time.Duration) (string, error) {
	if v.secret == nil {
		return "", errors.New("tokens can only be created with a shared secret")
	}

	currentTime := time.Now().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, SessionToken{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(currentTime),
			ExpiresAt: jwt.NewNumericDate(currentTime.Add(lifetime)),
		},
	})

	return token.SignedString(v.secret)
}
