// internal/auth/session.go
package auth

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrUnauthenticated is returned for missing, expired or forged tokens.
var ErrUnauthenticated = errors.New("unauthenticated")

// privateKey and publicKey sign and verify session tokens.
var (
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey

	// tokenTTL is the session lifetime; 0 means tokens carry no exp claim.
	tokenTTL time.Duration
)

// Claims identify the participant behind a session.
type Claims struct {
	UserID uuid.UUID
	Name   string
}

// Init generates a fresh ed25519 key pair at runtime. Tokens do not survive a restart.
func Init(ttl time.Duration) error {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return fmt.Errorf("failed to generate ed25519 key pair: %w", err)
	}
	publicKey, privateKey, tokenTTL = pub, priv, ttl
	return nil
}

// InitFromPath reads a raw ed25519 key pair from disk.
func InitFromPath(privatePath, publicPath string, ttl time.Duration) error {
	privateKeyData, err := os.ReadFile(privatePath)
	if err != nil {
		return fmt.Errorf("failed to read private key file: %w", err)
	}
	publicKeyData, err := os.ReadFile(publicPath)
	if err != nil {
		return fmt.Errorf("failed to read public key file: %w", err)
	}
	if len(privateKeyData) != ed25519.PrivateKeySize || len(publicKeyData) != ed25519.PublicKeySize {
		return fmt.Errorf("ed25519 key files have the wrong size")
	}

	privateKey = ed25519.PrivateKey(privateKeyData)
	publicKey = ed25519.PublicKey(publicKeyData)
	tokenTTL = ttl
	return nil
}

// TokenTTL is the configured session lifetime.
func TokenTTL() time.Duration {
	return tokenTTL
}

// CreateJWT signs a token with "sub" = userID and "name" = display name.
func CreateJWT(userID uuid.UUID, name string) (string, error) {
	if privateKey == nil {
		return "", errors.New("auth keys not initialized")
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  userID.String(),
		"name": name,
		"iat":  now.Unix(),
	}
	if tokenTTL > 0 {
		claims["exp"] = now.Add(tokenTTL).Unix()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	return token.SignedString(privateKey)
}

// AuthenticateJWT verifies a token and returns its claims.
func AuthenticateJWT(tokenString string) (Claims, error) {
	if tokenString == "" {
		return Claims{}, fmt.Errorf("%w: missing token", ErrUnauthenticated)
	}
	t, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return publicKey, nil
	})
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	claims, ok := t.Claims.(jwt.MapClaims)
	if !ok || !t.Valid {
		return Claims{}, fmt.Errorf("%w: invalid token", ErrUnauthenticated)
	}

	sub, _ := claims["sub"].(string)
	userID, err := uuid.Parse(sub)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: invalid sub in token", ErrUnauthenticated)
	}
	name, _ := claims["name"].(string)
	return Claims{UserID: userID, Name: name}, nil
}
