package entitlement

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// SnapshotTokenIssuer is the JWT issuer for signed subscription snapshots.
	SnapshotTokenIssuer = "stratus-subscription-sync"

	// SnapshotTokenAudience is the JWT audience for signed subscription snapshots.
	SnapshotTokenAudience = "stratus-entitlements"

	// DefaultSnapshotTokenTTL bounds how long a signed snapshot stays valid.
	DefaultSnapshotTokenTTL = 10 * time.Minute
)

var (
	ErrSnapshotPrivateKeyInvalid = errors.New("invalid snapshot signing key")
	ErrSnapshotPublicKeyInvalid  = errors.New("invalid snapshot verification key")
	ErrSnapshotTokenMissing      = errors.New("snapshot token is required")
	ErrSnapshotTokenInvalid      = errors.New("snapshot token is invalid")
)

// SnapshotClaims carry a subscription snapshot signed by the host's sync
// layer, so a resolution service can trust inbound snapshots without a
// shared transport secret.
type SnapshotClaims struct {
	Subscription Subscription `json:"subscription"`
	jwt.RegisteredClaims
}

// DecodeSnapshotPrivateKey decodes a base64-encoded Ed25519 private key.
// Both 64-byte private keys and 32-byte seeds are accepted.
func DecodeSnapshotPrivateKey(encoded string) (ed25519.PrivateKey, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, ErrSnapshotPrivateKeyInvalid
	}
	decoded, err := decodeBase64Flexible(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSnapshotPrivateKeyInvalid, err)
	}
	switch len(decoded) {
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(decoded), nil
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(decoded), nil
	default:
		return nil, fmt.Errorf("%w: expected %d or %d bytes, got %d",
			ErrSnapshotPrivateKeyInvalid, ed25519.PrivateKeySize, ed25519.SeedSize, len(decoded))
	}
}

// DecodeSnapshotPublicKey decodes a base64-encoded Ed25519 public key.
func DecodeSnapshotPublicKey(encoded string) (ed25519.PublicKey, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, ErrSnapshotPublicKeyInvalid
	}
	decoded, err := decodeBase64Flexible(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSnapshotPublicKeyInvalid, err)
	}
	if len(decoded) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d",
			ErrSnapshotPublicKeyInvalid, ed25519.PublicKeySize, len(decoded))
	}
	return ed25519.PublicKey(decoded), nil
}

// SignSnapshot signs a subscription snapshot. Zero ttl falls back to
// DefaultSnapshotTokenTTL.
func SignSnapshot(privateKey ed25519.PrivateKey, sub Subscription, now time.Time, ttl time.Duration) (string, error) {
	if len(privateKey) != ed25519.PrivateKeySize {
		return "", ErrSnapshotPrivateKeyInvalid
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	if ttl <= 0 {
		ttl = DefaultSnapshotTokenTTL
	}
	jti, err := randomJTI()
	if err != nil {
		return "", fmt.Errorf("generate snapshot jti: %w", err)
	}
	claims := SnapshotClaims{
		Subscription: Normalize(sub),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    SnapshotTokenIssuer,
			Audience:  jwt.ClaimStrings{SnapshotTokenAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        jti,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := token.SignedString(privateKey)
	if err != nil {
		return "", fmt.Errorf("sign snapshot token: %w", err)
	}
	return signed, nil
}

// VerifySnapshot verifies a signed snapshot token and returns the
// normalized subscription it carries.
func VerifySnapshot(token string, publicKey ed25519.PublicKey, now time.Time) (Subscription, error) {
	if len(publicKey) != ed25519.PublicKeySize {
		return Subscription{}, ErrSnapshotPublicKeyInvalid
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return Subscription{}, ErrSnapshotTokenMissing
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	claims := &SnapshotClaims{}
	parsed, err := jwt.ParseWithClaims(
		token,
		claims,
		func(t *jwt.Token) (any, error) {
			if t.Method.Alg() != jwt.SigningMethodEdDSA.Alg() {
				return nil, fmt.Errorf("unexpected signing method: %s", t.Method.Alg())
			}
			return publicKey, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithIssuer(SnapshotTokenIssuer),
		jwt.WithAudience(SnapshotTokenAudience),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		return Subscription{}, err
	}
	if !parsed.Valid {
		return Subscription{}, ErrSnapshotTokenInvalid
	}
	return Normalize(claims.Subscription), nil
}

func randomJTI() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func decodeBase64Flexible(encoded string) ([]byte, error) {
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err == nil {
		return decoded, nil
	}
	decoded, err = base64.RawStdEncoding.DecodeString(encoded)
	if err == nil {
		return decoded, nil
	}
	decoded, err = base64.URLEncoding.DecodeString(encoded)
	if err == nil {
		return decoded, nil
	}
	return base64.RawURLEncoding.DecodeString(encoded)
}
