package token

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/noteforge/noteforge/internal/models"
	"github.com/noteforge/noteforge/pkg/config"
)

// Type discriminates access tokens from refresh tokens. Each type is signed
// with its own secret so leaking one cannot forge the other.
type Type string

const (
	TypeAccess  Type = "access"
	TypeRefresh Type = "refresh"
)

// Verification failure kinds. Callers map these to client-visible outcomes.
var (
	ErrMalformed        = errors.New("token malformed")
	ErrSignatureInvalid = errors.New("token signature invalid")
	ErrExpired          = errors.New("token expired")
	ErrWrongType        = errors.New("unexpected token type")
)

// Claims is the signed payload shared by both token types. The registered ID
// (jti) is the credential id for refresh tokens.
type Claims struct {
	UserID    string          `json:"user_id"`
	Email     string          `json:"email"`
	Role      models.UserRole `json:"role"`
	TokenType Type            `json:"token_type"`
	jwt.RegisteredClaims
}

// Principal converts verified claims into the request principal.
func (c *Claims) Principal() *models.Principal {
	return &models.Principal{UserID: c.UserID, Email: c.Email, Role: c.Role}
}

// CredentialID returns the jti claim.
func (c *Claims) CredentialID() string {
	return c.ID
}

// Codec issues and verifies signed tokens. Verification is side-effect-free
// and never consults external state.
type Codec struct {
	accessSecret  []byte
	refreshSecret []byte
	keyID         string
	issuer        string
	accessTTL     time.Duration
	refreshTTL    time.Duration
	leeway        time.Duration
}

// NewCodec builds a codec from auth configuration.
func NewCodec(cfg config.AuthConfig) *Codec {
	accessTTL := cfg.AccessTokenTTL
	if accessTTL <= 0 {
		accessTTL = 10 * time.Minute
	}
	refreshTTL := cfg.RefreshTokenTTL
	if refreshTTL <= 0 {
		refreshTTL = 7 * 24 * time.Hour
	}
	leeway := cfg.ClockSkewLeeway
	if leeway <= 0 {
		leeway = 5 * time.Second
	}
	return &Codec{
		accessSecret:  []byte(cfg.AccessSecret),
		refreshSecret: []byte(cfg.RefreshSecret),
		keyID:         cfg.KeyID,
		issuer:        cfg.Issuer,
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		leeway:        leeway,
	}
}

// TTL returns the configured lifetime for the given token type.
func (c *Codec) TTL(typ Type) time.Duration {
	if typ == TypeRefresh {
		return c.refreshTTL
	}
	return c.accessTTL
}

// Issue signs a token for the user. The returned claims carry the generated
// credential id and expiry.
func (c *Codec) Issue(user *models.User, typ Type) (string, *Claims, error) {
	now := time.Now().UTC()
	claims := &Claims{
		UserID:    user.ID,
		Email:     user.Email,
		Role:      user.Role,
		TokenType: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    c.issuer,
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(c.TTL(typ))),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	if c.keyID != "" {
		tok.Header["kid"] = c.keyID
	}

	signed, err := tok.SignedString(c.secretFor(typ))
	if err != nil {
		return "", nil, err
	}
	return signed, claims, nil
}

// Verify checks signature and expiry for the expected token type. Expiry is
// evaluated with the configured clock-skew leeway: a token fails only once
// now > expires-at + leeway.
func (c *Codec) Verify(tokenString string, typ Type) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrSignatureInvalid
		}
		return c.secretFor(typ), nil
	}, jwt.WithLeeway(c.leeway))
	if err != nil {
		return nil, classify(err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrMalformed
	}

	// Defense in depth: the per-type secret already rejects cross-type use,
	// but the claim is cross-checked anyway.
	if claims.TokenType != typ {
		return nil, ErrWrongType
	}

	return claims, nil
}

func (c *Codec) secretFor(typ Type) []byte {
	if typ == TypeRefresh {
		return c.refreshSecret
	}
	return c.accessSecret
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrSignatureInvalid
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrMalformed
	default:
		return ErrMalformed
	}
}

// Hash returns the hex-encoded sha256 of the signed token material. The store
// keeps hashes only, never raw tokens.
func Hash(tokenString string) string {
	sum := sha256.Sum256([]byte(tokenString))
	return hex.EncodeToString(sum[:])
}
