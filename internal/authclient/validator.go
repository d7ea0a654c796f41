package authclient

import (
	"errors"

	"github.com/noteforge/noteforge/internal/models"
	"github.com/noteforge/noteforge/internal/token"
	"github.com/noteforge/noteforge/pkg/config"
	appErrors "github.com/noteforge/noteforge/pkg/errors"
)

// Validator checks an access token presented to a resource service or the
// gateway and resolves it to the authenticated principal.
type Validator interface {
	Validate(tokenString string) (*models.Principal, error)
}

// LocalValidator verifies access tokens locally against the shared signing
// secret, without calling the auth service. Verification is stateless: a token
// revoked after issuance is still accepted until it expires, which is why
// access tokens carry a short TTL. Callers that need certainty consult the
// revocation status endpoint through a StatusClient.
type LocalValidator struct {
	codec *token.Codec
}

// NewLocalValidator builds a validator from the auth signing configuration.
// Only the access secret is exercised; the refresh secret never leaves the
// auth service.
func NewLocalValidator(cfg config.AuthConfig) *LocalValidator {
	return &LocalValidator{codec: token.NewCodec(cfg)}
}

// Validate verifies signature, expiry, and token type, and extracts the
// principal embedded in the claims.
func (v *LocalValidator) Validate(tokenString string) (*models.Principal, error) {
	claims, err := v.codec.Verify(tokenString, token.TypeAccess)
	if err != nil {
		if errors.Is(err, token.ErrExpired) {
			return nil, appErrors.Clone(appErrors.ErrTokenExpired, "access token expired")
		}
		return nil, appErrors.Clone(appErrors.ErrInvalidToken, "invalid access token")
	}
	return claims.Principal(), nil
}
