package central

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	jwtIssuer   = "data-hub"
	jwtAudience = "central-api"

	// tokenValidity keeps bearer tokens short-lived; a fresh token is
	// minted per request.
	tokenValidity = 60 * time.Second
)

// tokenSigner mints the short-lived bearer tokens expected by the
// central API.
type tokenSigner struct {
	secret  []byte
	subject string
}

func newTokenSigner(secret []byte, subject string) *tokenSigner {
	return &tokenSigner{secret: secret, subject: subject}
}

// sign produces a fresh HS256 token carrying the storage alias as
// subject.
func (s *tokenSigner) sign() (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    jwtIssuer,
		Audience:  jwt.ClaimStrings{jwtAudience},
		Subject:   s.subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(tokenValidity)),
	})

	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign auth token: %w", err)
	}
	return signed, nil
}
