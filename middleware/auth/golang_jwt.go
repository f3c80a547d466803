package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v4"
)

// GolangJWTVerifier is a concrete Verifier backed by
// github.com/golang-jwt/jwt/v4, the one JWT library the example corpus
// depends on (zalando-skipper). It is an optional adapter: arbor's core
// JWT filter only depends on the Verifier interface, never on this type,
// per spec.md §1's "JWT signature verification assumed to be a black-box
// verifier" scoping.
type GolangJWTVerifier struct {
	// KeyFunc resolves the signing key for a given token, mirroring
	// jwt.Keyfunc.
	KeyFunc jwt.Keyfunc
}

// NewGolangJWTVerifier builds a verifier that resolves each token's
// signing key through keyFunc.
func NewGolangJWTVerifier(keyFunc jwt.Keyfunc) *GolangJWTVerifier {
	return &GolangJWTVerifier{KeyFunc: keyFunc}
}

// Verify implements Verifier.
func (v *GolangJWTVerifier) Verify(token string) (JWTClaims, error) {
	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, v.KeyFunc)
	if err != nil {
		return nil, fmt.Errorf("jwt: %w", err)
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("jwt: token not valid")
	}
	out := make(JWTClaims, len(claims))
	for k, val := range claims {
		out[k] = val
	}
	return out, nil
}
