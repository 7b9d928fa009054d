package credstore

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMalformedToken reports a bearer token whose claims cannot be decoded.
var ErrMalformedToken = errors.New("credstore: malformed bearer token")

// IdentityFromToken decodes the identity claims embedded in the bearer token.
// The token is parsed without signature verification: the collaborator signs
// and verifies tokens server-side, the client only needs the claim payload
// (subject id, username, administrator flag, iat, exp).
func IdentityFromToken(token string) (Identity, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	id := Identity{
		Username: stringClaim(claims, "username"),
		Admin:    flagClaim(claims, "is_admin"),
	}

	if v, ok := claims["user_id"].(float64); ok {
		id.UserID = int64(v)
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		id.IssuedAt = iat.Time
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		id.Expiry = exp.Time
	}

	if id.Username == "" && id.UserID == 0 {
		return Identity{}, ErrMalformedToken
	}

	return id, nil
}

// Expired reports whether the token's own exp claim has passed. A missing
// exp claim counts as expired.
func (id Identity) Expired(now time.Time) bool {
	if id.Expiry.IsZero() {
		return true
	}
	return !now.Before(id.Expiry)
}

func stringClaim(claims jwt.MapClaims, key string) string {
	v, _ := claims[key].(string)
	return v
}

// flagClaim accepts both JSON booleans and the collaborator's 0/1 integers.
func flagClaim(claims jwt.MapClaims, key string) bool {
	switch v := claims[key].(type) {
	case bool:
		return v
	case float64:
		return v != 0
	default:
		return false
	}
}
