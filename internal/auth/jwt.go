package auth

import "github.com/golang-jwt/jwt/v5"

// peekExpiry does a best-effort, unverified parse of an access token to
// recover its exp claim. It never validates a signature; the token
// came from Nanit over TLS, so authenticity isn't in question here, only
// the question of how long it's good for when the REST response itself
// didn't say. Returns ok=false if the token isn't JWT-shaped or carries
// no exp claim.
func peekExpiry(token string) (exp int64, ok bool) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return 0, false
	}
	expFloat, err := claims.GetExpirationTime()
	if err != nil || expFloat == nil {
		return 0, false
	}
	return expFloat.Unix(), true
}
