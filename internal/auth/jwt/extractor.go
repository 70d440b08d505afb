package jwt

import (
	"net/http"
	"strings"
)

// AuthorizationHeader is the standard bearer token header.
const AuthorizationHeader = "Authorization"

const bearerPrefix = "Bearer "

// ExtractToken reads a token from r. The ALB header is consulted first
// when trustALB is set, then the Authorization header with a Bearer
// scheme matched case-insensitively. source is the header name.
func ExtractToken(r *http.Request, trustALB bool) (token, source string, ok bool) {
	if trustALB {
		if v := strings.TrimSpace(r.Header.Get(ALBHeader)); v != "" {
			return v, ALBHeader, true
		}
	}
	if t, ok := BearerToken(r.Header.Get(AuthorizationHeader)); ok {
		return t, AuthorizationHeader, true
	}
	return "", "", false
}

// BearerToken returns the credential of an Authorization value using the
// Bearer scheme.
func BearerToken(value string) (string, bool) {
	value = strings.TrimSpace(value)
	if len(value) < len(bearerPrefix) || !strings.EqualFold(value[:len(bearerPrefix)], bearerPrefix) {
		return "", false
	}
	token := strings.TrimSpace(value[len(bearerPrefix):])
	if token == "" {
		return "", false
	}
	return token, true
}
