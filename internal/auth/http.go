// ABOUTME: Token extraction and HTTP middleware for the gateway's API endpoints
// ABOUTME: Accepts Authorization: Bearer or a token query parameter

package auth

import (
	"errors"
	"net/http"
	"strings"
)

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful or absent).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", ""
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// RequestToken returns the token presented by r, preferring the Authorization header over the
// token query parameter. A malformed header is reported as ErrInvalidToken.
func RequestToken(r *http.Request) (string, error) {
	token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
	if errMsg != "" {
		return "", ErrInvalidToken
	}
	if token != "" {
		return token, nil
	}
	return r.URL.Query().Get("token"), nil
}

// Authenticate applies the gateway token policy to r. With no verifier every request is
// anonymous. An invalid token is always rejected; a missing one only when required is set.
func Authenticate(r *http.Request, verifier TokenVerifier, required bool) (Principal, error) {
	if verifier == nil {
		return Principal{}, nil
	}
	token, err := RequestToken(r)
	if err != nil {
		return Principal{}, err
	}
	if token == "" {
		if required {
			return Principal{}, ErrMissingToken
		}
		return Principal{}, nil
	}
	return verifier.Verify(token)
}

// HTTPMiddleware authenticates requests and stores the principal in the request context.
func HTTPMiddleware(verifier TokenVerifier, required bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := Authenticate(r, verifier, required)
			if err != nil {
				msg := "invalid token"
				if errors.Is(err, ErrMissingToken) {
					msg = "missing token"
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
				return
			}
			if p.Subject != "" {
				r = r.WithContext(WithPrincipal(r.Context(), p))
			}
			next.ServeHTTP(w, r)
		})
	}
}
