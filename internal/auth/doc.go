// Package auth authenticates WebSocket upgrades, HTTP API calls and gRPC queries.
//
// # Tokens
//
// Callers present an HS256 JWT signed with auth.jwt_secret. The subject identifies the caller
// and an optional role claim distinguishes agents, clients and operators:
//
//	verifier, err := auth.NewJWTVerifier(secret)
//	token, err := verifier.Generate("planner-1", auth.RoleAgent, 24*time.Hour)
//	principal, err := verifier.Verify(token)
//
// # Transport Helpers
//
// RequestToken reads a token from "Authorization: Bearer" or, for browsers that cannot set
// headers on a WebSocket upgrade, the token query parameter. HTTPMiddleware and
// UnaryInterceptor apply the same policy: an invalid token is always rejected, a missing
// token only when tokens are required. The authenticated Principal travels in the context.
package auth
