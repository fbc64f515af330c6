// Package auth authenticates the callers of the agent.
//
// # Caller Tokens
//
// Every request to an agent route carries a bearer JWT signed with HS256
// using the configured auth_secret (at least 32 bytes). The claims describe
// the caller:
//
//	id, email, firstName, lastName, team, role, renderingId, tags, timezone
//
// plus the registered exp/iat/sub claims. Tokens without an expiry are
// rejected.
//
//	verifier, err := NewJWTVerifier(secret)
//	token, err := verifier.Generate(caller, time.Hour)
//	caller, err := verifier.Verify(token)
//
// # HTTP Middleware
//
// HTTPAuthMiddleware verifies the token and stores the resulting
// *toolkit.Caller in the request context; handlers read it back with
// CallerFromContext. Failures answer 401 with {"error": "..."}.
package auth
