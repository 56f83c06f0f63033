// Package auth provides bearer-token authentication for the famlogger API.
//
// When auth.jwt_secret is configured, every /api route requires an
// Authorization header of the form:
//
//	Authorization: Bearer <jwt>
//
// Tokens are HS256 JWTs with a non-empty "sub" claim naming the caller.
// The "famlogger token" command issues them. /health stays open so load
// balancers can probe without credentials.
package auth
