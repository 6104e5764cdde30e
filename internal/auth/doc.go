// Package auth verifies and mints the HS256 JWTs the dev harness accepts.
// The subject claim is a numeric user id; production tokens come from the
// real auth service and only pass through here.
package auth
