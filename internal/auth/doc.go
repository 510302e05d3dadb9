// Package auth mints and verifies the bearer tokens that guard the vspid
// control plane.
//
// Tokens are HS256 JWTs signed with the configured secret. They carry a
// subject (who is operating the host) and a Role. Verification is
// stateless: there are no user accounts, the operator mints tokens with
// `vspid token -subject NAME -role ROLE`.
//
// Roles map statically to permissions:
//
//	viewer    ctl:read
//	operator  ctl:read ctl:write
//	admin     ctl:read ctl:write audit:read
package auth
