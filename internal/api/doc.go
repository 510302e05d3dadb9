// Package api implements the HTTP control plane and WebSocket event stream
// of vspid.
//
// This package provides:
//   - Read access to the FPGA devices, their BAR state and controller slots
//   - Read and write access to the control-plane namespace under /ctl
//   - A paginated view of the audit trail
//   - WebSocket hub for live controller lifecycle events
//   - Bearer-token authentication with role-based permissions
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Errors
//
// Namespace failures are reported with the errno the write produced:
//
//	{"status":409,"code":"conflict","message":"spi: controller already exists: ...","errno":-17}
//
// # Security
//
// Tokens are minted offline with "vspid token" and signed with the
// configured secret. Viewers can read, operators can also write, admins can
// also read the audit trail. WebSocket connections authenticate with a
// single-use ticket so that the token never appears in a URL.
package api
