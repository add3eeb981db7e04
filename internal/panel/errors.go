package panel

import "errors"

// The adapter keeps absence, auth failure, transport failure, and panel
// refusal distinguishable so callers can pick the right behavior: a user
// with no client is a valid outcome, an unreachable panel is not a reason
// to create a duplicate account.
var (
	// ErrAuth means the panel rejected the configured credentials.
	ErrAuth = errors.New("panel authentication failed")

	// ErrNotFound means the inbound or client does not exist on the panel.
	ErrNotFound = errors.New("not found on panel")

	// ErrTransport means the panel could not be reached or answered garbage.
	ErrTransport = errors.New("panel transport failure")

	// ErrRefused means the panel processed the request and said no.
	ErrRefused = errors.New("panel refused the operation")
)
