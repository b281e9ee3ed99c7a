package workflow

import "errors"

// Operation failures surfaced to callers. The API layer translates these to
// transport status codes; none of them trigger internal retries.
var (
	// ErrNotFound: the lamp or request does not exist or is deactivated.
	ErrNotFound = errors.New("not found")
	// ErrConflict: the status transition guard failed, already responded,
	// already timed out, or already auto-closed.
	ErrConflict = errors.New("already responded or timed out")
	// ErrForbidden: the responder is not an approver for the lamp's branch.
	ErrForbidden = errors.New("not an approver for this branch")
	// ErrInvalid: malformed input rejected before any state mutation.
	ErrInvalid = errors.New("invalid input")
)
