package planner

import "errors"

// The sentinel errors below classify a failure the way a caller
// deciding how to report it to an operator needs to: a bad request, a
// missing host tool, a device-state problem, a data integrity failure,
// or a safety gate rejecting an otherwise-valid request. I/O failures
// have no sentinel of their own. The errors from the planner's own
// checks are wrapped with fmt.Errorf("%w: ...", ErrX) so callers can
// classify them with errors.Is without parsing the message text; errors
// passed up unchanged from diskutil, sidecar runs, the metadata reader
// and file I/O match none of these sentinels.
var (
	// ErrInput marks a request that is well-formed JSON but semantically
	// invalid: a missing field, an unparseable size, a malformed UUID.
	ErrInput = errors.New("invalid request")

	// ErrEnvironment marks a failure caused by the host environment, not
	// the request: the sgdisk sidecar that resize and move check for up
	// front is not installed.
	ErrEnvironment = errors.New("environment not ready")

	// ErrDevice marks a device-state problem found by the planner's own
	// checks: a container or newly created partition that could not be
	// found, or an identifier with no partition number or parent disk.
	ErrDevice = errors.New("device state error")

	// ErrIntegrity marks a post-operation verification failure: a
	// checksum mismatch after a flash.
	ErrIntegrity = errors.New("integrity check failed")

	// ErrSafetyGate marks a request rejected by an invariant meant to
	// prevent data loss, independent of whether the request was
	// otherwise well-formed: an overlapping move, a resize past the
	// disk's end.
	ErrSafetyGate = errors.New("rejected by safety check")
)
