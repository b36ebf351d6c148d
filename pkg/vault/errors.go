package vault

import "errors"

var (
	// ErrPrecheckFailed indicates a local validation failure before any
	// network write was attempted.
	ErrPrecheckFailed = errors.New("vault: precheck failed")
	// ErrRemoteReadFailed indicates a read capability error; prior cached
	// state is left intact when it occurs.
	ErrRemoteReadFailed = errors.New("vault: remote read failed")
	// ErrRemoteWriteFailed indicates the ledger rejected or reverted a
	// submitted call. The remote reason is preserved verbatim.
	ErrRemoteWriteFailed = errors.New("vault: remote write failed")
)
