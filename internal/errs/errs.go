// Package errs holds the sentinel error values shared across durakv's
// storage engine, cluster layers, and adapter. Callers should use
// errors.Is against these values rather than comparing strings.
package errs

import "errors"

var (
	// ErrIO is returned when a WAL append or fsync fails. In-memory
	// state is left untouched; the engine remains usable afterward.
	ErrIO = errors.New("durakv: io failure")

	// ErrCorruptLog is returned when a non-trailing WAL line fails to
	// parse at open. Fatal to that store instance.
	ErrCorruptLog = errors.New("durakv: corrupt log")

	// ErrNoQuorum is returned when fewer than Q nodes are alive at
	// dispatch time, or fewer than Q acks/responses were collected.
	ErrNoQuorum = errors.New("durakv: no quorum")

	// ErrNotFound is returned by the quorum cluster's Get for an absent
	// key. The engine's and the primary cluster's Get report absence
	// with a boolean instead.
	ErrNotFound = errors.New("durakv: key not found")

	// ErrProtocol marks a malformed request at the adapter boundary.
	ErrProtocol = errors.New("durakv: protocol error")
)
