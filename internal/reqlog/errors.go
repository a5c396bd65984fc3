package reqlog

import "errors"

// Sentinel errors, matching the taxonomy of spec.md §7.
var (
	// ErrLogCorrupt indicates the head file length is not a whole
	// multiple of HeadSize, or a payload's CRC does not match its
	// header. Fatal to the local node; the caller should trigger
	// recovery from a peer.
	ErrLogCorrupt = errors.New("reqlog: log corrupt")

	// ErrAlreadyPrepared indicates prepare was called while a prepared
	// request is already held.
	ErrAlreadyPrepared = errors.New("reqlog: a write request is already prepared")

	// ErrStaleID indicates a replica's prepare was called with an
	// inc_id the replica has already passed.
	ErrStaleID = errors.New("reqlog: stale inc_id")

	// ErrNotPrepared indicates append was called with no prepared
	// request held.
	ErrNotPrepared = errors.New("reqlog: no request is prepared")

	// ErrOutOfOrder indicates the prepared request's inc_id is less
	// than the last id actually written to the log.
	ErrOutOfOrder = errors.New("reqlog: append out of order")

	// ErrNotFound indicates get_by_id found no entry with an id >= the
	// requested one.
	ErrNotFound = errors.New("reqlog: not found")
)
