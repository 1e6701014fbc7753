package core

import "errors"

var (
	// ErrDuplicate reports a command or feed update that was already applied
	// or has been superseded.
	ErrDuplicate = errors.New("duplicate event")

	ErrUnknownEvent   = errors.New("unknown event type")
	ErrNoPriceSink    = errors.New("oracle does not accept sequenced prices")
	ErrCustody        = errors.New("custody rejected settlement")
	ErrReplayMismatch = errors.New("replayed state does not match the log")
)
