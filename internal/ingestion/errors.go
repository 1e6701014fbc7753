package ingestion

import "errors"

// ErrBadPayload marks a message that could not be parsed into an event.
var ErrBadPayload = errors.New("malformed event payload")
