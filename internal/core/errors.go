package core

import "errors"

// Failure kinds surfaced by the services. Callers tell them apart with errors.Is.
var (
	ErrIdentityStore = errors.New("identity store failure")
	ErrHistoryStore  = errors.New("history store failure")
	ErrCompletion    = errors.New("completion provider failure")
)
