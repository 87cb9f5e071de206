package fragcache

import "errors"

// Sentinel errors for the fragment cache domain.
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrUnknownCache    = errors.New("unknown cache")
	ErrFrozen          = errors.New("cache configuration is frozen")
	ErrClosed          = errors.New("backend closed")
)
