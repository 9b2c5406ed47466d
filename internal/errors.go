package respcache

import "errors"

// Sentinel errors for the response cache domain.
var (
	// ErrNotSerializable means a value cannot be encoded for storage, or would
	// not survive a round trip. It is a programming error.
	ErrNotSerializable = errors.New("value not serializable")
	// ErrCorrupt means stored bytes could not be decoded. Callers treat it as a miss.
	ErrCorrupt = errors.New("corrupt cache payload")
	// ErrNotScalar means a key parameter is not a scalar value.
	ErrNotScalar = errors.New("key parameter is not a scalar")
	// ErrRemoteUnavailable wraps every remote tier failure.
	ErrRemoteUnavailable = errors.New("remote cache unavailable")
	// ErrPoolExhausted means no remote connection slot was free.
	ErrPoolExhausted = errors.New("remote pool exhausted")

	ErrBadRequest   = errors.New("bad request")
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")
	ErrRateLimited  = errors.New("rate limited")
	ErrUpstream     = errors.New("upstream error")
)
