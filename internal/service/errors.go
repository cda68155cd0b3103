package service

import (
	"errors"
	"fmt"
)

// ErrCycleUnresolved means no cycle was given and the contract's current
// cycle could not be read.
var ErrCycleUnresolved = errors.New("no active cycle could be resolved")

// ValidationError rejects malformed input before any chain or cache call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ChainReadError is a failed contract or log read. It is logged and absorbed;
// the affected unit of work is skipped.
type ChainReadError struct {
	Op  string
	Err error
}

func (e *ChainReadError) Error() string {
	return fmt.Sprintf("chain read %s: %v", e.Op, e.Err)
}

func (e *ChainReadError) Unwrap() error { return e.Err }

// CacheWriteError is a failed upsert. It always reaches the caller.
type CacheWriteError struct {
	Op  string
	Err error
}

func (e *CacheWriteError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *CacheWriteError) Unwrap() error { return e.Err }

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func IsCacheWrite(err error) bool {
	var ce *CacheWriteError
	return errors.As(err, &ce)
}
