package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("record not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidTransaction = errors.New("invalid transaction")
)

// ConfigLoadError reports a rule document that could not be read or resolved.
type ConfigLoadError struct {
	Source string
	Err    error
}

func (e *ConfigLoadError) Error() string {
	return fmt.Sprintf("rule config load from %s: %v", e.Source, e.Err)
}

func (e *ConfigLoadError) Unwrap() error { return e.Err }

// AdvisorError reports a failed advisor run. The suggestion queue is untouched.
type AdvisorError struct {
	Stage string // fetch, reason, parse, append
	Err   error
}

func (e *AdvisorError) Error() string {
	return fmt.Sprintf("advisor %s: %v", e.Stage, e.Err)
}

func (e *AdvisorError) Unwrap() error { return e.Err }

// ApplyError reports a failed apply. Stage tells how far the apply got.
type ApplyError struct {
	Stage string // load, persist, reload, clear
	Err   error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("apply rules %s: %v", e.Stage, e.Err)
}

func (e *ApplyError) Unwrap() error { return e.Err }
