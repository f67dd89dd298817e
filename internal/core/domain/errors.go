package domain

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors shared across layers. Match with errors.Is.
var (
	ErrConfig            = errors.New("configuration error")
	ErrRateLimited       = errors.New("provider rate limited")
	ErrProvider          = errors.New("provider error")
	ErrTimeout           = errors.New("provider timeout")
	ErrPersistenceFailed = errors.New("persistence failed")
	ErrNotFound          = errors.New("not found")
	ErrDuplicateMessage  = errors.New("duplicate message")
	ErrInvalidScenario   = errors.New("invalid scenario")
	ErrInvalidInput      = errors.New("invalid input")
	ErrDeliveryRejected  = errors.New("delivery rejected by channel") // permanent, never retried
)

// LLMErrorKind classifies gateway failures
type LLMErrorKind string

const (
	LLMErrorConfig      LLMErrorKind = "config"
	LLMErrorRateLimited LLMErrorKind = "rate_limited"
	LLMErrorProvider    LLMErrorKind = "provider"
	LLMErrorTimeout     LLMErrorKind = "timeout"
)

// LLMError is returned by the LLM gateway for every failed completion
type LLMError struct {
	Kind       LLMErrorKind
	StatusCode int
	Suggestion string        // human-readable hint, set for rate limits
	RetryAfter time.Duration // zero when the provider gave no hint
	Err        error
}

func (e *LLMError) Error() string {
	msg := fmt.Sprintf("llm %s", e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Suggestion != "" {
		msg += " - " + e.Suggestion
	}
	return msg
}

func (e *LLMError) Unwrap() error { return e.Err }

// Is maps the kind onto the sentinel errors. A timeout also counts as a provider error.
func (e *LLMError) Is(target error) bool {
	switch target {
	case ErrConfig:
		return e.Kind == LLMErrorConfig
	case ErrRateLimited:
		return e.Kind == LLMErrorRateLimited
	case ErrTimeout:
		return e.Kind == LLMErrorTimeout
	case ErrProvider:
		return e.Kind == LLMErrorProvider || e.Kind == LLMErrorTimeout
	}
	return false
}

// Retryable reports whether the orchestrator may retry the call once
func (e *LLMError) Retryable() bool {
	return e.Kind == LLMErrorProvider || e.Kind == LLMErrorTimeout
}

// PersistenceError wraps a datastore failure on the message-processing path
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failed during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistenceFailed }

// NewPersistenceError wraps err unless it is nil
func NewPersistenceError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}
