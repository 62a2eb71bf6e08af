package models

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrCacheMissing              = errors.New("cache document missing")
	ErrCacheInvalid              = errors.New("cache document invalid")
	ErrInsufficientHistory       = errors.New("insufficient history")
	ErrModelLoad                 = errors.New("model load failed")
	ErrExpansionModelUnavailable = errors.New("expansion model unavailable")
	ErrDatasetAssemblyMismatch   = errors.New("dataset branch lengths differ")
	ErrNoForecast                = errors.New("no forecast available")
)

// PipelineError attaches the failing operation and detail to one of the
// sentinel kinds above.
type PipelineError struct {
	Op     string
	Kind   error
	Detail string
	Err    error
}

func (e *PipelineError) Error() string {
	msg := e.Op + ": " + e.Kind.Error()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PipelineError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func NewError(op string, kind error, format string, args ...any) *PipelineError {
	return &PipelineError{Op: op, Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

func WrapError(op string, kind error, err error) *PipelineError {
	return &PipelineError{Op: op, Kind: kind, Err: err}
}

// IsFatal reports whether err must abort an inference run.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrExpansionModelUnavailable) && !errors.Is(err, ErrDatasetAssemblyMismatch)
}

// ErrorKind is a short label for err used in metrics and logs.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCacheMissing):
		return "cache_missing"
	case errors.Is(err, ErrCacheInvalid):
		return "cache_invalid"
	case errors.Is(err, ErrInsufficientHistory):
		return "insufficient_history"
	case errors.Is(err, ErrModelLoad):
		return "model_load"
	case errors.Is(err, ErrExpansionModelUnavailable):
		return "expansion_unavailable"
	case errors.Is(err, ErrDatasetAssemblyMismatch):
		return "dataset_mismatch"
	case errors.Is(err, ErrNoForecast):
		return "no_forecast"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "internal"
	}
}
