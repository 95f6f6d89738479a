// Package apperrors is the error taxonomy shared by the interactive workflows
package apperrors

import (
	"context"
	"errors"

	"github.com/sitegate/internal/apiclient"
)

// Kind classifies a workflow failure
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindNetwork
	KindHTTP
	KindInfo
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNetwork:
		return "network"
	case KindHTTP:
		return "http"
	case KindInfo:
		return "info"
	default:
		return "unknown"
	}
}

// Common workflow errors
var (
	ErrLoginRequired = errors.New("login required")
	ErrClosed        = errors.New("controller closed")
)

// ValidationError blocks an action before any network call
type ValidationError struct {
	Key     string // notification key
	Message string // literal fallback
}

func (e *ValidationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Key
}

// Validation creates a ValidationError
func Validation(key, fallback string) *ValidationError {
	return &ValidationError{Key: key, Message: fallback}
}

// Classify maps err onto the taxonomy
func Classify(err error) Kind {
	var (
		validationErr *ValidationError
		networkErr    *apiclient.NetworkError
		httpErr       *apiclient.HTTPError
		infoErr       *apiclient.DomainInfo
	)

	switch {
	case err == nil:
		return KindUnknown
	case errors.As(err, &validationErr):
		return KindValidation
	case errors.As(err, &infoErr):
		return KindInfo
	case errors.As(err, &httpErr):
		return KindHTTP
	case errors.As(err, &networkErr), errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return KindNetwork
	default:
		return KindUnknown
	}
}

// Message returns the text surfaced on the error channel for err, or fallback
// when nothing better is known
func Message(err error, fallback string) string {
	var (
		validationErr *ValidationError
		httpErr       *apiclient.HTTPError
		infoErr       *apiclient.DomainInfo
	)

	switch {
	case err == nil:
		return fallback
	case errors.As(err, &validationErr):
		return validationErr.Key
	case errors.As(err, &infoErr):
		return infoErr.Message
	case errors.As(err, &httpErr):
		return httpErr.Message()
	case Classify(err) == KindNetwork:
		return fallback
	default:
		if msg := err.Error(); msg != "" {
			return msg
		}
		return fallback
	}
}
