package model

import (
	"errors"
	"fmt"
)

// Error kinds shared by every layer. Wrap them with %w (or ProviderError) so
// callers can branch with errors.Is.
var (
	ErrMissingAPIKey    = errors.New("missing api key")
	ErrUnauthenticated  = errors.New("provider rejected the api key")
	ErrUnknownProvider  = errors.New("unknown provider")
	ErrUnsupportedModel = errors.New("unsupported model")
	ErrNetwork          = errors.New("network error")
	ErrRateLimited      = errors.New("rate limited")
	ErrStreamCancelled  = errors.New("stream cancelled")
	ErrPersistenceIO    = errors.New("persistence i/o error")
	ErrSessionNotFound  = errors.New("session not found")
)

// ErrInvalidAPIKey is the user-facing name for ErrUnauthenticated.
var ErrInvalidAPIKey = ErrUnauthenticated

// ProviderError carries provider context for an adapter failure.
type ProviderError struct {
	ProviderID string
	Kind       error
	StatusCode int
	Cause      error
}

func (e *ProviderError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %v", e.ProviderID, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.ProviderID, e.Kind, e.Cause)
}

// Unwrap exposes both the kind and the underlying cause to errors.Is/As.
func (e *ProviderError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// NewProviderError wraps cause with provider context.
func NewProviderError(providerID string, kind error, statusCode int, cause error) *ProviderError {
	return &ProviderError{
		ProviderID: providerID,
		Kind:       kind,
		StatusCode: statusCode,
		Cause:      cause,
	}
}

// NeedsReconfigure reports whether the UI should prompt for a new credential
// instead of offering a retry.
func NeedsReconfigure(err error) bool {
	return errors.Is(err, ErrUnauthenticated) || errors.Is(err, ErrMissingAPIKey)
}

// UserMessage maps an error to a human-readable message for display.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMissingAPIKey):
		return "No API key is configured for this provider."
	case errors.Is(err, ErrUnauthenticated):
		return "The provider rejected the API key. Please update it in settings."
	case errors.Is(err, ErrUnknownProvider):
		return "This provider is not supported."
	case errors.Is(err, ErrUnsupportedModel):
		return "The selected model is not available for this provider."
	case errors.Is(err, ErrRateLimited):
		return "The provider is rate limiting requests. Try again shortly."
	case errors.Is(err, ErrNetwork):
		return "Could not reach the provider. Check your connection."
	case errors.Is(err, ErrStreamCancelled):
		return "Response cancelled."
	case errors.Is(err, ErrSessionNotFound):
		return "That conversation no longer exists."
	case errors.Is(err, ErrPersistenceIO):
		return "The conversation could not be saved to disk."
	default:
		return err.Error()
	}
}
