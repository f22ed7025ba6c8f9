package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"glimpse/model"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/ollama/ollama/api"
	"github.com/openai/openai-go/v3"
)

// httpStatusError is returned by the raw-HTTP adapters for non-2xx replies.
type httpStatusError struct {
	StatusCode int
	Message    string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.StatusCode, e.Message)
}

// StatusKind maps an HTTP status (and the vendor's message) onto the error
// taxonomy.
func StatusKind(status int, msg string) error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return model.ErrUnauthenticated
	case http.StatusTooManyRequests:
		return model.ErrRateLimited
	case http.StatusNotFound:
		return model.ErrUnsupportedModel
	case http.StatusBadRequest:
		if strings.Contains(strings.ToLower(msg), "model") {
			return model.ErrUnsupportedModel
		}
		return model.ErrNetwork
	default:
		return model.ErrNetwork
	}
}

// statusOf extracts the HTTP status code from any SDK error type we use.
// It reports 0 when err carries no HTTP response.
func statusOf(err error) (int, string) {
	var oaiErr *openai.Error
	if errors.As(err, &oaiErr) {
		return oaiErr.StatusCode, oaiErr.Message
	}
	var antErr *anthropic.Error
	if errors.As(err, &antErr) {
		return antErr.StatusCode, antErr.Error()
	}
	var olErr api.StatusError
	if errors.As(err, &olErr) {
		return olErr.StatusCode, olErr.ErrorMessage
	}
	var httpErr *httpStatusError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode, httpErr.Message
	}
	return 0, ""
}

// mapError wraps an adapter failure as *model.ProviderError. Errors that
// already carry a kind pass through unchanged.
func mapError(providerID string, err error) error {
	if err == nil {
		return nil
	}
	var pe *model.ProviderError
	if errors.As(err, &pe) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return model.NewProviderError(providerID, model.ErrStreamCancelled, 0, err)
	}

	status, msg := statusOf(err)
	if status == 0 {
		return model.NewProviderError(providerID, model.ErrNetwork, 0, err)
	}
	return model.NewProviderError(providerID, StatusKind(status, msg), status, err)
}

// isAuthFailure reports whether err is a 401/403 from the vendor.
func isAuthFailure(err error) bool {
	status, _ := statusOf(err)
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}
