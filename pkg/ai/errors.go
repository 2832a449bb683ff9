package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorKind labels a provider failure so the HTTP layer can pick a status
// code and the client can show a remediation hint.
type ErrorKind string

const (
	KindValidation        ErrorKind = "validation_error"
	KindConfiguration     ErrorKind = "configuration_error"
	KindCredentialInvalid ErrorKind = "credential_invalid"
	KindRateLimited       ErrorKind = "rate_limited"
	KindQuotaExceeded     ErrorKind = "quota_exceeded"
	KindModelUnavailable  ErrorKind = "model_unavailable"
	KindConnectionFailed  ErrorKind = "connection_failed"
	KindTimeout           ErrorKind = "timeout"
	KindUnknown           ErrorKind = "provider_error"
)

// ProviderError carries a classified provider failure with a remediation
// hint. Status is the HTTP status surfaced to the caller.
type ProviderError struct {
	Kind     ErrorKind
	Status   int
	Provider string
	Model    string
	Message  string
	Hint     string
	cause    error
}

func (e *ProviderError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Hint)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.cause }

func newError(kind ErrorKind, status int, message, hint string) *ProviderError {
	return &ProviderError{Kind: kind, Status: status, Message: message, Hint: hint}
}

// NewValidationError reports a malformed request before any provider call.
func NewValidationError(message string) *ProviderError {
	return newError(KindValidation, http.StatusBadRequest, message, "check the request shape and retry")
}

// NewConfigurationError reports a missing or broken provider configuration.
func NewConfigurationError(provider, message string) *ProviderError {
	err := newError(KindConfiguration, http.StatusInternalServerError, message, "set the required credential for the selected provider")
	err.Provider = provider
	return err
}

// NewModelUnavailableError reports a model the provider does not serve.
func NewModelUnavailableError(provider, model, message, hint string) *ProviderError {
	err := newError(KindModelUnavailable, http.StatusNotFound, message, hint)
	err.Provider = provider
	err.Model = model
	return err
}

// NewConnectionError reports a failure to reach the provider at all.
func NewConnectionError(provider, message, hint string) *ProviderError {
	err := newError(KindConnectionFailed, http.StatusServiceUnavailable, message, hint)
	err.Provider = provider
	return err
}

// ClassifyStreamError maps a completion-call failure onto the taxonomy.
// ctx is consulted so deadline expiry wins over transport noise.
func ClassifyStreamError(ctx context.Context, provider, model string, statusCode int, err error) *ProviderError {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}

	msg := ""
	if err != nil {
		msg = err.Error()
	}

	out := func(kind ErrorKind, status int, message, hint string) *ProviderError {
		e := newError(kind, status, message, hint)
		e.Provider = provider
		e.Model = model
		e.cause = err
		return e
	}

	if ctx != nil && ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return out(KindTimeout, http.StatusRequestTimeout,
			"the request took too long and was aborted",
			"retry, or switch to a faster model")
	}

	switch statusCode {
	case http.StatusUnauthorized:
		return out(KindCredentialInvalid, http.StatusUnauthorized,
			"the provider rejected the API key",
			"check that the configured API key is valid and not expired")
	case http.StatusPaymentRequired:
		return out(KindQuotaExceeded, http.StatusPaymentRequired,
			"the provider reports an exhausted quota",
			"check your billing and usage limits")
	case http.StatusNotFound:
		return out(KindModelUnavailable, http.StatusNotFound,
			fmt.Sprintf("model %q is not available on this provider", model),
			"pick another model or install the requested one")
	case http.StatusTooManyRequests:
		return out(KindRateLimited, http.StatusTooManyRequests,
			"the provider is rate limiting requests",
			"wait a moment and retry")
	}

	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "api key"):
		return out(KindCredentialInvalid, http.StatusUnauthorized,
			"the provider rejected the API key",
			"check that the configured API key is valid and not expired")
	case strings.Contains(lower, "connection refused"), strings.Contains(lower, "no such host"),
		strings.Contains(lower, "connect:"), strings.Contains(lower, "dial tcp"):
		return out(KindConnectionFailed, http.StatusServiceUnavailable,
			"could not reach the provider",
			"check network connectivity and that the service is running")
	case strings.Contains(lower, "deadline exceeded"), strings.Contains(lower, "timeout"):
		return out(KindTimeout, http.StatusRequestTimeout,
			"the request took too long and was aborted",
			"retry, or switch to a faster model")
	}

	if msg == "" {
		msg = "provider call failed"
	}
	return out(KindUnknown, http.StatusInternalServerError, msg, "retry; contact support if the error persists")
}
