package ledger

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"ledgersync/internal/syncerr"
)

// FieldError is one field-level validation failure from the provider.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// APIError is the provider's error envelope, parsed from a non-2xx
// response.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Fields     []FieldError
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if len(e.Fields) == 0 {
		return fmt.Sprintf("ledger provider: %d %s", e.StatusCode, msg)
	}

	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return fmt.Sprintf("ledger provider: %d %s (%s)", e.StatusCode, msg, strings.Join(parts, "; "))
}

// errorEnvelope is the provider's wire format for failures.
type errorEnvelope struct {
	Error struct {
		Code             string       `json:"code"`
		Message          string       `json:"message"`
		ValidationErrors []FieldError `json:"validation_errors"`
	} `json:"error"`
}

// parseAPIError builds an APIError from a non-2xx response body. Bodies
// that are not the documented envelope are kept verbatim as the message.
func parseAPIError(statusCode int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: statusCode}

	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err == nil && (env.Error.Code != "" || env.Error.Message != "") {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
		apiErr.Fields = env.Error.ValidationErrors
		return apiErr
	}

	apiErr.Message = strings.TrimSpace(string(body))
	return apiErr
}

// classify tags a provider error per the retry taxonomy: 429 and 5xx are
// transient, everything else (validation, not found, auth after the
// single refresh retry) is terminal.
func classify(apiErr *APIError) error {
	switch {
	case apiErr.StatusCode == http.StatusTooManyRequests:
		return syncerr.Retryable(apiErr)
	case apiErr.StatusCode >= 500:
		return syncerr.Retryable(apiErr)
	default:
		return syncerr.Terminal(apiErr)
	}
}
