package client

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
)

// ErrNoCompany is returned for company-scoped operations before SetCompany
var ErrNoCompany = errors.New("no company selected; use bc_select_company (or bc_list_companies to find one) first")

// ConfigError reports missing local setup. It is never retried and never
// reaches the wire.
type ConfigError struct {
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration error: %s: %v", e.Reason, e.Err)
	}
	return "configuration error: " + e.Reason
}

func (e *ConfigError) Unwrap() error { return e.Err }

// UserFacing returns the message shown to tool callers
func (e *ConfigError) UserFacing() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Reason
}

// APIError is a classified non-success response from the API
type APIError struct {
	StatusCode  int
	Code        string
	Message     string
	UserMessage string
	Retryable   bool
	RetryAfter  time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// UserFacing returns the message shown to tool callers
func (e *APIError) UserFacing() string {
	return e.UserMessage
}

// ClassifyError maps a status and a decoded or raw response body to an
// APIError. It never fails; malformed bodies degrade to the status defaults.
func ClassifyError(status int, body interface{}) *APIError {
	code, message := extractErrorDetails(body)
	if code == "" {
		code = fmt.Sprintf("HTTP_%d", status)
	}

	return &APIError{
		StatusCode:  status,
		Code:        code,
		Message:     message,
		UserMessage: userMessageFor(status, message),
		Retryable:   IsRetryableStatus(status),
	}
}

// extractErrorDetails reads error.code and error.message, falling back to
// the whole body rendered as text for the message
func extractErrorDetails(body interface{}) (code, message string) {
	var decoded interface{}
	switch b := body.(type) {
	case nil:
		return "", ""
	case []byte:
		if err := json.Unmarshal(b, &decoded); err != nil {
			return "", string(b)
		}
	case string:
		if err := json.Unmarshal([]byte(b), &decoded); err != nil {
			return "", b
		}
	default:
		decoded = b
	}

	if obj, ok := decoded.(map[string]interface{}); ok {
		if inner, ok := obj["error"].(map[string]interface{}); ok {
			code, _ = inner["code"].(string)
			message = messageText(inner["message"])
		}
	}
	if message == "" {
		message = stringifyBody(decoded)
	}
	return code, message
}

// messageText accepts both "message": "text" and the OData v2 shape
// "message": {"lang": "en", "value": "text"}
func messageText(v interface{}) string {
	switch m := v.(type) {
	case string:
		return m
	case map[string]interface{}:
		if s, ok := m["value"].(string); ok {
			return s
		}
	}
	return ""
}

func stringifyBody(v interface{}) string {
	switch b := v.(type) {
	case nil:
		return ""
	case string:
		return b
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

func userMessageFor(status int, message string) string {
	switch status {
	case http.StatusBadRequest:
		return "Validation error: " + message
	case http.StatusUnauthorized:
		return "Authentication failed. Please re-authenticate with Business Central."
	case http.StatusForbidden:
		return "Access denied. Your account does not have permission for this operation."
	case http.StatusNotFound:
		return fmt.Sprintf("Resource not found: %s. Verify the ID exists and you have access.", message)
	case http.StatusConflict:
		return "Concurrency conflict: The record was modified by another user. Please re-fetch and try again. Details: " + message
	case http.StatusTooManyRequests:
		return "Rate limit exceeded. The request will be retried automatically."
	case http.StatusGatewayTimeout:
		return "Request timed out. Try a smaller query with $filter or $top to reduce data."
	default:
		return fmt.Sprintf("Business Central error (%d): %s", status, message)
	}
}

// userFacing is implemented by errors that carry a caller-ready message
type userFacing interface {
	UserFacing() string
}

// UserMessage returns the best human-readable message for err
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var uf userFacing
	if errors.As(err, &uf) {
		if msg := uf.UserFacing(); msg != "" {
			return msg
		}
	}
	return err.Error()
}

// IsRetryable reports whether err is a classified retryable API error
func IsRetryable(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Retryable
}
