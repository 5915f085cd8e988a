package swing

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/MoseikiApp/peasy-ai/internal/httpx"
)

const (
	CodeInsufficientFunds = "INSUFFICIENT_FUNDS"
	CodeHighSlippage      = "HIGH_SLIPPAGE"
)

// APIError is the error payload Swing returns with non-2xx responses.
type APIError struct {
	Status  int
	Code    string
	Message string
	cause   error
}

func (e *APIError) Error() string {
	switch {
	case e.Code != "" && e.Message != "":
		return fmt.Sprintf("swing %d %s: %s", e.Status, e.Code, e.Message)
	case e.Message != "":
		return fmt.Sprintf("swing %d: %s", e.Status, e.Message)
	case e.Code != "":
		return fmt.Sprintf("swing %d %s", e.Status, e.Code)
	}
	return fmt.Sprintf("swing status %d", e.Status)
}

func (e *APIError) Unwrap() error { return e.cause }

// decodeAPIError lifts an httpx status error into an APIError. Other errors
// are returned unchanged.
func decodeAPIError(err error) error {
	status, ok := httpx.StatusFrom(err)
	if !ok {
		return err
	}
	apiErr := &APIError{Status: status.Status, cause: err}
	var payload struct {
		Error   json.RawMessage `json:"error"`
		Message json.RawMessage `json:"message"`
	}
	if json.Unmarshal(status.Body, &payload) == nil {
		apiErr.Code = flatten(payload.Error)
		apiErr.Message = flatten(payload.Message)
	}
	if apiErr.Message == "" && apiErr.Code == "" {
		apiErr.Message = strings.TrimSpace(string(status.Body))
	}
	return apiErr
}

// flatten renders a string or any JSON value as text.
func flatten(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(string(raw))
}

func asAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

func IsInsufficientFunds(err error) bool {
	apiErr, ok := asAPIError(err)
	if !ok {
		return false
	}
	if strings.EqualFold(apiErr.Code, CodeInsufficientFunds) {
		return true
	}
	msg := strings.ToLower(apiErr.Message)
	return strings.Contains(msg, "transfer amount exceeds balance") || strings.Contains(msg, "insufficient funds")
}

func IsHighSlippage(err error) bool {
	apiErr, ok := asAPIError(err)
	if !ok {
		return false
	}
	if strings.EqualFold(apiErr.Code, CodeHighSlippage) {
		return true
	}
	return strings.Contains(strings.ToLower(apiErr.Message), "high slippage")
}

// Details returns the aggregator's message for user-facing diagnostics.
func Details(err error) string {
	if apiErr, ok := asAPIError(err); ok {
		return apiErr.Message
	}
	return ""
}
