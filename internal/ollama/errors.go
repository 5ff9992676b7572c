package ollama

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

var (
	// ErrThinkingUnsupported means the model rejected a request with think enabled
	ErrThinkingUnsupported = errors.New("model does not support thinking")

	// ErrModelNotFound means a configured model is not installed
	ErrModelNotFound = errors.New("model not installed")

	// ErrUnreachable means the Ollama service did not answer
	ErrUnreachable = errors.New("could not connect to Ollama")
)

// StatusError is a non-200 reply from Ollama
type StatusError struct {
	Code    int
	Message string
	cause   error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("Ollama returned status %d: %s", e.Code, e.Message)
}

func (e *StatusError) Unwrap() error {
	return e.cause
}

// checkStatus turns a non-200 response into a StatusError
func checkStatus(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	msg := strings.TrimSpace(string(body))

	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		msg = payload.Error
	}

	se := &StatusError{Code: resp.StatusCode, Message: msg}
	if isThinkingRejection(resp.StatusCode, msg) {
		se.cause = ErrThinkingUnsupported
	}
	return se
}

func isThinkingRejection(code int, msg string) bool {
	if code < 400 || code >= 500 {
		return false
	}
	return strings.Contains(strings.ToLower(msg), "does not support thinking")
}
