package api

import (
	"fmt"
	nethttp "net/http"
	"strings"

	"github.com/cryptdrive/cdrive/internal/cloud/storage"
)

// APIError is a non-2xx response from the API.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s failed: status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s failed: status %d: %s", e.Op, e.StatusCode, e.Body)
}

// conflictIndicators are the phrases a 400 response uses for a name conflict
var conflictIndicators = []string{
	"already exists",
	"duplicate",
	"name already in use",
}

// responseError converts a failed response into an error. A 409, or a 400 that
// mentions a conflict, becomes *storage.AlreadyExistsError.
func responseError(op, name string, resp *nethttp.Response) error {
	body := readErrorBody(resp.Body)
	apiErr := &APIError{Op: op, StatusCode: resp.StatusCode, Body: body}

	if isConflict(resp.StatusCode, body) {
		return &storage.AlreadyExistsError{Name: name, Cause: apiErr}
	}
	return apiErr
}

func isConflict(status int, body string) bool {
	if status == nethttp.StatusConflict {
		return true
	}
	if status != nethttp.StatusBadRequest {
		return false
	}
	lower := strings.ToLower(body)
	for _, indicator := range conflictIndicators {
		if strings.Contains(lower, indicator) {
			return true
		}
	}
	return false
}
