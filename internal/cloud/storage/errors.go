// Package storage defines the error taxonomy shared by the transfer engine:
// transports, upload and download orchestrators and the batch uploader.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Common transfer errors
var (
	// ErrMissingETag indicates a successful PUT response carried no ETag header
	ErrMissingETag = errors.New("response is missing the ETag header")
	// ErrAborted is the cause of a TransferAbortedError when no other cause is known
	ErrAborted = errors.New("transfer aborted")
	// ErrInsufficientSpace indicates there isn't enough disk space for the operation
	ErrInsufficientSpace = errors.New("insufficient disk space")
)

// TransportError reports a failed HTTP exchange against a presigned URL:
// a non-2xx status, a missing required response header or a network failure.
type TransportError struct {
	Op         string // "PUT" or "GET"
	URL        string // URL without query string
	StatusCode int    // 0 when no response was received
	Body       string // truncated response body, if any
	Err        error
}

func (e *TransportError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", e.Op, e.URL)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": status %d", e.StatusCode)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if e.Body != "" {
		fmt.Fprintf(&b, ": %s", e.Body)
	}
	return b.String()
}

func (e *TransportError) Unwrap() error { return e.Err }

// TransferAbortedError reports a transfer stopped by cancellation.
type TransferAbortedError struct {
	Op    string
	Cause error
}

func (e *TransferAbortedError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("transfer aborted: %v", e.Cause)
	}
	return fmt.Sprintf("%s aborted: %v", e.Op, e.Cause)
}

func (e *TransferAbortedError) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, ErrAborted) match any abort.
func (e *TransferAbortedError) Is(target error) bool { return target == ErrAborted }

// AlreadyExistsError reports a create that conflicted with an existing entry.
// The batch uploader treats it as an idempotent skip.
type AlreadyExistsError struct {
	Name  string
	Cause error
}

func (e *AlreadyExistsError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s already exists: %v", e.Name, e.Cause)
	}
	return fmt.Sprintf("%s already exists", e.Name)
}

func (e *AlreadyExistsError) Unwrap() error { return e.Cause }

// IntegrityError reports a size or hash mismatch.
type IntegrityError struct {
	What     string
	Expected string
	Actual   string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity check failed for %s: expected %s, got %s", e.What, e.Expected, e.Actual)
}

// NewSizeMismatch builds an IntegrityError for byte counts.
func NewSizeMismatch(what string, expected, actual int64) *IntegrityError {
	return &IntegrityError{What: what, Expected: fmt.Sprintf("%d bytes", expected), Actual: fmt.Sprintf("%d bytes", actual)}
}

// IsTransportError reports whether err wraps a TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsAborted reports whether err is a TransferAbortedError.
func IsAborted(err error) bool {
	return errors.Is(err, ErrAborted)
}

// IsAlreadyExists reports whether err wraps an AlreadyExistsError.
func IsAlreadyExists(err error) bool {
	var ae *AlreadyExistsError
	return errors.As(err, &ae)
}

// IsIntegrityError reports whether err wraps an IntegrityError.
func IsIntegrityError(err error) bool {
	var ie *IntegrityError
	return errors.As(err, &ie)
}

// AbortedOr converts err into a TransferAbortedError when ctx has been cancelled,
// otherwise it returns err unchanged. Orchestrators call it at their boundary so
// that cancellation is never reported as a transport failure.
func AbortedOr(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if IsAborted(err) {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return &TransferAbortedError{Op: op, Cause: context.Cause(ctx)}
	}
	return err
}

// IsDiskFullError checks if an error is likely caused by running out of disk space
//
// Checks for common error strings across different operating systems:
//   - Linux/Unix: "no space left on device", "enospc"
//   - Windows: "out of disk space", "insufficient disk space"
//   - Quota: "disk quota exceeded"
func IsDiskFullError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrInsufficientSpace) {
		return true
	}

	errStr := strings.ToLower(err.Error())

	diskFullIndicators := []string{
		"no space left on device",
		"disk full",
		"out of disk space",
		"insufficient disk space",
		"not enough space",
		"enospc",
		"disk quota exceeded",
	}

	for _, indicator := range diskFullIndicators {
		if strings.Contains(errStr, indicator) {
			return true
		}
	}

	return false
}

// IsRetryable reports whether a batch file upload failure is worth another attempt.
// Conflicts, integrity failures and aborts are final; everything else is retried.
func IsRetryable(err error) bool {
	if err == nil || IsAlreadyExists(err) || IsAborted(err) || IsIntegrityError(err) {
		return false
	}
	var te *TransportError
	if errors.As(err, &te) && te.StatusCode >= 400 && te.StatusCode < 500 &&
		te.StatusCode != 408 && te.StatusCode != 429 {
		// 403 on an expired presigned URL is still worth a retry with a fresh URL
		return te.StatusCode == 403
	}
	return true
}
