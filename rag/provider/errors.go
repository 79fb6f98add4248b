package provider

import (
	"errors"
	"fmt"
	"strings"
)

// Backend failures are classified so callers can report them, but nothing here
// retries: a failed call fails the stage.
var (
	ErrRateLimited = errors.New("rate limited by backend")
	ErrServer      = errors.New("backend server error")
)

func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case isRateLimitError(err):
		return fmt.Errorf("%w: %w", ErrRateLimited, err)
	case isServerError(err):
		return fmt.Errorf("%w: %w", ErrServer, err)
	default:
		return err
	}
}

func isRateLimitError(err error) bool {
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "too many requests")
}

func isServerError(err error) bool {
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "internal server error") ||
		strings.Contains(errStr, "server_error")
}
