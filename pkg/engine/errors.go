package engine

import "errors"

// transientError marks a failure as infrastructure-class: the job layer
// retries it with backoff. Anything not marked transient is a business
// failure and is never retried.
type transientError struct {
	err error
}

func (e *transientError) Error() string {
	return "transient: " + e.err.Error()
}

func (e *transientError) Unwrap() error {
	return e.err
}

// Transient wraps an error so the worker retry policy applies to it.
func Transient(err error) error {
	if err == nil {
		return nil
	}

	return &transientError{err: err}
}

// IsTransient reports whether any error in the chain is retryable.
func IsTransient(err error) bool {
	var transient *transientError

	return errors.As(err, &transient)
}
