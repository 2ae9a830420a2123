package registry

// NonRetryableError marks a row or message that will fail the same way on
// every attempt.
type NonRetryableError struct {
	Err error
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error { return e.Err }

// NewNonRetryableError wraps err as a NonRetryableError.
func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}
