package embedder

import "fmt"

// ServiceError reports a failure of the external embedding model. Items that
// hit one are marked failed with a retryable flag and picked up by a later
// run rather than retried inline.
type ServiceError struct {
	Model string
	Err   error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("embedding service (%s): %v", e.Model, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}
