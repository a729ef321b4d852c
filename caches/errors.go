package caches

import "fmt"

// ValidationError reports a backend that was constructed with unusable
// configuration.
type ValidationError struct {
	Reason string
}

func (ve ValidationError) Error() string {
	return fmt.Sprintf("creation of cache store failed: %s", ve.Reason)
}
