package graph

import "fmt"

// IntegrityError represents a single graph construction failure.
type IntegrityError struct {
	Path   string // Node path
	Reason string // Human-readable reason for failure
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("node %q: %s", e.Path, e.Reason)
}

// AggregateError represents multiple integrity failures.
type AggregateError struct {
	Errors []error
}

func (e *AggregateError) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	msg := fmt.Sprintf("%d integrity errors:\n", len(e.Errors))
	for i, err := range e.Errors {
		msg += fmt.Sprintf("  %d. %s\n", i+1, err.Error())
	}
	return msg
}

// Unwrap exposes the individual failures to errors.Is / errors.As.
func (e *AggregateError) Unwrap() []error {
	return e.Errors
}

// IntegrityErrors returns all failures if err is an AggregateError.
// Otherwise returns nil.
func IntegrityErrors(err error) []error {
	if aggr, ok := err.(*AggregateError); ok {
		return aggr.Errors
	}
	return nil
}
