package domain

import "fmt"

// MalformedEntityError reports a server record that violates a model
// invariant. Sweeps log these and continue; they are never retried.
type MalformedEntityError struct {
	Kind   string
	ID     string
	Field  string
	Reason string
}

func (e *MalformedEntityError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("malformed %s: %s: %s", e.Kind, e.Field, e.Reason)
	}
	return fmt.Sprintf("malformed %s %s: %s: %s", e.Kind, e.ID, e.Field, e.Reason)
}
