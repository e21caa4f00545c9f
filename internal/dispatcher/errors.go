package dispatcher

import "fmt"

// ValidationError represents a fatal problem with the task itself.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s", e.Message)
}

// CancelledError is returned when a task was cancelled while it ran.
type CancelledError struct {
	ID string
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("task %s cancelled", e.ID)
}
