package forwarder

import "fmt"

// Error carries an HTTP status code alongside a caller-facing message, so
// the router can translate it directly into a JSON error response without
// re-deriving the status from the error text.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d: %s", e.Status, e.Message)
}

func newError(status int, format string, args ...interface{}) *Error {
	return &Error{Status: status, Message: fmt.Sprintf(format, args...)}
}
