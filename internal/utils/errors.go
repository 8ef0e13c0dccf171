package utils

import "fmt"

// CollabError describes a failed call to an external collaborator, such as
// the billing or reasoning service. Op names the call site, Msg says what
// went wrong in operator terms.
type CollabError struct {
	Op  string
	Msg string
	Err error
}

func (e *CollabError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
}

func (e *CollabError) Unwrap() error {
	return e.Err
}

// NewCollabError constructs a CollabError.
func NewCollabError(op, msg string, err error) error {
	return &CollabError{Op: op, Msg: msg, Err: err}
}
