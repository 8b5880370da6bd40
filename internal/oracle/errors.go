package oracle

import (
	"errors"
	"fmt"
)

// ErrMalformedResponse matches any MalformedResponseError via errors.Is.
var ErrMalformedResponse = errors.New("malformed oracle response")

// MalformedResponseError reports oracle output that is not a JSON object
// carrying the expected string key.
type MalformedResponseError struct {
	Key string // key the response was expected to carry
	Raw string // the response text, verbatim
	Err error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed oracle response (want key %q): %v", e.Key, e.Err)
}

func (e *MalformedResponseError) Unwrap() error {
	return e.Err
}

func (e *MalformedResponseError) Is(target error) bool {
	return target == ErrMalformedResponse
}
