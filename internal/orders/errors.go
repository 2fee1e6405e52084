package orders

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrPaymentDeclined = errors.New("payment declined")
	ErrAlreadyFinal    = errors.New("order already finalized")
)

// ValidationError is a client fault: the request is missing or carries a
// malformed field. Never retried.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid request: missing or malformed %s", e.Field)
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
