package errs

import (
	"fmt"
	"strings"
)

// BatchError reports the unit that failed in a multi-unit operation.
//
// Units listed in Completed were applied before the failure and remain in
// place; nothing after the failed unit was attempted.
type BatchError struct {
	Unit      string
	Completed []string
	Err       error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch failed at %s (completed: [%s]): %v",
		e.Unit, strings.Join(e.Completed, ", "), e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}
