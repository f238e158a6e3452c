package ledger

import (
	"fmt"

	"github.com/duedate/emitracker/pkg/store"
)

// ErrNotFound is returned (wrapped) when a referenced customer or installment does not exist.
var ErrNotFound = store.ErrNotFound

// ValidationError reports input the ledger refused to apply. No state is changed when it is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
