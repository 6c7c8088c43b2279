package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidIdentifier = errors.New("invalid identifier")
	ErrUnknownPartition  = errors.New("unknown partition key")
	ErrInvalidSite       = errors.New("invalid site")
	ErrNoAvailableSite   = errors.New("no available site")
	ErrDuplicateKey      = errors.New("already exists")
	ErrForeignReference  = errors.New("referenced entity missing")
	ErrConnectivity      = errors.New("site unreachable")

	// ErrMigrationInProgress is returned when a migration is requested for a
	// group that already has an unfinished run in the step log. Re-entering a
	// partially committed migration would double-insert rows, so the caller
	// must resolve the stale run first.
	ErrMigrationInProgress = errors.New("migration already in progress")
)

// MigrationPartialError reports a migration that failed after one or more
// steps had already committed. The sites involved are left inconsistent and
// require operator intervention; there is no automatic compensation.
type MigrationPartialError struct {
	GroupID string
	Step    string
	Err     error
}

func (e *MigrationPartialError) Error() string {
	return fmt.Sprintf("migration of group %s failed at step %s: %v", e.GroupID, e.Step, e.Err)
}

func (e *MigrationPartialError) Unwrap() error {
	return e.Err
}

// IsTaxonomy reports whether err is one of the classified application errors,
// as opposed to an unclassified driver or programming error.
func IsTaxonomy(err error) bool {
	for _, sentinel := range []error{
		ErrNotFound,
		ErrInvalidIdentifier,
		ErrUnknownPartition,
		ErrInvalidSite,
		ErrNoAvailableSite,
		ErrDuplicateKey,
		ErrForeignReference,
		ErrConnectivity,
		ErrMigrationInProgress,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	var partial *MigrationPartialError
	return errors.As(err, &partial)
}
