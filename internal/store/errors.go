package store

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrTrackingCodeTaken = errors.New("tracking code already issued")
	ErrDuplicate         = errors.New("duplicate value")
	ErrInvalidReference  = errors.New("referenced row does not exist")
	ErrStatusChanged     = errors.New("suggestion status changed concurrently")
)

// DepartmentInUseError blocks deleting a department that staff accounts or
// suggestions still point at.
type DepartmentInUseError struct {
	DepartmentID int64
	Staff        int
	Suggestions  int
}

func (e *DepartmentInUseError) Error() string {
	return fmt.Sprintf("department %d is referenced by %d staff accounts and %d suggestions", e.DepartmentID, e.Staff, e.Suggestions)
}

const (
	sqlstateUniqueViolation     = "23505"
	sqlstateForeignKeyViolation = "23503"

	trackingCodeConstraint = "suggestions_tracking_code_key"
)

// translate maps Postgres constraint violations onto the store sentinels.
func translate(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case sqlstateUniqueViolation:
		if pgErr.ConstraintName == trackingCodeConstraint {
			return fmt.Errorf("%w: %s", ErrTrackingCodeTaken, pgErr.Message)
		}
		return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.ConstraintName)
	case sqlstateForeignKeyViolation:
		return fmt.Errorf("%w: %s", ErrInvalidReference, pgErr.ConstraintName)
	}
	return err
}
