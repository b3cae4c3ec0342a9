package repository

import (
	"database/sql"
	"errors"
	"fmt"
)

// Sentinels wrapped by every repository; match them with errors.Is.
var (
	ErrNotFound = errors.New("record not found")

	// ErrDuplicate reports an insert that lost to an existing row with the
	// same natural key.
	ErrDuplicate = errors.New("record already exists")

	ErrInvalidEntity = errors.New("record is missing required fields")
)

// lookupErr turns the error of a single-row lookup into ErrNotFound for
// subject when no row matched.
func lookupErr(err error, subject, action string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", subject, ErrNotFound)
	}
	return fmt.Errorf("failed to %s: %w", action, err)
}
