package repo

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrConflict indicates a unique constraint violation.
	ErrConflict = errors.New("repo: conflict")
	// ErrConstraint indicates a check or foreign key violation.
	ErrConstraint = errors.New("repo: constraint violation")
)

// translate maps Postgres error codes onto repo sentinels, keeping the
// original error in the chain.
func translate(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "23505":
		return fmt.Errorf("%w: %s: %w", ErrConflict, pgErr.ConstraintName, err)
	case "23503", "23514", "23502":
		return fmt.Errorf("%w: %s: %w", ErrConstraint, pgErr.ConstraintName, err)
	default:
		return err
	}
}
