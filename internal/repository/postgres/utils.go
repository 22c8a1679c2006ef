package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/kirinyoku/tixflow/internal/repository"
)

// wrapDBErr maps common DB errors to repository-level errors and wraps them with
// the provided operation name. Retryable errors keep their original chain.
func wrapDBErr(op string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s:%w", op, repository.ErrNotFound)
	}

	var pge *pgconn.PgError
	if errors.As(err, &pge) {
		switch pge.Code {
		// unique_violation
		case "23505":
			return fmt.Errorf("%s:%w", op, repository.ErrConflict)
		// check_violation
		case "23514":
			return fmt.Errorf("%s:%w: %s", op, repository.ErrConflict, pge.ConstraintName)
		// read_only_sql_transaction
		case "25006":
			return fmt.Errorf("%s:%w", op, repository.ErrReadOnly)
		}
	}

	return fmt.Errorf("%s:%w", op, err)
}
