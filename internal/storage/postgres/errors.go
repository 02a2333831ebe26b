package postgres

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/drafts/internal/domain"
)

var errNotInitialized = errors.New("postgres store is not initialized")

const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// pgError извлекает ошибку сервера из цепочки.
func pgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	ok := errors.As(err, &pgErr)
	return pgErr, ok
}

func isUniqueViolation(err error) bool {
	pgErr, ok := pgError(err)
	return ok && pgErr.Code == pgUniqueViolation
}

// isUniqueViolationOf сужает проверку до конкретного ограничения.
func isUniqueViolationOf(err error, constraint string) bool {
	pgErr, ok := pgError(err)
	return ok && pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == constraint
}

// classify делит ошибки БД на временные (повторяемые) и фатальные.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) {
		return domain.Transient(op, err)
	}

	if pgErr, ok := pgError(err); ok {
		switch code := pgErr.Code; {
		case code == pgSerializationFailure, code == pgDeadlockDetected:
			return domain.Transient(op, err)
		case strings.HasPrefix(code, "08"), strings.HasPrefix(code, "57P"):
			// обрыв соединения или остановка сервера
			return domain.Transient(op, err)
		}
		return domain.Fatal(op, err)
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return domain.Transient(op, err)
	}
	return domain.Fatal(op, err)
}
