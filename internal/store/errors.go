package store

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// ErrNotFound is returned when a query matches no row.
var ErrNotFound = errors.New("record not found")

// ErrDuplicateMessageID is returned by InsertInboundEmail when the
// normalized message-id already has a row: at most one row may exist per
// logical message.
var ErrDuplicateMessageID = errors.New("duplicate message id")

func notFound(entity string) error {
	return fmt.Errorf("%s: %w", entity, ErrNotFound)
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func isUniqueViolation(err error) bool {
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}
