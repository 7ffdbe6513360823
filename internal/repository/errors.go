package repository

import (
	"errors"

	"github.com/lib/pq"
)

// Sentinel errors surfaced to services in addition to sql.ErrNoRows.
var (
	ErrDuplicate         = errors.New("duplicate record")
	ErrInsufficientStock = errors.New("insufficient stock")
)

const pqUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation
}
