// Package models defines the persistent entities of the retrieval engine:
// Library -> Document -> Chapter -> Chunk, with plain foreign-key ids
// instead of loaded object graphs. All data access goes through explicit
// package-level functions taking a *gorm.DB.
package models

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/acervolabs/acervo/pkg/apperr"
)

// pgUniqueViolation is the SQLSTATE for unique constraint violations.
const pgUniqueViolation = "23505"

// isUniqueViolation reports whether err is a Postgres unique violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// persistErr wraps a store error as a persistence failure.
func persistErr(op string, err error) error {
	return apperr.Wrap(apperr.KindPersistence, op, err)
}
