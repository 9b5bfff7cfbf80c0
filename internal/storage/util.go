package storage

import "github.com/jmoiron/sqlx"

// sqlxIn expands a `column NOT IN (?)`-style slice argument into the
// right number of placeholders before the caller rebinds for its driver.
func sqlxIn(query string, args ...any) (string, []any, error) {
	return sqlx.In(query, args...)
}
