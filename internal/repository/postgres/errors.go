// internal/repository/postgres/errors.go
package postgres

import (
	"database/sql"
	"errors"

	"custody-ledger/internal/util"

	"github.com/lib/pq"
)

const uniqueViolation = pq.ErrorCode("23505")

// translate maps driver errors onto the util sentinels services check for.
func translate(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return util.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return util.ErrDuplicateEntry
	}
	return err
}

// expectOne turns a zero-row update into util.ErrNotFound.
func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return util.ErrNotFound
	}
	return nil
}
