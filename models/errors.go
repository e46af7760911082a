package models

import (
	"errors"

	mysqlDriver "github.com/go-sql-driver/mysql"
)

var (
	// ErrInsufficientStock is returned when a reserve/exit would take
	// available quantity below zero. Reported to the caller; never
	// retried automatically.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrLockWaitTimeout is the retryable mapping of a row-lock wait
	// that exceeded the engine's timeout. Callers may retry with backoff.
	ErrLockWaitTimeout = errors.New("lock wait timeout; retry the operation")

	ErrReservationNotActive = errors.New("reservation is not active")
	ErrStockItemArchived    = errors.New("stock item is archived")
)

const (
	mysqlErrDuplicateKey    = 1062
	mysqlErrLockWaitTimeout = 1205
	mysqlErrDeadlock        = 1213
)

func IsDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == mysqlErrDuplicateKey
	}
	return false
}

// MapLockError converts the engine's lock conflicts (wait timeout 1205 and
// deadlock 1213, the latter possible on the lazy-create gap locks in
// LockStockItemForUpdate) into the retryable sentinel so callers do not
// need to know MySQL error numbers.
func MapLockError(err error) error {
	if err == nil {
		return nil
	}
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case mysqlErrLockWaitTimeout, mysqlErrDeadlock:
			return ErrLockWaitTimeout
		}
	}
	return err
}
