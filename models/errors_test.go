package models

import (
	"errors"
	"fmt"
	"testing"

	mysqlDriver "github.com/go-sql-driver/mysql"
)

func TestMapLockError_RetryableConflicts(t *testing.T) {
	cases := []struct {
		number uint16
		want   error
	}{
		{1205, ErrLockWaitTimeout}, // lock wait timeout
		{1213, ErrLockWaitTimeout}, // deadlock
	}
	for _, tc := range cases {
		err := fmt.Errorf("create stock item: %w", &mysqlDriver.MySQLError{Number: tc.number})
		if got := MapLockError(err); !errors.Is(got, tc.want) {
			t.Errorf("MapLockError(mysql %d) = %v, want %v", tc.number, got, tc.want)
		}
	}
}

func TestMapLockError_PassesThroughOtherErrors(t *testing.T) {
	plain := errors.New("broken pipe")
	if got := MapLockError(plain); got != plain {
		t.Fatalf("MapLockError(plain) = %v, want the same error back", got)
	}
	dup := &mysqlDriver.MySQLError{Number: 1062}
	if got := MapLockError(dup); got != error(dup) {
		t.Fatalf("MapLockError(1062) = %v, want pass-through", got)
	}
	if MapLockError(nil) != nil {
		t.Fatal("MapLockError(nil) should stay nil")
	}
}

func TestIsDuplicateKeyErr(t *testing.T) {
	if !IsDuplicateKeyErr(&mysqlDriver.MySQLError{Number: 1062}) {
		t.Fatal("1062 should be a duplicate key error")
	}
	if IsDuplicateKeyErr(&mysqlDriver.MySQLError{Number: 1205}) {
		t.Fatal("1205 is not a duplicate key error")
	}
	if IsDuplicateKeyErr(errors.New("nope")) {
		t.Fatal("plain errors are not duplicate key errors")
	}
}
