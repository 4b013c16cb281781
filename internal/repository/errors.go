// Package repository holds the SQL data access layer.  The sentinel
// errors below let higher layers distinguish failure scenarios without
// inspecting driver errors; wrap them with fmt.Errorf("...: %w") when
// adding context.
package repository

import (
	"errors"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/go-sql-driver/mysql"
)

// ErrNotFound is returned when the requested row does not exist or has
// been soft-deleted.
var ErrNotFound = errors.New("not found")

// ErrForbidden is returned when the caller attempts an operation on a
// resource they do not own.
var ErrForbidden = errors.New("forbidden")

// ErrConflict is returned when an update cannot be performed because of
// the row's current state, such as cancelling a ticket that is not PAID.
var ErrConflict = errors.New("conflict")

// ErrSeatHeld is returned by HoldRepo.Acquire when another live hold
// already exists for the seat.
var ErrSeatHeld = errors.New("seat held")

// ErrSeatBooked is returned when a PAID ticket already exists for the
// seat.  Both Acquire and ticket creation report it.
var ErrSeatBooked = errors.New("seat booked")

const (
	mysqlDuplicateEntry  = 1062
	sqliteConstraintCode = 19
)

// isDuplicateKey reports whether err is a primary-key or unique-index
// violation from either supported driver.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlDuplicateEntry
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
