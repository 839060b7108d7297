// Package repository implements persistence on MySQL.  Sentinel errors
// shared by several repositories live here so handlers and services can
// tell failure modes apart with errors.Is.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

// ErrConflict is returned when a write collides with existing state,
// such as a duplicate unique key.
var ErrConflict = errors.New("conflict")

// MySQL error numbers the repositories react to.
const (
	errDupEntry        = 1062
	errLockWaitTimeout = 1205
	errDeadlock        = 1213
)

func mysqlErrNumber(err error) uint16 {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number
	}
	return 0
}

// retryable reports whether err is a lock conflict that a fresh
// transaction may not hit again.
func retryable(err error) bool {
	n := mysqlErrNumber(err)
	return n == errDeadlock || n == errLockWaitTimeout
}

func isDuplicate(err error) bool { return mysqlErrNumber(err) == errDupEntry }

// inTx runs fn inside a transaction and commits it.  Deadlocks and lock
// wait timeouts restart the whole transaction up to attempts times; any
// other error rolls back and is returned unchanged.
func inTx(ctx context.Context, db *sql.DB, attempts int, fn func(tx *sql.Tx) error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(i*10) * time.Millisecond):
			}
		}
		err = runTx(ctx, db, fn)
		if err == nil || !retryable(err) {
			return err
		}
	}
	return err
}

func runTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func uint64Args(ids []uint64) []interface{} {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
