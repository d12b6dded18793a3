package database

import (
	"fmt"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestIsLockTimeout(t *testing.T) {
	assert.True(t, IsLockTimeout(&mysql.MySQLError{Number: 1205, Message: "Lock wait timeout exceeded"}))
	assert.True(t, IsLockTimeout(fmt.Errorf("wrapped: %w", &mysql.MySQLError{Number: 1213})))
	assert.True(t, IsLockTimeout(sqlite3.Error{Code: sqlite3.ErrBusy}))
	assert.False(t, IsLockTimeout(&mysql.MySQLError{Number: 1062}))
	assert.False(t, IsLockTimeout(nil))
}

func TestIsDuplicate(t *testing.T) {
	assert.True(t, IsDuplicate(gorm.ErrDuplicatedKey))
	assert.True(t, IsDuplicate(&mysql.MySQLError{Number: 1062}))
	assert.True(t, IsDuplicate(sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique}))
	assert.False(t, IsDuplicate(gorm.ErrRecordNotFound))
}

func TestMySQLDSNCarriesLockWaitTimeout(t *testing.T) {
	dsn, err := mysqlDSN("app:secret@tcp(db:3306)/stock", 3*time.Second)
	require.NoError(t, err)

	cfg, err := mysql.ParseDSN(dsn)
	require.NoError(t, err)
	assert.Equal(t, "3", cfg.Params["innodb_lock_wait_timeout"])
	assert.True(t, cfg.ParseTime)
}

func TestOpenSQLite(t *testing.T) {
	db, err := Open(Options{Driver: DriverSQLite, DSN: "file:open_test?mode=memory&cache=shared"})
	require.NoError(t, err)
	assert.True(t, IsSQLite(db))

	_, err = Open(Options{Driver: "oracle"})
	assert.Error(t, err)
}
