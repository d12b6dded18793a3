package database

import (
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

// Options 描述如何打开业务数据库
type Options struct {
	Driver string
	DSN    string
	// LockWaitTimeout 行锁等待上限，超时后由数据库返回错误而不是无限阻塞
	LockWaitTimeout time.Duration
	MaxOpenConns    int
}

// Open 根据驱动打开 GORM 连接
// 生产使用 MySQL (InnoDB 行锁)，本地和测试使用 SQLite
func Open(opts Options) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(opts.Driver) {
	case "", DriverMySQL:
		dsn, err := mysqlDSN(opts.DSN, opts.LockWaitTimeout)
		if err != nil {
			return nil, err
		}
		dialector = gormmysql.Open(dsn)
	case DriverSQLite:
		dialector = sqlite.Open(opts.DSN)
	default:
		return nil, errors.Errorf("unsupported storage driver %q", opts.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		// 让唯一键冲突统一翻译为 gorm.ErrDuplicatedKey
		TranslateError: true,
		Logger: gormlogger.New(&log.Logger, gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open %s database", opts.Driver)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "get sql.DB")
	}
	if IsSQLite(db) {
		// SQLite 只有库级写锁，单连接让事务天然串行
		sqlDB.SetMaxOpenConns(1)
	} else if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
		sqlDB.SetMaxIdleConns(opts.MaxOpenConns)
	}
	return db, nil
}

// IsSQLite 判断当前连接的方言，SQLite 不支持 SELECT ... FOR UPDATE
func IsSQLite(db *gorm.DB) bool {
	return db.Dialector.Name() == DriverSQLite
}

func mysqlDSN(raw string, lockWait time.Duration) (string, error) {
	cfg, err := mysql.ParseDSN(raw)
	if err != nil {
		return "", errors.Wrap(err, "parse mysql dsn")
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	if lockWait > 0 {
		if cfg.Params == nil {
			cfg.Params = map[string]string{}
		}
		secs := int(lockWait / time.Second)
		if secs < 1 {
			secs = 1
		}
		cfg.Params["innodb_lock_wait_timeout"] = strconv.Itoa(secs)
	}
	return cfg.FormatDSN(), nil
}
