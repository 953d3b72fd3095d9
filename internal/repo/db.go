package repo

import (
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type gormWriter struct{ log *zap.SugaredLogger }

func (w gormWriter) Printf(format string, args ...interface{}) { w.log.Warnf(format, args...) }

// Open connects to the database. driver is "postgres" (default) or "sqlite".
// SQLite is limited to one connection so writers serialize instead of
// failing with SQLITE_BUSY.
func Open(driver, dsn string, log *zap.SugaredLogger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "", "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{
		PrepareStmt:    driver != "sqlite",
		TranslateError: true,
		Logger: gormlogger.New(gormWriter{log: log}, gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, err
	}
	if driver == "sqlite" {
		sqlDB, err := gdb.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return gdb, nil
}
