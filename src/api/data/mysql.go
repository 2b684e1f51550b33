package data

import (
	"fmt"
	"strings"

	"github.com/A-I-dle-Mod/aidle-mod-backend/src/api/types"
	"github.com/A-I-dle-Mod/aidle-mod-backend/src/logging"
	"github.com/A-I-dle-Mod/aidle-mod-backend/src/moderation"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// ConnectMySQL opens a gorm DB with sane defaults. Times are read and written
// in server-local time so that daily windows line up with local midnight.
func ConnectMySQL(dsn string, logger *zap.Logger) (*gorm.DB, error) {
	dsn = ensureParam(dsn, "parseTime", "true")
	dsn = ensureParam(dsn, "loc", "Local")
	if !strings.Contains(dsn, "charset=") {
		dsn = ensureParam(dsn, "charset", "utf8mb4")
		dsn = ensureParam(dsn, "collation", "utf8mb4_unicode_ci")
	}

	return gorm.Open(mysql.Open(dsn), &gorm.Config{Logger: logging.Gorm(logger)})
}

func MustMySQL(dsn string, logger *zap.Logger) *gorm.DB {
	db, err := ConnectMySQL(dsn, logger)
	if err != nil {
		logger.Fatal("mysql", zap.Error(err))
	}
	return db
}

// Migrate creates or updates every table the service owns.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(types.AllModels...); err != nil {
		return fmt.Errorf("automigrate: %w", err)
	}
	return nil
}

func ensureParam(dsn, key, val string) string {
	if strings.Contains(dsn, key+"=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + key + "=" + val
}

// storeErr tags a database failure so callers can map it to 503.
func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, moderation.ErrStoreUnavailable, err)
}
