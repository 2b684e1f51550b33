package logging

import (
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm/logger"
)

// Gorm routes gorm's logger through zap. Slow queries are reported as warnings.
func Gorm(l *zap.Logger) logger.Interface {
	std := zap.NewStdLog(l.With(zap.String("component", "database")))
	return logger.New(std, logger.Config{
		SlowThreshold:             time.Second,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}
