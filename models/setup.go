package models

import (
	"fmt"

	"PRESENCE/logger"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// ConnectDatabase opens the MySQL connection, migrates the tables this service
// owns.
func ConnectDatabase(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database url is empty")
	}

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if err := db.AutoMigrate(&UserFace{}, &KVEntry{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	logger.Info("database connection established")
	return db, nil
}
