package database

import (
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"circle-planning-backend/models"
)

// DB is the global database connection.
var DB *gorm.DB

// InitDB opens the database and migrates the planning schema. DB_DRIVER
// selects mysql (default) or sqlite; the sqlite path is what local
// development runs against.
func InitDB() error {
	newLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  true,
		},
	)

	var err error
	switch getEnv("DB_DRIVER", "mysql") {
	case "sqlite":
		path := getEnv("DB_PATH", "circle_planning.db")
		log.Printf("using sqlite database at %s", path)
		DB, err = gorm.Open(sqlite.Open(path), &gorm.Config{Logger: newLogger})
	default:
		dbUser := getEnv("DB_USER", "circleuser")
		dbPassword := getEnv("DB_PASSWORD", "circlepassword")
		dbHost := getEnv("DB_HOST", "mysql")
		dbPort := getEnv("DB_PORT", "3306")
		dbName := getEnv("DB_NAME", "circledb")

		dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			dbUser, dbPassword, dbHost, dbPort, dbName)

		log.Println("using mysql database")
		DB, err = gorm.Open(mysql.Open(dsn), &gorm.Config{Logger: newLogger})
	}
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}

	if err := Migrate(DB); err != nil {
		return err
	}

	log.Println("database connected and migrated")
	return nil
}

// Migrate creates or updates the planning schema on db.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.PlanningRecord{},
		&models.EventRecord{},
		&models.Message{},
	); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// CloseDB closes the underlying connection pool.
func CloseDB() {
	if DB == nil {
		return
	}
	sqlDB, err := DB.DB()
	if err != nil {
		log.Printf("fetch sql.DB failed: %v", err)
		return
	}
	if err := sqlDB.Close(); err != nil {
		log.Printf("close database failed: %v", err)
		return
	}
	log.Println("database connection closed")
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
