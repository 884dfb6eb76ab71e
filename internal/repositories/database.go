package repositories

import (
	"context"
	"fmt"

	"mpesa-orders/internal/models"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Store bundles the repositories backing the service.
type Store struct {
	DB            *gorm.DB // nil for the in-memory driver
	Orders        OrderRepository
	Notifications NotificationRepository
	Users         UserRepository
}

// Open connects to the configured driver ("postgres", "sqlite" or "memory") and migrates
// the schema.
func Open(driver, dsn string, log *zap.Logger) (*Store, error) {
	if driver == "memory" {
		log.Warn("using in-memory repositories, data is lost on restart")
		return &Store{
			Orders:        NewMockOrderRepository(),
			Notifications: NewMockNotificationRepository(),
			Users:         NewMockUserRepository(),
		}, nil
	}

	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return NewGORMStore(db)
}

// NewGORMStore migrates the schema on db and returns GORM-backed repositories.
func NewGORMStore(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&models.Order{}, &models.Notification{}, &models.User{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Store{
		DB:            db,
		Orders:        NewGORMOrderRepository(db),
		Notifications: NewGORMNotificationRepository(db),
		Users:         NewGORMUserRepository(db),
	}, nil
}

// Ping checks the database connection. The in-memory store always answers.
func (s *Store) Ping(ctx context.Context) error {
	return s.Orders.Ping(ctx)
}

// Close releases the database connection pool.
func (s *Store) Close() error {
	if s.DB == nil {
		return nil
	}
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
