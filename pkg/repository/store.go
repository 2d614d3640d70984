package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/tableorder/pkg/config"
	"github.com/example/tableorder/pkg/models"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Store is the transactional record store for tables, products, orders
// and print jobs.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

func Open(cfg *config.DatabaseConfig, logger *zap.Logger) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "mysql":
		dialector = mysql.Open(cfg.DSN())
	case "postgres":
		dialector = postgres.Open(cfg.DSN())
	case "sqlite", "":
		dialector = sqlite.Open(cfg.DSN())
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.New(zap.NewStdLog(logger.Named("gorm")), gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", dialector.Name(), err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get connection pool: %w", err)
	}
	if dialector.Name() == "sqlite" {
		// SQLite has a single writer; one connection avoids SQLITE_BUSY.
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	return NewStore(db, logger), nil
}

func NewStore(db *gorm.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// View runs fn against the store outside a write transaction.
func (s *Store) View(ctx context.Context, fn func(tx *Tx) error) error {
	return fn(&Tx{db: s.db.WithContext(ctx)})
}

// Update runs fn in one transaction. Errors returned by fn roll the
// transaction back and are returned unchanged; a failure to begin or
// commit is reported as ErrStorageUnavailable.
func (s *Store) Update(ctx context.Context, fn func(tx *Tx) error) error {
	var fnErr error
	err := s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		fnErr = fn(&Tx{db: db})
		return fnErr
	})
	if err == nil {
		return nil
	}
	if fnErr != nil {
		return fnErr
	}
	return storageError("commit", err)
}

// LookupProducts returns the catalog entries for ids keyed by id.
// Unknown ids are simply absent from the result.
func (s *Store) LookupProducts(ctx context.Context, ids []uint) (map[uint]models.Product, error) {
	var products []models.Product
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&products).Error; err != nil {
		return nil, storageError("lookup products", err)
	}

	byID := make(map[uint]models.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}
	return byID, nil
}

// PendingPrintJobs returns unprinted jobs in creation order.
func (s *Store) PendingPrintJobs(ctx context.Context, limit int) ([]models.PrintJob, error) {
	query := s.db.WithContext(ctx).Where("is_printed = ?", false).Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var jobs []models.PrintJob
	if err := query.Find(&jobs).Error; err != nil {
		return nil, storageError("list pending print jobs", err)
	}
	return jobs, nil
}

func (s *Store) PrintJob(ctx context.Context, id uint) (*models.PrintJob, error) {
	var job models.PrintJob
	if err := s.db.WithContext(ctx).First(&job, id).Error; err != nil {
		return nil, storageError(fmt.Sprintf("print job %d", id), err)
	}
	return &job, nil
}

// MarkPrintJobPrinted flags a job as printed. Marking an already printed
// job keeps its original PrintedAt.
func (s *Store) MarkPrintJobPrinted(ctx context.Context, id uint) (*models.PrintJob, error) {
	var job models.PrintJob
	err := s.Update(ctx, func(tx *Tx) error {
		if err := tx.db.First(&job, id).Error; err != nil {
			return storageError(fmt.Sprintf("print job %d", id), err)
		}
		if job.IsPrinted {
			return nil
		}
		now := time.Now()
		if err := tx.db.Model(&job).Updates(map[string]interface{}{"is_printed": true, "printed_at": now}).Error; err != nil {
			return storageError("mark print job printed", err)
		}
		job.IsPrinted = true
		job.PrintedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func storageError(op string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", op, models.ErrNotFound)
	}
	return fmt.Errorf("%s: %w: %v", op, models.ErrStorageUnavailable, err)
}
