package factory

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mikey/mail-trust/internal/adapters/storage"
	"github.com/mikey/mail-trust/internal/config"
	"github.com/mikey/mail-trust/internal/core"
	"go.uber.org/zap"
)

// StoreFactory creates the datastore based on configuration
type StoreFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewStoreFactory creates a new store factory
func NewStoreFactory(cfg *config.Config, logger *zap.Logger) *StoreFactory {
	return &StoreFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateStore opens the configured datastore
func (f *StoreFactory) CreateStore() (core.Store, error) {
	storageCfg := f.cfg.GetStorage()

	switch storageCfg.Driver {
	case "memory":
		return storage.NewMemoryStore(f.logger, storageCfg.LogRetention, storageCfg.CleanupFrequency), nil
	case storage.DriverSQLite:
		if storageCfg.DSN == "" {
			return nil, fmt.Errorf("storage.dsn is required for %s", storageCfg.Driver)
		}
		if storageCfg.DSN != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(storageCfg.DSN), 0o755); err != nil {
				return nil, fmt.Errorf("failed to create SQLite directory: %w", err)
			}
		}
		return storage.NewSQLStore(storageCfg.Driver, storageCfg.DSN, f.logger, storageCfg.LogRetention, storageCfg.CleanupFrequency)
	case storage.DriverMySQL, storage.DriverPostgres:
		if storageCfg.DSN == "" {
			return nil, fmt.Errorf("storage.dsn is required for %s", storageCfg.Driver)
		}
		return storage.NewSQLStore(storageCfg.Driver, storageCfg.DSN, f.logger, storageCfg.LogRetention, storageCfg.CleanupFrequency)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", storageCfg.Driver)
	}
}
