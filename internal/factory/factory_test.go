package factory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/mikey/mail-trust/internal/adapters/filter"
	"github.com/mikey/mail-trust/internal/adapters/openai"
	"github.com/mikey/mail-trust/internal/adapters/storage"
	"github.com/mikey/mail-trust/internal/config"
	"github.com/mikey/mail-trust/internal/oracle"
	"github.com/mikey/mail-trust/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig(settings map[string]interface{}) *config.Config {
	v := config.NewEmptyViper()
	for k, val := range settings {
		v.Set(k, val)
	}
	return config.NewFromViper(v)
}

func TestCreateOracle(t *testing.T) {
	logger := zap.NewNop()
	tp := utils.NewTextProcessor(logger)

	o, err := NewOracleFactory(testConfig(nil), logger, tp).CreateOracle(context.Background())
	require.NoError(t, err)
	assert.Nil(t, o)

	f := NewOracleFactory(testConfig(map[string]interface{}{"oracle.provider": "openai"}), logger, tp)
	_, err = f.CreateOracle(context.Background())
	assert.Error(t, err, "api key is required")

	f = NewOracleFactory(testConfig(map[string]interface{}{
		"oracle.provider": "openai",
		"openai.api_key":  "sk-test",
	}), logger, tp)
	o, err = f.CreateOracle(context.Background())
	require.NoError(t, err)
	assert.IsType(t, &openai.OpenAIClient{}, o)

	f = NewOracleFactory(testConfig(map[string]interface{}{"oracle.provider": "llama"}), logger, tp)
	_, err = f.CreateOracle(context.Background())
	assert.Error(t, err)
}

func TestCreateGuardDisabled(t *testing.T) {
	logger := zap.NewNop()
	f := NewOracleFactory(testConfig(nil), logger, utils.NewTextProcessor(logger))

	guard := f.CreateGuard(nil)
	_, err := guard.Classify(context.Background(), nil)
	assert.ErrorIs(t, err, oracle.ErrDisabled)
}

func TestCreateStore(t *testing.T) {
	logger := zap.NewNop()

	store, err := NewStoreFactory(testConfig(nil), logger).CreateStore()
	require.NoError(t, err)
	assert.IsType(t, &storage.MemoryStore{}, store)
	require.NoError(t, store.Close())

	dsn := filepath.Join(t.TempDir(), "data", "trust.db")
	store, err = NewStoreFactory(testConfig(map[string]interface{}{
		"storage.driver": "sqlite3",
		"storage.dsn":    dsn,
	}), logger).CreateStore()
	require.NoError(t, err)
	assert.IsType(t, &storage.SQLStore{}, store)
	require.NoError(t, store.Close())

	_, err = NewStoreFactory(testConfig(map[string]interface{}{"storage.driver": "postgres"}), logger).CreateStore()
	assert.Error(t, err)
}

func TestCreateEmailFilter(t *testing.T) {
	logger := zap.NewNop()

	f, err := NewFilterFactory(testConfig(nil), logger, nil).CreateEmailFilter()
	require.NoError(t, err)
	assert.IsType(t, &filter.PostfixFilter{}, f)

	f, err = NewFilterFactory(testConfig(map[string]interface{}{"server.filter_type": "cli"}), logger, nil).CreateEmailFilter()
	require.NoError(t, err)
	assert.IsType(t, &filter.CliFilter{}, f)

	f, err = NewFilterFactory(testConfig(map[string]interface{}{"server.filter_type": "none"}), logger, nil).CreateEmailFilter()
	require.NoError(t, err)
	assert.Nil(t, f)

	_, err = NewFilterFactory(testConfig(map[string]interface{}{"server.filter_type": "milter"}), logger, nil).CreateEmailFilter()
	assert.Error(t, err)
}
