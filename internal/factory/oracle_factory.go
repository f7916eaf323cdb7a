package factory

import (
	"context"
	"fmt"

	"github.com/mikey/mail-trust/internal/config"
	"github.com/mikey/mail-trust/internal/core"
	"github.com/mikey/mail-trust/internal/oracle"
	"github.com/mikey/mail-trust/internal/utils"
	"go.uber.org/zap"
)

// OracleFactory creates the configured oracle and its guard
type OracleFactory struct {
	cfg           *config.Config
	logger        *zap.Logger
	textProcessor *utils.TextProcessor
}

// NewOracleFactory creates a new oracle factory
func NewOracleFactory(cfg *config.Config, logger *zap.Logger, textProcessor *utils.TextProcessor) *OracleFactory {
	return &OracleFactory{
		cfg:           cfg,
		logger:        logger,
		textProcessor: textProcessor,
	}
}

// CreateOracle creates the oracle named by oracle.provider. Provider "none" yields a nil
// oracle, which the guard reports as disabled.
func (f *OracleFactory) CreateOracle(ctx context.Context) (core.Oracle, error) {
	provider := f.cfg.GetOracle().Provider

	switch provider {
	case "none", "":
		f.logger.Info("Oracle disabled, classifying with heuristics only")
		return nil, nil
	case "bedrock":
		return NewBedrockFactory(f.cfg, f.logger, f.textProcessor).CreateOracle(ctx)
	case "gemini":
		return NewGeminiFactory(f.cfg, f.logger, f.textProcessor).CreateOracle(ctx)
	case "openai":
		return NewOpenAIFactory(f.cfg, f.logger, f.textProcessor).CreateOracle(ctx)
	default:
		return nil, fmt.Errorf("unsupported oracle provider: %s", provider)
	}
}

// CreateGuard wraps o with the configured timeout and rate limit
func (f *OracleFactory) CreateGuard(o core.Oracle) *oracle.Guard {
	oracleCfg := f.cfg.GetOracle()
	return oracle.NewGuard(o, f.logger, oracle.GuardOptions{
		Timeout:       oracleCfg.Timeout,
		RatePerSecond: oracleCfg.RatePerSecond,
		Burst:         oracleCfg.Burst,
	})
}
