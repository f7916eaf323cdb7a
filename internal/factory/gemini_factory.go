package factory

import (
	"context"

	"github.com/mikey/mail-trust/internal/adapters/gemini"
	"github.com/mikey/mail-trust/internal/config"
	"github.com/mikey/mail-trust/internal/core"
	"github.com/mikey/mail-trust/internal/utils"
	"go.uber.org/zap"
)

// GeminiFactory creates Gemini oracles
type GeminiFactory struct {
	cfg           *config.Config
	logger        *zap.Logger
	textProcessor *utils.TextProcessor
}

// NewGeminiFactory creates a new Gemini factory
func NewGeminiFactory(cfg *config.Config, logger *zap.Logger, textProcessor *utils.TextProcessor) *GeminiFactory {
	return &GeminiFactory{
		cfg:           cfg,
		logger:        logger,
		textProcessor: textProcessor,
	}
}

// CreateOracle creates a Gemini oracle
func (f *GeminiFactory) CreateOracle(ctx context.Context) (core.Oracle, error) {
	geminiCfg := f.cfg.GetGemini()
	client, err := gemini.NewGeminiClient(ctx, gemini.Options{
		APIKey:      geminiCfg.APIKey,
		ModelName:   geminiCfg.ModelName,
		MaxTokens:   geminiCfg.MaxTokens,
		Temperature: geminiCfg.Temperature,
		TopP:        geminiCfg.TopP,
		MaxBodySize: geminiCfg.MaxBodySize,
	}, f.logger, f.textProcessor)
	if err != nil {
		return nil, err
	}
	return client, nil
}
