package factory

import (
	"context"
	"fmt"

	"github.com/mikey/mail-trust/internal/adapters/openai"
	"github.com/mikey/mail-trust/internal/config"
	"github.com/mikey/mail-trust/internal/core"
	"github.com/mikey/mail-trust/internal/utils"
	"go.uber.org/zap"
)

// OpenAIFactory creates OpenAI oracles
type OpenAIFactory struct {
	cfg           *config.Config
	logger        *zap.Logger
	textProcessor *utils.TextProcessor
}

// NewOpenAIFactory creates a new OpenAI factory
func NewOpenAIFactory(cfg *config.Config, logger *zap.Logger, textProcessor *utils.TextProcessor) *OpenAIFactory {
	return &OpenAIFactory{
		cfg:           cfg,
		logger:        logger,
		textProcessor: textProcessor,
	}
}

// CreateOracle creates an OpenAI oracle
func (f *OpenAIFactory) CreateOracle(_ context.Context) (core.Oracle, error) {
	openaiCfg := f.cfg.GetOpenAI()
	if openaiCfg.APIKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}

	return openai.NewOpenAIClient(openai.Options{
		APIKey:      openaiCfg.APIKey,
		BaseURL:     openaiCfg.BaseURL,
		ModelName:   openaiCfg.ModelName,
		MaxTokens:   openaiCfg.MaxTokens,
		Temperature: openaiCfg.Temperature,
		TopP:        openaiCfg.TopP,
		MaxBodySize: openaiCfg.MaxBodySize,
	}, f.logger, f.textProcessor), nil
}
