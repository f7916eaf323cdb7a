package factory

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/mikey/mail-trust/internal/adapters/bedrock"
	"github.com/mikey/mail-trust/internal/config"
	"github.com/mikey/mail-trust/internal/core"
	"github.com/mikey/mail-trust/internal/utils"
	"go.uber.org/zap"
)

// BedrockFactory creates Bedrock oracles
type BedrockFactory struct {
	cfg           *config.Config
	logger        *zap.Logger
	textProcessor *utils.TextProcessor
}

// NewBedrockFactory creates a new Bedrock factory
func NewBedrockFactory(cfg *config.Config, logger *zap.Logger, textProcessor *utils.TextProcessor) *BedrockFactory {
	return &BedrockFactory{
		cfg:           cfg,
		logger:        logger,
		textProcessor: textProcessor,
	}
}

// CreateOracle creates a Bedrock oracle using the default AWS credential chain
func (f *BedrockFactory) CreateOracle(ctx context.Context) (core.Oracle, error) {
	bedrockCfg := f.cfg.GetBedrock()
	if bedrockCfg.ModelID == "" {
		return nil, fmt.Errorf("bedrock model id is required")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(bedrockCfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	return bedrock.NewBedrockClient(
		bedrockruntime.NewFromConfig(awsCfg),
		bedrock.Options{
			ModelID:     bedrockCfg.ModelID,
			MaxTokens:   bedrockCfg.MaxTokens,
			Temperature: bedrockCfg.Temperature,
			TopP:        bedrockCfg.TopP,
			MaxBodySize: bedrockCfg.MaxBodySize,
		},
		f.logger,
		f.textProcessor,
	), nil
}
