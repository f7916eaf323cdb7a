package openai

import (
	"context"
	"fmt"

	"github.com/mikey/mail-trust/internal/core"
	"github.com/mikey/mail-trust/internal/oracle"
	"github.com/mikey/mail-trust/internal/utils"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// Options configures the OpenAI oracle
type Options struct {
	APIKey      string
	BaseURL     string
	ModelName   string
	MaxTokens   int
	Temperature float32
	TopP        float32
	MaxBodySize int
}

// OpenAIClient is an implementation of the Oracle interface using OpenAI
type OpenAIClient struct {
	client        *openai.Client
	modelName     string
	maxTokens     int
	temperature   float32
	topP          float32
	maxBodySize   int
	logger        *zap.Logger
	textProcessor *utils.TextProcessor
}

// NewOpenAIClient creates a new OpenAI client
func NewOpenAIClient(opts Options, logger *zap.Logger, textProcessor *utils.TextProcessor) *OpenAIClient {
	clientCfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		clientCfg.BaseURL = opts.BaseURL
	}

	return &OpenAIClient{
		client:        openai.NewClientWithConfig(clientCfg),
		modelName:     opts.ModelName,
		maxTokens:     opts.MaxTokens,
		temperature:   opts.Temperature,
		topP:          opts.TopP,
		maxBodySize:   opts.MaxBodySize,
		logger:        logger,
		textProcessor: textProcessor,
	}
}

// Classify asks the model for the email's category
func (c *OpenAIClient) Classify(ctx context.Context, email *core.Email) (*core.OracleResult, error) {
	body := c.textProcessor.ProcessText(c.textProcessor.BodyText(email.Body, email.HTMLBody), c.maxBodySize)
	prompt := oracle.BuildPrompt(email, body)

	req := openai.ChatCompletionRequest{
		Model: c.modelName,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: oracle.SystemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		TopP:        c.topP,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat completion with OpenAI: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("empty response from OpenAI")
	}

	result, err := oracle.ParseResult(resp.Choices[0].Message.Content)
	if err != nil {
		c.logger.Debug("Unusable OpenAI response",
			zap.String("email_id", email.ID),
			zap.String("model", c.modelName),
			zap.Error(err))
		return nil, err
	}
	result.ModelUsed = c.modelName
	result.ProcessingID = resp.ID
	return result, nil
}
