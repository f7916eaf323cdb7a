package gemini

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/mikey/mail-trust/internal/core"
	"github.com/mikey/mail-trust/internal/oracle"
	"github.com/mikey/mail-trust/internal/utils"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// Options configures the Gemini oracle
type Options struct {
	APIKey      string
	ModelName   string
	MaxTokens   int
	Temperature float32
	TopP        float32
	MaxBodySize int
}

// GeminiClient is an implementation of the Oracle interface using Google Gemini
type GeminiClient struct {
	client        *genai.Client
	model         *genai.GenerativeModel
	modelName     string
	maxBodySize   int
	logger        *zap.Logger
	textProcessor *utils.TextProcessor
}

// NewGeminiClient creates a new Gemini client
func NewGeminiClient(ctx context.Context, opts Options, logger *zap.Logger, textProcessor *utils.TextProcessor) (*GeminiClient, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(opts.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	model := client.GenerativeModel(opts.ModelName)
	model.SetTemperature(opts.Temperature)
	model.SetTopP(opts.TopP)
	model.SetMaxOutputTokens(int32(opts.MaxTokens))
	model.ResponseMIMEType = "application/json"
	model.SystemInstruction = genai.NewUserContent(genai.Text(oracle.SystemPrompt))

	return &GeminiClient{
		client:        client,
		model:         model,
		modelName:     opts.ModelName,
		maxBodySize:   opts.MaxBodySize,
		logger:        logger,
		textProcessor: textProcessor,
	}, nil
}

// Close closes the Gemini client
func (c *GeminiClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// Classify asks the model for the email's category
func (c *GeminiClient) Classify(ctx context.Context, email *core.Email) (*core.OracleResult, error) {
	body := c.textProcessor.ProcessText(c.textProcessor.BodyText(email.Body, email.HTMLBody), c.maxBodySize)
	prompt := oracle.BuildPrompt(email, body)

	resp, err := c.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return nil, fmt.Errorf("failed to generate content with Gemini: %w", err)
	}

	text, err := responseText(resp)
	if err != nil {
		return nil, err
	}

	result, err := oracle.ParseResult(text)
	if err != nil {
		c.logger.Debug("Unusable Gemini response",
			zap.String("email_id", email.ID),
			zap.String("model", c.modelName),
			zap.Error(err))
		return nil, err
	}
	result.ModelUsed = c.modelName
	return result, nil
}

// responseText joins the text parts of the first candidate
func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("empty response from Gemini")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			sb.WriteString(string(t))
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("empty response from Gemini")
	}
	return sb.String(), nil
}
