package analyzer

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/meetscribe/livelistener/pkg/Logger"
)

// OpenAIOptions configures the OpenAI-backed analyzer.
type OpenAIOptions struct {
	APIKey      string
	Model       string
	BaseURL     string
	Temperature float64
	MaxTokens   int
}

type openAIAnalyzer struct {
	client openai.Client
	opts   OpenAIOptions
	logger *Logger.Logger
}

// NewOpenAI builds an Analyzer backed by the OpenAI chat completions
// API (or any compatible endpoint via BaseURL).
func NewOpenAI(opts OpenAIOptions, logger *Logger.Logger) Analyzer {
	reqOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.Model == "" {
		opts.Model = string(openai.ChatModelGPT4oMini)
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = 1024
	}
	return &openAIAnalyzer{
		client: openai.NewClient(reqOpts...),
		opts:   opts,
		logger: logger,
	}
}

func (a *openAIAnalyzer) Extract(ctx context.Context, req Request) (*Result, error) {
	chatCompletion, err := a.client.Chat.Completions.New(
		ctx,
		openai.ChatCompletionNewParams{
			Messages: []openai.ChatCompletionMessageParamUnion{
				openai.SystemMessage(systemPrompt),
				openai.UserMessage(buildUserPrompt(req)),
			},
			Model:       openai.ChatModel(a.opts.Model),
			Temperature: openai.Float(a.opts.Temperature),
			MaxTokens:   openai.Int(int64(a.opts.MaxTokens)),
		},
	)
	if err != nil {
		return nil, fmt.Errorf("openai completion failed: %w", err)
	}
	if len(chatCompletion.Choices) == 0 {
		return nil, fmt.Errorf("openai returned no choices")
	}
	return parseResponse(chatCompletion.Choices[0].Message.Content, req)
}
