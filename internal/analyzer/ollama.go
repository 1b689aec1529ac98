package analyzer

import (
	"context"
	"fmt"
	"strings"

	"github.com/ollama/ollama/api"
	"github.com/presbrey/ollamafarm"

	"github.com/meetscribe/livelistener/pkg/Logger"
)

// OllamaOptions configures the ollama-backed analyzer.
type OllamaOptions struct {
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
}

type ollamaAnalyzer struct {
	farm   *ollamafarm.Farm
	opts   OllamaOptions
	logger *Logger.Logger
}

// NewOllama builds an Analyzer over a pool of ollama servers; BaseURL
// may be a comma-separated list.
func NewOllama(opts OllamaOptions, logger *Logger.Logger) Analyzer {
	farm := ollamafarm.New()
	for _, rawURL := range strings.Split(opts.BaseURL, ",") {
		rawURL = strings.TrimSpace(rawURL)
		if rawURL == "" {
			continue
		}
		if err := farm.RegisterURL(rawURL, nil); err != nil {
			logger.Warnf("ollama server %s not registered: %v", rawURL, err)
		}
	}
	if opts.Model == "" {
		opts.Model = "llama3.1:8b-instruct"
	}
	return &ollamaAnalyzer{farm: farm, opts: opts, logger: logger}
}

func (a *ollamaAnalyzer) Extract(ctx context.Context, req Request) (*Result, error) {
	srv := a.farm.First(&ollamafarm.Where{Offline: false})
	if srv == nil {
		return nil, fmt.Errorf("no ollama server online")
	}

	stream := false
	options := map[string]any{"temperature": a.opts.Temperature}
	if a.opts.MaxTokens > 0 {
		options["num_predict"] = a.opts.MaxTokens
	}
	chatReq := api.ChatRequest{
		Model: a.opts.Model,
		Messages: []api.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildUserPrompt(req)},
		},
		Stream:  &stream,
		Options: options,
	}

	var out strings.Builder
	err := srv.Client().Chat(ctx, &chatReq, func(resp api.ChatResponse) error {
		out.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ollama chat failed: %w", err)
	}
	return parseResponse(out.String(), req)
}
