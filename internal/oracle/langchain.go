// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/pdiddy/consequence-pipeline/pkg/types"
)

// LangChain is an Oracle backed by any langchaingo chat model.
type LangChain struct {
	model  llms.Model
	cfg    types.OracleConfig
	logger *slog.Logger
}

// NewOpenAI connects to an OpenAI-compatible chat endpoint.
func NewOpenAI(cfg types.OracleConfig, logger *slog.Logger) (*LangChain, error) {
	opts := []openai.Option{openai.WithModel(cfg.Model)}
	if cfg.APIKey != "" {
		opts = append(opts, openai.WithToken(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	model, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating OpenAI client: %w", err)
	}
	return New(model, cfg, logger), nil
}

// New wraps an existing model.
func New(model llms.Model, cfg types.OracleConfig, logger *slog.Logger) *LangChain {
	if logger == nil {
		logger = slog.Default()
	}
	return &LangChain{model: model, cfg: cfg, logger: logger.With("component", "oracle", "model", cfg.Model)}
}

// Complete returns the model's free-text answer.
func (o *LangChain) Complete(ctx context.Context, p Prompt) (string, error) {
	return o.generate(ctx, o.messages(p.System, p.User))
}

// Structured asks for a JSON object matching schema and validates it.
func (o *LangChain) Structured(ctx context.Context, p Prompt, schema *Schema) (map[string]any, error) {
	system := o.system(p.System) +
		"\n\nRespond only with a JSON object that validates against this JSON schema:\n" + schema.Source
	text, err := o.generate(ctx, o.messages(system, p.User), llms.WithJSONMode())
	if err != nil {
		return nil, err
	}
	obj, err := schema.Decode(text)
	if err != nil {
		o.logger.Warn("structured response rejected", "schema", schema.Name, "response", text, "error", err)
		return nil, err
	}
	return obj, nil
}

func (o *LangChain) system(s string) string {
	if s != "" {
		return s
	}
	return o.cfg.SystemPrompt
}

func (o *LangChain) messages(system, user string) []llms.MessageContent {
	var msgs []llms.MessageContent
	if sys := o.system(system); sys != "" {
		msgs = append(msgs, llms.MessageContent{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(sys)},
		})
	}
	return append(msgs, llms.MessageContent{
		Role:  llms.ChatMessageTypeHuman,
		Parts: []llms.ContentPart{llms.TextPart(user)},
	})
}

func (o *LangChain) generate(ctx context.Context, msgs []llms.MessageContent, extra ...llms.CallOption) (string, error) {
	opts := []llms.CallOption{llms.WithTemperature(o.cfg.Temperature)}
	if o.cfg.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(o.cfg.MaxTokens))
	}
	opts = append(opts, extra...)

	resp, err := o.model.GenerateContent(ctx, msgs, opts...)
	if err != nil {
		return "", fmt.Errorf("generating content: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	text := strings.TrimSpace(resp.Choices[0].Content)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}
