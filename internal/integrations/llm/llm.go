// Package llm talks to the configured text-generation provider. Anthropic
// goes through its own SDK; OpenAI and Gemini share the OpenAI-compatible
// chat completions API.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"bookforge/internal/config"
	"bookforge/internal/httpx"
)

const (
	defaultAnthropicModel = "claude-sonnet-4-5-20250929"
	defaultOpenAIModel    = "gpt-4o-mini"
	defaultGeminiModel    = "gemini-2.5-flash"
	maxOutputTokens       = 4096
)

var errEmptyResponse = errors.New("no text content in response")

type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

func (u Usage) TotalTokens() int64 {
	return u.InputTokens + u.OutputTokens
}

func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// Generator turns a system and user prompt into model text.
type Generator interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, Usage, error)
}

// New returns the generator for cfg.LLMProvider.
func New(cfg config.Config, log *zap.SugaredLogger) (Generator, error) {
	client := httpx.Client()
	switch cfg.LLMProvider {
	case config.ProviderAnthropic:
		return NewAnthropic(cfg.AnthropicAPIKey, modelOr(cfg.LLMModel, defaultAnthropicModel), client, log), nil
	case config.ProviderOpenAI:
		return NewOpenAICompatible(config.ProviderOpenAI, cfg.OpenAIAPIKey, "", modelOr(cfg.LLMModel, defaultOpenAIModel), client, log), nil
	case config.ProviderGemini:
		return NewOpenAICompatible(config.ProviderGemini, cfg.GeminiAPIKey, cfg.GeminiBaseURL, modelOr(cfg.LLMModel, defaultGeminiModel), client, log), nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.LLMProvider)
	}
}

func modelOr(model, fallback string) string {
	if m := strings.TrimSpace(model); m != "" {
		return m
	}
	return fallback
}

// --- Anthropic ---

type AnthropicGenerator struct {
	client anthropic.Client
	model  string
	log    *zap.SugaredLogger
}

func NewAnthropic(apiKey, model string, httpClient *http.Client, log *zap.SugaredLogger, opts ...option.RequestOption) *AnthropicGenerator {
	opts = append([]option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(httpClient),
	}, opts...)
	return &AnthropicGenerator{
		client: anthropic.NewClient(opts...),
		model:  model,
		log:    log,
	}
}

func (g *AnthropicGenerator) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, Usage, error) {
	message, err := g.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(g.model),
		MaxTokens: maxOutputTokens,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		g.log.Warnw("llm anthropic error", "model", g.model, "error", err)
		return "", Usage{}, fmt.Errorf("anthropic API error: %w", err)
	}
	usage := Usage{
		InputTokens:  message.Usage.InputTokens,
		OutputTokens: message.Usage.OutputTokens,
	}

	for _, block := range message.Content {
		if block.Type == "text" {
			g.log.Debugw("llm anthropic response", "model", g.model, "size", len(block.Text),
				"tokens_in", usage.InputTokens, "tokens_out", usage.OutputTokens)
			return block.Text, usage, nil
		}
	}
	return "", usage, fmt.Errorf("anthropic: %w", errEmptyResponse)
}

// --- OpenAI-compatible (OpenAI, Gemini) ---

type OpenAICompatibleGenerator struct {
	provider string
	client   *openai.Client
	model    string
	log      *zap.SugaredLogger
}

// NewOpenAICompatible builds a chat completions client. An empty baseURL
// means the OpenAI default.
func NewOpenAICompatible(provider, apiKey, baseURL, model string, httpClient *http.Client, log *zap.SugaredLogger) *OpenAICompatibleGenerator {
	return &OpenAICompatibleGenerator{
		provider: provider,
		client:   newOpenAIClient(apiKey, baseURL, httpClient),
		model:    model,
		log:      log,
	}
}

func newOpenAIClient(apiKey, baseURL string, httpClient *http.Client) *openai.Client {
	clientCfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if httpClient != nil {
		clientCfg.HTTPClient = httpClient
	}
	return openai.NewClientWithConfig(clientCfg)
}

func (g *OpenAICompatibleGenerator) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, Usage, error) {
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     g.model,
		MaxTokens: maxOutputTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
	})
	if err != nil {
		g.log.Warnw("llm error", "provider", g.provider, "model", g.model, "error", err)
		return "", Usage{}, fmt.Errorf("%s API error: %w", g.provider, err)
	}
	usage := Usage{
		InputTokens:  int64(resp.Usage.PromptTokens),
		OutputTokens: int64(resp.Usage.CompletionTokens),
	}
	if len(resp.Choices) == 0 {
		return "", usage, fmt.Errorf("%s: %w", g.provider, errEmptyResponse)
	}
	content := resp.Choices[0].Message.Content
	g.log.Debugw("llm response", "provider", g.provider, "model", g.model, "size", len(content),
		"tokens_in", usage.InputTokens, "tokens_out", usage.OutputTokens)
	return content, usage, nil
}

// ListModels returns the model IDs visible to the configured provider's key,
// sorted.
func ListModels(ctx context.Context, cfg config.Config) ([]string, error) {
	var ids []string
	switch cfg.LLMProvider {
	case config.ProviderAnthropic:
		client := anthropic.NewClient(option.WithAPIKey(cfg.AnthropicAPIKey), option.WithHTTPClient(httpx.Client()))
		page, err := client.Models.List(ctx, anthropic.ModelListParams{})
		if err != nil {
			return nil, fmt.Errorf("list anthropic models: %w", err)
		}
		for _, m := range page.Data {
			ids = append(ids, m.ID)
		}
	case config.ProviderOpenAI, config.ProviderGemini:
		baseURL := ""
		if cfg.LLMProvider == config.ProviderGemini {
			baseURL = cfg.GeminiBaseURL
		}
		client := newOpenAIClient(cfg.APIKey(), baseURL, httpx.Client())
		list, err := client.ListModels(ctx)
		if err != nil {
			return nil, fmt.Errorf("list %s models: %w", cfg.LLMProvider, err)
		}
		for _, m := range list.Models {
			ids = append(ids, m.ID)
		}
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.LLMProvider)
	}
	sort.Strings(ids)
	return ids, nil
}
