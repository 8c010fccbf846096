package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookforge/internal/config"
	"bookforge/internal/domain"
	"bookforge/internal/logging"
)

func TestUsageAdd(t *testing.T) {
	total := Usage{InputTokens: 1, OutputTokens: 2}
	total.Add(Usage{InputTokens: 10, OutputTokens: 20})

	assert.Equal(t, int64(11), total.InputTokens)
	assert.Equal(t, int64(22), total.OutputTokens)
	assert.Equal(t, int64(33), total.TotalTokens())
}

func TestNewSelectsProvider(t *testing.T) {
	gen, err := New(config.Config{LLMProvider: config.ProviderGemini, GeminiAPIKey: "k", GeminiBaseURL: "https://example.test/openai/"}, logging.Nop())
	require.NoError(t, err)
	compat, ok := gen.(*OpenAICompatibleGenerator)
	require.True(t, ok)
	assert.Equal(t, defaultGeminiModel, compat.model)

	gen, err = New(config.Config{LLMProvider: config.ProviderAnthropic, AnthropicAPIKey: "k", LLMModel: "claude-x"}, logging.Nop())
	require.NoError(t, err)
	anth, ok := gen.(*AnthropicGenerator)
	require.True(t, ok)
	assert.Equal(t, "claude-x", anth.model)

	_, err = New(config.Config{LLMProvider: "cohere"}, logging.Nop())
	assert.Error(t, err)
}

func TestOpenAICompatibleGenerate(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1,
			"model": "gemini-2.5-flash",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "[{\"topic\":\"a\"}]"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 5, "total_tokens": 17}
		}`))
	}))
	defer srv.Close()

	gen := NewOpenAICompatible(config.ProviderGemini, "test-key", srv.URL+"/v1/", "gemini-2.5-flash", srv.Client(), logging.Nop())
	text, usage, err := gen.Generate(context.Background(), "system", "user")

	require.NoError(t, err)
	assert.Equal(t, `[{"topic":"a"}]`, text)
	assert.Equal(t, Usage{InputTokens: 12, OutputTokens: 5}, usage)
	assert.Equal(t, "gemini-2.5-flash", gotBody["model"])
	messages, ok := gotBody["messages"].([]any)
	require.True(t, ok)
	assert.Len(t, messages, 2)
}

func TestOpenAICompatibleGenerateNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","choices":[],"usage":{"prompt_tokens":1,"completion_tokens":0}}`))
	}))
	defer srv.Close()

	gen := NewOpenAICompatible(config.ProviderOpenAI, "k", srv.URL, "gpt-4o-mini", srv.Client(), logging.Nop())
	_, _, err := gen.Generate(context.Background(), "s", "u")

	assert.ErrorIs(t, err, errEmptyResponse)
}

func TestAnthropicGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"model": "claude-test",
			"content": [{"type": "text", "text": "chapter body"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 9, "output_tokens": 4}
		}`))
	}))
	defer srv.Close()

	gen := NewAnthropic("k", "claude-test", srv.Client(), logging.Nop(),
		option.WithBaseURL(srv.URL), option.WithMaxRetries(0))
	text, usage, err := gen.Generate(context.Background(), "s", "u")

	require.NoError(t, err)
	assert.Equal(t, "chapter body", text)
	assert.Equal(t, int64(13), usage.TotalTokens())
}

func TestTopicAnalysisPrompts(t *testing.T) {
	system, user := TopicAnalysisPrompts([]string{"ai agents", "tea"})

	assert.Contains(t, system, `"topic"`)
	assert.Contains(t, system, `"score"`)
	assert.Contains(t, system, `"reason"`)
	assert.Contains(t, user, "- ai agents\n")
	assert.Contains(t, user, "- tea\n")
}

func TestOutlinePrompts(t *testing.T) {
	system, user := OutlinePrompts("home workouts")

	assert.Contains(t, system, `"chapters"`)
	assert.Contains(t, system, `"chapter_title"`)
	assert.Contains(t, user, `"home workouts"`)
}

func TestChapterPrompts(t *testing.T) {
	_, user := ChapterPrompts("Tea Time", domain.OutlineChapter{Description: "history of tea"}, 2)
	assert.Contains(t, user, `Chapter title: "Chapter 2"`)
	assert.Contains(t, user, "Description: history of tea")

	_, user = ChapterPrompts("Tea Time", domain.OutlineChapter{ChapterTitle: "Origins"}, 1)
	assert.Contains(t, user, `"Origins"`)
	assert.False(t, strings.Contains(user, "Description:"))
}
