// Package llm is the client of the external AI completion service used when local intent
// analysis is not confident enough.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"fuelbot/src/logger"
	"fuelbot/src/model"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino-ext/components/model/deepseek"
	"github.com/cloudwego/eino-ext/components/model/ollama"
	"github.com/cloudwego/eino-ext/components/model/openai"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/ollama/ollama/api"
	"github.com/rs/zerolog"
)

const (
	ProviderOpenAI   = "openai"
	ProviderDeepSeek = "deepseek"
	ProviderArk      = "ark"
	ProviderOllama   = "ollama"

	defaultOpenAIBaseURL = "https://openrouter.ai/api/v1"
	defaultOllamaBaseURL = "http://localhost:11434"
)

// Client asks a chat model for the intent of a message.
type Client struct {
	chain compose.Runnable[map[string]any, *schema.Message]
	mock  bool
	now   func() time.Time
	log   zerolog.Logger
}

// NewClient builds a client for the configured provider. Without credentials the client
// runs in mock mode and answers every request with an unknown intent.
func NewClient(ctx context.Context, config model.LLMConfig) (*Client, error) {
	provider := strings.ToLower(config.Provider)
	if config.APIKey == "" && provider != ProviderOllama {
		log := logger.Component("llm")
		log.Warn().Str("provider", provider).Msg("no API key configured, external AI runs in mock mode")
		return &Client{mock: true, now: time.Now, log: log}, nil
	}

	chatModel, err := newChatModel(ctx, provider, config)
	if err != nil {
		return nil, err
	}
	return NewClientWithModel(ctx, chatModel)
}

// NewClientWithModel builds a client around an existing chat model.
func NewClientWithModel(ctx context.Context, chatModel einomodel.BaseChatModel) (*Client, error) {
	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.
		AppendChatTemplate(createIntentTemplate()).
		AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("error compiling intent chain: %w", err)
	}
	return &Client{chain: runnable, now: time.Now, log: logger.Component("llm")}, nil
}

func newChatModel(ctx context.Context, provider string, config model.LLMConfig) (einomodel.BaseChatModel, error) {
	maxTokens := config.MaxTokens
	temperature := float32(config.Temperature)

	switch provider {
	case ProviderOpenAI, "":
		baseURL := config.BaseURL
		if baseURL == "" {
			baseURL = defaultOpenAIBaseURL
		}
		m, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
			APIKey:      config.APIKey,
			BaseURL:     baseURL,
			Model:       config.Model,
			MaxTokens:   &maxTokens,
			Temperature: &temperature,
		})
		if err != nil {
			return nil, fmt.Errorf("error creating openai chat model: %w", err)
		}
		return m, nil

	case ProviderDeepSeek:
		m, err := deepseek.NewChatModel(ctx, &deepseek.ChatModelConfig{
			APIKey:      config.APIKey,
			BaseURL:     config.BaseURL,
			Model:       config.Model,
			MaxTokens:   maxTokens,
			Temperature: temperature,
		})
		if err != nil {
			return nil, fmt.Errorf("error creating deepseek chat model: %w", err)
		}
		return m, nil

	case ProviderArk:
		m, err := ark.NewChatModel(ctx, &ark.ChatModelConfig{
			APIKey:      config.APIKey,
			BaseURL:     config.BaseURL,
			Model:       config.Model,
			MaxTokens:   &maxTokens,
			Temperature: &temperature,
		})
		if err != nil {
			return nil, fmt.Errorf("error creating ark chat model: %w", err)
		}
		return m, nil

	case ProviderOllama:
		baseURL := config.BaseURL
		if baseURL == "" {
			baseURL = defaultOllamaBaseURL
		}
		m, err := ollama.NewChatModel(ctx, &ollama.ChatModelConfig{
			BaseURL: baseURL,
			Model:   config.Model,
			Options: &api.Options{
				Temperature: temperature,
				NumPredict:  maxTokens,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("error creating ollama chat model: %w", err)
		}
		return m, nil

	default:
		return nil, fmt.Errorf("unsupported LLM provider %q", provider)
	}
}

// Mock reports whether the client answers without calling a model.
func (c *Client) Mock() bool { return c.mock }

// Complete classifies req.Text. Deadlines come from ctx.
func (c *Client) Complete(ctx context.Context, req model.AIRequest) (*model.AIResponse, error) {
	if c.mock {
		return &model.AIResponse{Intent: model.IntentUnknown, Confidence: 0}, nil
	}

	start := c.now()
	msg, err := c.chain.Invoke(ctx, map[string]any{
		"text":    req.Text,
		"context": BuildContext(req.Context, req.History),
	})
	if err != nil {
		return nil, fmt.Errorf("intent chain failed: %w", err)
	}

	resp, err := ParseResponse(msg.Content)
	if err != nil {
		return nil, err
	}
	resp.ResponseTimeMs = c.now().Sub(start).Milliseconds()

	c.log.Debug().
		Str("intent", resp.Intent.String()).
		Float64("confidence", resp.Confidence).
		Int64("response_time_ms", resp.ResponseTimeMs).
		Msg("external AI classified message")
	return resp, nil
}
