package nl2sql

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const (
	ProviderOpenAI = "openai"
	ProviderAzure  = "azure"

	DefaultModel = "gpt-4o"
)

type OpenAIConfig struct {
	Provider    string
	BaseURL     string
	APIKey      string
	Model       string
	APIVersion  string
	Temperature float64
	Timeout     time.Duration
}

// OpenAICompleter talks to an OpenAI-compatible or Azure OpenAI chat completion endpoint. For Azure
// the model is the deployment name.
type OpenAICompleter struct {
	client      *openai.Client
	model       string
	temperature float32
}

func NewOpenAICompleter(cfg OpenAIConfig) (*OpenAICompleter, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")

	var clientCfg openai.ClientConfig
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", ProviderOpenAI:
		clientCfg = openai.DefaultConfig(apiKey)
		if baseURL != "" {
			clientCfg.BaseURL = baseURL
		}
	case ProviderAzure:
		if baseURL == "" {
			return nil, fmt.Errorf("base URL is required for azure")
		}
		clientCfg = openai.DefaultAzureConfig(apiKey, baseURL)
		if v := strings.TrimSpace(cfg.APIVersion); v != "" {
			clientCfg.APIVersion = v
		}
	default:
		return nil, fmt.Errorf("unsupported ai provider %q", cfg.Provider)
	}
	clientCfg.HTTPClient = &http.Client{Timeout: timeout}

	return &OpenAICompleter{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       model,
		temperature: float32(cfg.Temperature),
	}, nil
}

func (c *OpenAICompleter) Model() string {
	return c.model
}

func (c *OpenAICompleter) Complete(ctx context.Context, messages []Message) (Message, error) {
	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: c.temperature,
		Messages:    make([]openai.ChatCompletionMessage, 0, len(messages)),
	}
	for _, msg := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: msg.Role, Content: msg.Content})
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return Message{}, fmt.Errorf("request chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Message{}, fmt.Errorf("empty chat completion choices")
	}
	reply := resp.Choices[0].Message
	role := reply.Role
	if role == "" {
		role = RoleAssistant
	}
	return Message{Role: role, Content: reply.Content}, nil
}
