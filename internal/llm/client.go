// Package llm defines the uniform provider-call contract and the adapters
// that map heterogeneous provider APIs onto it.
package llm

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/consensus-crawler/internal/registry"
	"github.com/sells-group/consensus-crawler/pkg/anthropic"
	"github.com/sells-group/consensus-crawler/pkg/chatapi"
)

// Request is a single provider call. The API key is passed explicitly so
// the caller controls credential rotation and quarantine.
type Request struct {
	Prompt string
	Model  string
	APIKey string
}

// Response is the uniform result of a provider call.
type Response struct {
	Text         string
	InputTokens  int64
	OutputTokens int64
	Latency      time.Duration
}

// Client is the uniform call contract over heterogeneous provider APIs.
type Client interface {
	Name() string
	Send(ctx context.Context, req Request) (*Response, error)
}

// ClientSet resolves a provider name to its client.
type ClientSet interface {
	Get(name string) (Client, bool)
}

// clientMap is the default ClientSet.
type clientMap map[string]Client

func (m clientMap) Get(name string) (Client, bool) {
	c, ok := m[name]
	return c, ok
}

// BuildClients constructs one adapter per registered provider: the Anthropic
// SDK for the anthropic family, the chat-completions client for everyone
// else.
func BuildClients(fleet []registry.ProviderConfig) (ClientSet, error) {
	m := make(clientMap, len(fleet))
	for _, cfg := range fleet {
		switch cfg.Family {
		case "anthropic":
			m[cfg.Name] = &anthropicClient{name: cfg.Name, client: anthropic.NewClient()}
		default:
			if cfg.BaseURL == "" {
				return nil, eris.Errorf("llm: provider %s has no base URL", cfg.Name)
			}
			opts := []chatapi.Option{}
			if cfg.Timeout > 0 {
				opts = append(opts, chatapi.WithTimeout(cfg.Timeout))
			}
			m[cfg.Name] = &chatClient{name: cfg.Name, client: chatapi.NewClient(cfg.BaseURL, opts...)}
		}
	}
	return m, nil
}

// chatClient adapts pkg/chatapi to the Client contract.
type chatClient struct {
	name   string
	client chatapi.Client
}

func (c *chatClient) Name() string { return c.name }

func (c *chatClient) Send(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	resp, err := c.client.ChatCompletion(ctx, req.APIKey, chatapi.ChatCompletionRequest{
		Model: req.Model,
		Messages: []chatapi.Message{
			{Role: "user", Content: req.Prompt},
		},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, eris.Errorf("llm: %s returned no choices", c.name)
	}
	return &Response{
		Text:         resp.Choices[0].Message.Content,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		Latency:      time.Since(start),
	}, nil
}

// anthropicClient adapts pkg/anthropic to the Client contract.
type anthropicClient struct {
	name   string
	client anthropic.Client
}

func (c *anthropicClient) Name() string { return c.name }

func (c *anthropicClient) Send(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	resp, err := c.client.CreateMessage(ctx, req.APIKey, anthropic.MessageRequest{
		Model: req.Model,
		Messages: []anthropic.Message{
			{Role: "user", Content: req.Prompt},
		},
	})
	if err != nil {
		return nil, err
	}
	return &Response{
		Text:         resp.Text,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		Latency:      time.Since(start),
	}, nil
}
