package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/consensus-crawler/internal/registry"
	"github.com/sells-group/consensus-crawler/pkg/chatapi"
)

func TestBuildClients_AdapterPerFamily(t *testing.T) {
	fleet := []registry.ProviderConfig{
		{Name: "openai", Family: "openai", BaseURL: "https://api.openai.com/v1", Timeout: 30 * time.Second},
		{Name: "anthropic", Family: "anthropic"},
		{Name: "groq", Family: "groq", BaseURL: "https://api.groq.com/openai/v1"},
	}

	clients, err := BuildClients(fleet)
	require.NoError(t, err)

	for _, name := range []string{"openai", "anthropic", "groq"} {
		c, ok := clients.Get(name)
		require.True(t, ok, name)
		assert.Equal(t, name, c.Name())
	}

	_, ok := clients.Get("missing")
	assert.False(t, ok)
}

func TestBuildClients_ChatProviderNeedsBaseURL(t *testing.T) {
	fleet := []registry.ProviderConfig{
		{Name: "groq", Family: "groq"},
	}

	_, err := BuildClients(fleet)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "groq")
}

// mockChat implements chatapi.Client for adapter tests.
type mockChat struct {
	gotKey string
	gotReq chatapi.ChatCompletionRequest
	resp   *chatapi.ChatCompletionResponse
	err    error
}

func (m *mockChat) ChatCompletion(_ context.Context, apiKey string, req chatapi.ChatCompletionRequest) (*chatapi.ChatCompletionResponse, error) {
	m.gotKey = apiKey
	m.gotReq = req
	return m.resp, m.err
}

func TestChatClient_Send(t *testing.T) {
	mock := &mockChat{
		resp: &chatapi.ChatCompletionResponse{
			Choices: []chatapi.Choice{
				{Message: chatapi.Message{Role: "assistant", Content: "the answer"}},
			},
			Usage: chatapi.Usage{PromptTokens: 12, CompletionTokens: 34},
		},
	}
	c := &chatClient{name: "openai", client: mock}

	resp, err := c.Send(context.Background(), Request{
		Prompt: "analyze acme.com",
		Model:  "gpt-4o",
		APIKey: "sk-test",
	})

	require.NoError(t, err)
	assert.Equal(t, "the answer", resp.Text)
	assert.Equal(t, int64(12), resp.InputTokens)
	assert.Equal(t, int64(34), resp.OutputTokens)

	assert.Equal(t, "sk-test", mock.gotKey)
	assert.Equal(t, "gpt-4o", mock.gotReq.Model)
	require.Len(t, mock.gotReq.Messages, 1)
	assert.Equal(t, "user", mock.gotReq.Messages[0].Role)
	assert.Equal(t, "analyze acme.com", mock.gotReq.Messages[0].Content)
}

func TestChatClient_Send_EmptyChoices(t *testing.T) {
	mock := &mockChat{resp: &chatapi.ChatCompletionResponse{}}
	c := &chatClient{name: "openai", client: mock}

	_, err := c.Send(context.Background(), Request{Prompt: "p", Model: "m", APIKey: "k"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no choices")
}
