package ai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openai/openai-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	reg.Register(" OpenAI ", func(ctx context.Context, model string) (Provider, error) {
		return NewOpenAIProvider("k", "", model, nil), nil
	})
	reg.Register("ollama", func(ctx context.Context, model string) (Provider, error) {
		return NewOllamaProvider("", model), nil
	})

	assert.Equal(t, []string{"ollama", "openai"}, reg.Names())

	p, err := reg.Get(context.Background(), "OPENAI", "gpt-4")
	require.NoError(t, err)
	assert.IsType(t, &OpenAIProvider{}, p)

	_, err = reg.Get(context.Background(), "nope", "")
	assert.Error(t, err)
}

func TestOllamaProvider_Complete(t *testing.T) {
	var got ollamaChatReq
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"message":{"role":"assistant","content":"Paris"},"done":true}`)
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL+"/", "llama3")
	out, err := p.Complete(context.Background(), []Message{{Role: RoleUser, Content: "capital of France?"}})
	require.NoError(t, err)
	assert.Equal(t, "Paris", out)
	assert.False(t, got.Stream)
	assert.Equal(t, 0.7, got.Options.Temperature)
	assert.Equal(t, 512, got.Options.NumPredict)
}

func TestOllamaProvider_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewOllamaProvider(srv.URL, "llama3").Complete(context.Background(), nil)
	assert.Error(t, err)
}

func TestOpenRouterProvider_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		assert.Equal(t, "quiz", r.Header.Get("X-Title"))
		_, _ = io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`)
	}))
	defer srv.Close()

	p := NewOpenRouterProvider(srv.URL, "key", "openrouter/auto", "", "quiz")
	out, err := p.Complete(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)

	p.APIKey = ""
	_, err = p.Complete(context.Background(), nil)
	assert.Error(t, err)
}

func TestOpenAIProvider_BuildParams(t *testing.T) {
	p := NewOpenAIProvider("k", "", "gpt-4", nil)
	params := p.buildParams([]Message{
		{Role: RoleSystem, Content: "be brief"},
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, Content: "hello"},
	})
	assert.Equal(t, openai.ChatModel("gpt-4"), params.Model)
	assert.Equal(t, openai.Float(0.7), params.Temperature)
	assert.Equal(t, openai.Int(512), params.MaxTokens)
	assert.Len(t, params.Messages, 3)
	assert.NotNil(t, params.Messages[0].OfSystem)
	assert.NotNil(t, params.Messages[1].OfUser)
	assert.NotNil(t, params.Messages[2].OfAssistant)
}

func TestOpenAIProvider_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"B is correct."}}]}`)
	}))
	defer srv.Close()

	p := NewOpenAIProvider("k", srv.URL, "gpt-4", srv.Client())
	out, err := p.Complete(context.Background(), []Message{{Role: RoleUser, Content: "which?"}})
	require.NoError(t, err)
	assert.Equal(t, "B is correct.", out)
}
