package provider

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChatClient struct {
	calls []openai.ChatCompletionRequest
	resp  openai.ChatCompletionResponse
	err   error
}

func (f *fakeChatClient) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.calls = append(f.calls, req)
	return f.resp, f.err
}

func TestOpenAIProvider_Generate(t *testing.T) {
	fake := &fakeChatClient{resp: openai.ChatCompletionResponse{
		Model: "gpt-4o-mini",
		Choices: []openai.ChatCompletionChoice{{
			Message:      openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: "A Ming dynasty vase."},
			FinishReason: openai.FinishReasonStop,
		}},
		Usage: openai.Usage{PromptTokens: 3, CompletionTokens: 4, TotalTokens: 7},
	}}
	p := NewOpenAIProviderWithClient(fake)

	resp, err := p.Generate(context.Background(), GenerateRequest{
		Model:             "gemini-1.5-flash",
		SystemInstruction: "primer",
		History:           []Message{{Role: RoleUser, Content: "hi"}, {Role: RoleAssistant, Content: "hello"}},
		Parts:             []Part{TextPart("What is this?"), MediaPart("image/png", []byte("png"))},
	})
	require.NoError(t, err)
	assert.Equal(t, "A Ming dynasty vase.", resp.Text)
	assert.Equal(t, 7, resp.Usage.TotalTokens)

	require.Len(t, fake.calls, 1)
	req := fake.calls[0]
	assert.Equal(t, defaultOpenAIModel, req.Model, "non-OpenAI model names fall back to the default")
	require.Len(t, req.Messages, 4)
	assert.Equal(t, openai.ChatMessageRoleSystem, req.Messages[0].Role)
	assert.Equal(t, openai.ChatMessageRoleAssistant, req.Messages[2].Role)

	parts := req.Messages[3].MultiContent
	require.Len(t, parts, 2)
	assert.Equal(t, openai.ChatMessagePartTypeText, parts[0].Type)
	assert.Equal(t, openai.ChatMessagePartTypeImageURL, parts[1].Type)
	assert.True(t, strings.HasPrefix(parts[1].ImageURL.URL, "data:image/png;base64,"))
}

func TestOpenAIProvider_RejectsAudio(t *testing.T) {
	fake := &fakeChatClient{}
	p := NewOpenAIProviderWithClient(fake)

	_, err := p.Generate(context.Background(), GenerateRequest{
		Parts: []Part{TextPart("Transcribe this."), MediaPart("audio/wav", []byte("RIFF"))},
	})
	assert.Equal(t, ErrorCodeInvalidRequest, ErrorCode(err))
	assert.Empty(t, fake.calls)
}

func TestOpenAIProvider_MalformedResponse(t *testing.T) {
	p := NewOpenAIProviderWithClient(&fakeChatClient{})

	_, err := p.Generate(context.Background(), GenerateRequest{Parts: []Part{TextPart("q")}})
	assert.Equal(t, ErrorCodeMalformedResponse, ErrorCode(err))
}

func TestOpenAIProvider_TransportError(t *testing.T) {
	p := NewOpenAIProviderWithClient(&fakeChatClient{err: errors.New("dial tcp: connection refused")})

	_, err := p.Generate(context.Background(), GenerateRequest{Parts: []Part{TextPart("q")}})
	require.Error(t, err)
	assert.Equal(t, ErrorCodeUnknown, ErrorCode(err))
}

func TestOpenAIProvider_HTTPAuthError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error": {"message": "Incorrect API key provided", "type": "invalid_request_error", "code": "invalid_api_key"}}`)
	}))
	defer server.Close()

	p := NewOpenAIProvider("sk-test", server.URL+"/v1")

	_, err := p.Generate(context.Background(), GenerateRequest{Parts: []Part{TextPart("q")}})
	require.Error(t, err)

	var pe *ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, ErrorCodeAuthentication, pe.Code)
	assert.Equal(t, http.StatusUnauthorized, pe.StatusCode)
}

func TestIsOpenAIModel(t *testing.T) {
	assert.True(t, isOpenAIModel("gpt-4o"))
	assert.True(t, isOpenAIModel("o1-mini"))
	assert.False(t, isOpenAIModel("gemini-1.5-flash"))
	assert.False(t, isOpenAIModel(""))
}
