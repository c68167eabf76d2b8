package provider

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"time"

	"google.golang.org/genai"
)

const (
	defaultGeminiModel  = "gemini-1.5-flash"
	geminiClientTimeout = 30 * time.Second
)

func init() {
	RegisterFactory("gemini", func(cfg Config) (Provider, error) {
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("GOOGLE_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("GOOGLE_API_KEY not set")
		}
		return NewGeminiProvider(GeminiConfig{
			APIKey:  apiKey,
			BaseURL: cfg.BaseURL,
		})
	})

	RegisterFactory("vertexai", func(cfg Config) (Provider, error) {
		project := cfg.Project
		if project == "" {
			project = os.Getenv("GOOGLE_CLOUD_PROJECT")
		}
		if project == "" {
			return nil, fmt.Errorf("GOOGLE_CLOUD_PROJECT not set")
		}
		location := cfg.Location
		if location == "" {
			location = os.Getenv("VERTEX_AI_LOCATION")
		}
		if location == "" {
			location = "us-central1"
		}
		return NewGeminiProvider(GeminiConfig{
			Project:  project,
			Location: location,
			VertexAI: true,
			BaseURL:  cfg.BaseURL,
		})
	})
}

// GeminiConfig configures a GeminiProvider.
type GeminiConfig struct {
	// APIKey authenticates against the Gemini API backend.
	APIKey string
	// VertexAI selects the Vertex AI backend (Application Default Credentials).
	VertexAI bool
	// Project and Location are required for the Vertex AI backend.
	Project  string
	Location string
	// BaseURL overrides the service endpoint.
	BaseURL string
	// HTTPClient overrides the transport.
	HTTPClient *http.Client
}

// GeminiProvider implements Provider for Google Gemini using the Gen AI SDK.
// Images travel inline next to the question text.
type GeminiProvider struct {
	name   string
	client *genai.Client
}

// NewGeminiProvider creates a new Gemini provider.
//
// All API calls respect the context deadline; callers should set an
// appropriate timeout on the context they pass to Generate.
func NewGeminiProvider(cfg GeminiConfig) (*GeminiProvider, error) {
	ctx, cancel := context.WithTimeout(context.Background(), geminiClientTimeout)
	defer cancel()

	clientCfg := &genai.ClientConfig{
		HTTPClient: cfg.HTTPClient,
	}
	name := "gemini"
	if cfg.VertexAI {
		name = "vertexai"
		clientCfg.Backend = genai.BackendVertexAI
		clientCfg.Project = cfg.Project
		clientCfg.Location = cfg.Location
	} else {
		if cfg.APIKey == "" {
			return nil, errors.New("gemini API key is required")
		}
		clientCfg.Backend = genai.BackendGeminiAPI
		clientCfg.APIKey = cfg.APIKey
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s client: %w", name, err)
	}

	return &GeminiProvider{name: name, client: client}, nil
}

// Name returns the provider name
func (p *GeminiProvider) Name() string {
	return p.name
}

// Generate sends the history and the new multimodal message in one call.
func (p *GeminiProvider) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	if err := validateRequest(p.name, req); err != nil {
		return nil, err
	}

	model := req.Model
	if model == "" {
		model = defaultGeminiModel
	}

	config := &genai.GenerateContentConfig{}
	if req.Temperature > 0 {
		config.Temperature = genai.Ptr(float32(req.Temperature))
	}
	if req.MaxTokens > 0 && req.MaxTokens <= math.MaxInt32 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.SystemInstruction != "" {
		config.SystemInstruction = genai.NewContentFromText(req.SystemInstruction, genai.RoleUser)
	}

	resp, err := p.client.Models.GenerateContent(ctx, model, buildContents(req), config)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, NewProviderError(p.name, ErrorCodeTimeout, ctxErr.Error(), ctxErr)
		}
		return nil, p.wrapError(err)
	}

	return p.parseResponse(resp, model)
}

// buildContents converts history and parts to Gen AI content format.
func buildContents(req GenerateRequest) []*genai.Content {
	contents := make([]*genai.Content, 0, len(req.History)+1)

	for _, m := range req.History {
		role := genai.RoleUser
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, genai.Role(role)))
	}

	parts := make([]*genai.Part, 0, len(req.Parts))
	for _, part := range req.Parts {
		if part.IsMedia() {
			parts = append(parts, genai.NewPartFromBytes(part.Data, part.MIMEType))
			continue
		}
		parts = append(parts, genai.NewPartFromText(part.Text))
	}
	contents = append(contents, genai.NewContentFromParts(parts, genai.RoleUser))

	return contents
}

// parseResponse extracts the reply text from the first candidate.
func (p *GeminiProvider) parseResponse(resp *genai.GenerateContentResponse, model string) (*GenerateResponse, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, NewProviderError(p.name, ErrorCodeMalformedResponse, "no candidates in response", nil)
	}

	candidate := resp.Candidates[0]
	var text string
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if part != nil && part.Text != "" {
				text += part.Text
			}
		}
	}

	finishReason := string(candidate.FinishReason)
	if finishReason == "SAFETY" || finishReason == "PROHIBITED_CONTENT" {
		return nil, NewProviderError(p.name, ErrorCodeContentFiltered, "response blocked: "+finishReason, nil)
	}
	if text == "" {
		return nil, NewProviderError(p.name, ErrorCodeMalformedResponse, "candidate has no text", nil)
	}
	if finishReason == "STOP" || finishReason == "" {
		finishReason = "stop"
	}

	var usage Usage
	if resp.UsageMetadata != nil {
		usage.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		usage.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
		usage.TotalTokens = int(resp.UsageMetadata.TotalTokenCount)
	}

	if resp.ModelVersion != "" {
		model = resp.ModelVersion
	}

	return &GenerateResponse{
		Text:         text,
		FinishReason: finishReason,
		Usage:        usage,
		Model:        model,
	}, nil
}

// wrapError converts Gen AI errors to ProviderError
func (p *GeminiProvider) wrapError(err error) error {
	code := classifyMessage(err.Error())
	return &ProviderError{
		Provider:      p.name,
		Code:          code,
		Message:       err.Error(),
		IsRetryable:   isRetryableError(code),
		OriginalError: err,
	}
}
