package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Provider is the external generation service: a hosted multimodal model
// that turns an ordered list of parts (plus optional history) into text.
type Provider interface {
	// Generate performs one generation call. It must honour ctx cancellation.
	Generate(ctx context.Context, request GenerateRequest) (*GenerateResponse, error)

	// Name returns the provider name (e.g., "gemini", "openai")
	Name() string
}

// Role values used in history messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a prior chat turn given to the model as context.
type Message struct {
	Role    string `json:"role"`    // "user", "assistant"
	Content string `json:"content"` // The message content
}

// Part is one element of the request payload: either text or inline media.
type Part struct {
	Text     string `json:"text,omitempty"`
	MIMEType string `json:"mime_type,omitempty"`
	Data     []byte `json:"-"`
}

// TextPart builds a text part.
func TextPart(text string) Part {
	return Part{Text: text}
}

// MediaPart builds an inline media part.
func MediaPart(mimeType string, data []byte) Part {
	return Part{MIMEType: mimeType, Data: data}
}

// IsMedia reports whether the part carries media bytes.
func (p Part) IsMedia() bool {
	return p.MIMEType != ""
}

// GenerateRequest represents a generation request
type GenerateRequest struct {
	// Model is the model to use (e.g., "gemini-1.5-flash", "gpt-4o")
	Model string `json:"model,omitempty"`

	// SystemInstruction anchors the model's persona.
	SystemInstruction string `json:"system_instruction,omitempty"`

	// History holds prior turns, oldest first.
	History []Message `json:"history,omitempty"`

	// Parts is the ordered payload of the new user message.
	Parts []Part `json:"parts"`

	// Temperature controls randomness (0.0-2.0)
	Temperature float64 `json:"temperature,omitempty"`

	// MaxTokens is the maximum number of tokens to generate
	MaxTokens int `json:"max_tokens,omitempty"`
}

// GenerateResponse represents a generation response
type GenerateResponse struct {
	// Text is the generated reply
	Text string `json:"text"`

	// FinishReason explains why generation stopped
	FinishReason string `json:"finish_reason"`

	// Usage contains token usage information
	Usage Usage `json:"usage"`

	// Model is the model that produced the reply, when reported.
	Model string `json:"model,omitempty"`
}

// Usage represents token usage information
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ProviderError represents a provider-specific error
type ProviderError struct {
	Provider      string `json:"provider"`
	Code          string `json:"code"`
	Message       string `json:"message"`
	StatusCode    int    `json:"status_code,omitempty"`
	IsRetryable   bool   `json:"is_retryable"`
	OriginalError error  `json:"-"`
}

// Error implements the error interface
func (e *ProviderError) Error() string {
	return e.Provider + " error: " + e.Message
}

// Unwrap returns the original error
func (e *ProviderError) Unwrap() error {
	return e.OriginalError
}

// Common error codes
const (
	ErrorCodeInvalidRequest    = "invalid_request"
	ErrorCodeAuthentication    = "authentication_error"
	ErrorCodeRateLimit         = "rate_limit_exceeded"
	ErrorCodeQuotaExceeded     = "quota_exceeded"
	ErrorCodeServerError       = "server_error"
	ErrorCodeTimeout           = "timeout"
	ErrorCodeModelNotFound     = "model_not_found"
	ErrorCodeContentFiltered   = "content_filtered"
	ErrorCodeMalformedResponse = "malformed_response"
	ErrorCodeUnknown           = "unknown_error"
)

// NewProviderError creates a new provider error
func NewProviderError(provider, code, message string, original error) *ProviderError {
	return &ProviderError{
		Provider:      provider,
		Code:          code,
		Message:       message,
		OriginalError: original,
		IsRetryable:   isRetryableError(code),
	}
}

// isRetryableError determines if an error code is retryable
func isRetryableError(code string) bool {
	switch code {
	case ErrorCodeRateLimit, ErrorCodeServerError, ErrorCodeTimeout:
		return true
	default:
		return false
	}
}

// ErrorCode extracts the provider error code from err, or ErrorCodeUnknown.
func ErrorCode(err error) string {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ErrorCodeUnknown
}

// classifyStatus maps an HTTP status code to an error code.
func classifyStatus(status int) string {
	switch {
	case status == 401 || status == 403:
		return ErrorCodeAuthentication
	case status == 429:
		return ErrorCodeRateLimit
	case status == 400:
		return ErrorCodeInvalidRequest
	case status == 404:
		return ErrorCodeModelNotFound
	case status == 408:
		return ErrorCodeTimeout
	case status >= 500:
		return ErrorCodeServerError
	default:
		return ErrorCodeUnknown
	}
}

// classifyMessage determines an error code from an error message
// (case-insensitive), for SDKs that do not expose typed errors.
func classifyMessage(msg string) string {
	msg = strings.ToLower(msg)
	switch {
	case strings.Contains(msg, "api key") || strings.Contains(msg, "authentication") ||
		strings.Contains(msg, "credential") || strings.Contains(msg, "permission") ||
		strings.Contains(msg, "403") || strings.Contains(msg, "401"):
		return ErrorCodeAuthentication
	case strings.Contains(msg, "quota") || strings.Contains(msg, "resource_exhausted"):
		return ErrorCodeQuotaExceeded
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "429"):
		return ErrorCodeRateLimit
	case strings.Contains(msg, "not found") || strings.Contains(msg, "404"):
		return ErrorCodeModelNotFound
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		return ErrorCodeTimeout
	case strings.Contains(msg, "invalid") || strings.Contains(msg, "400"):
		return ErrorCodeInvalidRequest
	case strings.Contains(msg, "500") || strings.Contains(msg, "503") ||
		strings.Contains(msg, "server") || strings.Contains(msg, "unavailable"):
		return ErrorCodeServerError
	default:
		return ErrorCodeUnknown
	}
}

// validateRequest rejects requests no provider can serve.
func validateRequest(provider string, req GenerateRequest) error {
	if len(req.Parts) == 0 {
		return NewProviderError(provider, ErrorCodeInvalidRequest, "request has no parts", nil)
	}
	for i, p := range req.Parts {
		if p.IsMedia() && len(p.Data) == 0 {
			return NewProviderError(provider, ErrorCodeInvalidRequest, fmt.Sprintf("part %d has no media data", i), nil)
		}
	}
	return nil
}
