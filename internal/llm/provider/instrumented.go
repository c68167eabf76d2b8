package provider

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/culturaltourmate/tourmate/internal/llm/cost"
	"github.com/culturaltourmate/tourmate/internal/observability"
	metrics "github.com/culturaltourmate/tourmate/pkg/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentedProvider wraps a Provider with tracing and Prometheus metrics.
// Every call records:
// - a span carrying model, part counts and token usage
// - call duration and status by provider
// - token counters and the estimated cost in USD
type InstrumentedProvider struct {
	provider Provider
	enabled  bool
}

// InstrumentedConfig contains configuration for instrumented providers
type InstrumentedConfig struct {
	// Enabled controls whether instrumentation is active
	Enabled bool
}

// NewInstrumentedProvider wraps a provider with automatic observability
func NewInstrumentedProvider(provider Provider, config *InstrumentedConfig) *InstrumentedProvider {
	if config == nil {
		config = &InstrumentedConfig{Enabled: true}
	}

	return &InstrumentedProvider{
		provider: provider,
		enabled:  config.Enabled,
	}
}

// Generate performs the call with instrumentation
func (p *InstrumentedProvider) Generate(ctx context.Context, request GenerateRequest) (*GenerateResponse, error) {
	if !p.enabled {
		return p.provider.Generate(ctx, request)
	}

	mediaParts := 0
	for _, part := range request.Parts {
		if part.IsMedia() {
			mediaParts++
		}
	}

	ctx, span := observability.StartSpanWithOtel(ctx, fmt.Sprintf("llm.%s.generate", p.provider.Name()),
		trace.WithAttributes(
			attribute.String("llm.provider", p.provider.Name()),
			attribute.String("llm.model", request.Model),
			attribute.Int("llm.history_count", len(request.History)),
			attribute.Int("llm.parts_count", len(request.Parts)),
			attribute.Int("llm.media_parts_count", mediaParts),
		),
	)
	defer span.End()

	startTime := time.Now()
	response, err := p.provider.Generate(ctx, request)
	duration := time.Since(startTime)

	span.SetAttributes(
		attribute.Int64("llm.duration_ms", duration.Milliseconds()),
		attribute.Bool("llm.success", err == nil),
	)

	if err != nil {
		code := ErrorCode(err)
		status := code
		if errors.Is(ctx.Err(), context.Canceled) {
			status = metrics.GenerationCanceled
		}
		metrics.RecordGeneration(p.provider.Name(), status, duration)
		span.RecordError(err)
		span.SetStatus(codes.Error, code)
		return nil, err
	}

	metrics.RecordGeneration(p.provider.Name(), metrics.GenerationOK, duration)
	if response != nil {
		metrics.RecordTokens(p.provider.Name(), response.Usage.PromptTokens, response.Usage.CompletionTokens)
		span.SetAttributes(
			attribute.Int("llm.usage.prompt_tokens", response.Usage.PromptTokens),
			attribute.Int("llm.usage.completion_tokens", response.Usage.CompletionTokens),
			attribute.Int("llm.usage.total_tokens", response.Usage.TotalTokens),
			attribute.String("llm.finish_reason", response.FinishReason),
		)

		model := cmp.Or(response.Model, request.Model)
		if c, err := cost.DefaultCalculator.Calculate(cost.Usage{
			Model:        model,
			InputTokens:  response.Usage.PromptTokens,
			OutputTokens: response.Usage.CompletionTokens,
		}); err == nil {
			metrics.RecordCost(p.provider.Name(), model, c.TotalCost)
			span.SetAttributes(attribute.Float64("llm.cost_usd", c.TotalCost))
		}
	}

	return response, nil
}

// Name returns the underlying provider name
func (p *InstrumentedProvider) Name() string {
	return p.provider.Name()
}

// WrapProvider wraps a provider with instrumentation if not already wrapped
func WrapProvider(provider Provider) Provider {
	if _, ok := provider.(*InstrumentedProvider); ok {
		return provider
	}

	return NewInstrumentedProvider(provider, &InstrumentedConfig{Enabled: true})
}

// UnwrapProvider returns the underlying provider if wrapped, otherwise returns the provider as-is
func UnwrapProvider(provider Provider) Provider {
	if instrumented, ok := provider.(*InstrumentedProvider); ok {
		return instrumented.provider
	}
	return provider
}
