package provider

import (
	"context"
	"sync"
)

func init() {
	RegisterFactory("mock", func(cfg Config) (Provider, error) {
		return NewMockProvider("mock"), nil
	})
}

// MockProvider is a scripted provider for tests and offline runs.
//
// Responses and Errors are consumed in call order; an error at index i wins
// over a response at the same index. Once the script runs out, the default
// reply is returned.
type MockProvider struct {
	name string

	mu        sync.Mutex
	Responses []*GenerateResponse
	Errors    []error
	Calls     []GenerateRequest

	// Gate, when set, holds every call until a value is received or the
	// channel is closed.
	Gate chan struct{}

	// Entered, when set, receives one value as each call starts.
	Entered chan struct{}

	// IgnoreCancel makes a gated call wait for Gate even after its context
	// is cancelled, emulating a service whose reply arrives late.
	IgnoreCancel bool

	currentIndex int
}

// NewMockProvider creates a new mock provider
func NewMockProvider(name string) *MockProvider {
	return &MockProvider{name: name}
}

// Name implements Provider
func (m *MockProvider) Name() string {
	return m.name
}

// Generate implements Provider
func (m *MockProvider) Generate(ctx context.Context, request GenerateRequest) (*GenerateResponse, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, request)
	idx := m.currentIndex
	m.currentIndex++
	gate, entered := m.Gate, m.Entered
	m.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}

	if gate != nil {
		if m.IgnoreCancel {
			<-gate
		} else {
			select {
			case <-gate:
			case <-ctx.Done():
				return nil, NewProviderError(m.name, ErrorCodeTimeout, ctx.Err().Error(), ctx.Err())
			}
		}
	} else if err := ctx.Err(); err != nil {
		return nil, NewProviderError(m.name, ErrorCodeTimeout, err.Error(), err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if idx < len(m.Errors) && m.Errors[idx] != nil {
		return nil, m.Errors[idx]
	}

	if idx < len(m.Responses) && m.Responses[idx] != nil {
		resp := *m.Responses[idx]
		return &resp, nil
	}

	return &GenerateResponse{
		Text:         "Mock response",
		FinishReason: "stop",
		Usage: Usage{
			PromptTokens:     10,
			CompletionTokens: 5,
			TotalTokens:      15,
		},
	}, nil
}

// AddResponse appends a scripted reply.
func (m *MockProvider) AddResponse(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for len(m.Errors) < len(m.Responses) {
		m.Errors = append(m.Errors, nil)
	}
	m.Responses = append(m.Responses, &GenerateResponse{Text: text, FinishReason: "stop"})
	m.Errors = append(m.Errors, nil)
}

// AddError appends a scripted failure.
func (m *MockProvider) AddError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for len(m.Responses) < len(m.Errors) {
		m.Responses = append(m.Responses, nil)
	}
	m.Errors = append(m.Errors, err)
	m.Responses = append(m.Responses, nil)
}

// CallCount returns how many times Generate was invoked.
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// LastCall returns the most recent request.
func (m *MockProvider) LastCall() (GenerateRequest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Calls) == 0 {
		return GenerateRequest{}, false
	}
	return m.Calls[len(m.Calls)-1], true
}

// Reset clears recorded calls and the script.
func (m *MockProvider) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Responses = nil
	m.Errors = nil
	m.Calls = nil
	m.currentIndex = 0
}
