// Package window keeps generation requests inside a model's context window
// by dropping the oldest history turns first.
package window

import (
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/culturaltourmate/tourmate/internal/llm/provider"
)

// ImageTokens is the flat estimate charged for one inline image.
const ImageTokens = 258

// TokenEstimator estimates token count for text
type TokenEstimator interface {
	EstimateTokens(text string) int
}

// SimpleTokenEstimator counts roughly four ASCII bytes per token and one
// token per non-ASCII rune, which keeps CJK text from being undercounted.
type SimpleTokenEstimator struct{}

func (SimpleTokenEstimator) EstimateTokens(text string) int {
	ascii, other := 0, 0
	for _, r := range text {
		if r < utf8.RuneSelf {
			ascii++
		} else {
			other++
		}
	}
	return (ascii+3)/4 + other
}

// ModelConfig contains model-specific context limits
type ModelConfig struct {
	Model            string
	MaxContextTokens int
	OutputReserve    int // tokens kept free for the reply
}

// Manager fits requests to per-model context limits.
type Manager struct {
	estimator TokenEstimator

	mu      sync.RWMutex
	configs map[string]ModelConfig
}

// DefaultConfig applies to models with no matching entry.
var DefaultConfig = ModelConfig{Model: "default", MaxContextTokens: 32768, OutputReserve: 2048}

var defaultConfigs = []ModelConfig{
	{Model: "gemini-1.5-flash", MaxContextTokens: 1_048_576, OutputReserve: 8192},
	{Model: "gemini-1.5-pro", MaxContextTokens: 2_097_152, OutputReserve: 8192},
	{Model: "gemini-2", MaxContextTokens: 1_048_576, OutputReserve: 8192},
	{Model: "gpt-4o", MaxContextTokens: 128_000, OutputReserve: 4096},
	{Model: "gpt-4.1", MaxContextTokens: 1_047_576, OutputReserve: 8192},
	{Model: "mock", MaxContextTokens: 8192, OutputReserve: 512},
}

// NewManager creates a manager with the built-in model limits.
func NewManager() *Manager {
	m := &Manager{
		estimator: SimpleTokenEstimator{},
		configs:   make(map[string]ModelConfig, len(defaultConfigs)),
	}
	for _, c := range defaultConfigs {
		m.configs[c.Model] = c
	}
	return m
}

// SetEstimator replaces the token estimator.
func (m *Manager) SetEstimator(e TokenEstimator) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.estimator = e
}

// SetModelConfig adds or replaces the limits for a model.
func (m *Manager) SetModelConfig(c ModelConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[c.Model] = c
}

// ConfigFor returns the limits for model: an exact match, else the longest
// configured prefix, else DefaultConfig.
func (m *Manager) ConfigFor(model string) ModelConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if c, ok := m.configs[model]; ok {
		return c
	}
	best, found := ModelConfig{}, false
	lower := strings.ToLower(model)
	for key, c := range m.configs {
		if strings.HasPrefix(lower, key) && (!found || len(key) > len(best.Model)) {
			best, found = c, true
		}
	}
	if found {
		return best
	}
	return DefaultConfig
}

// Estimate returns the estimated prompt size of req.
func (m *Manager) Estimate(req provider.GenerateRequest) int {
	m.mu.RLock()
	est := m.estimator
	m.mu.RUnlock()

	total := est.EstimateTokens(req.SystemInstruction)
	for _, msg := range req.History {
		total += est.EstimateTokens(msg.Content)
	}
	for _, p := range req.Parts {
		if p.IsMedia() {
			total += ImageTokens
		} else {
			total += est.EstimateTokens(p.Text)
		}
	}
	return total
}

// Fit trims req.History from the oldest end until the request fits the
// model's window with room for the reply. Whole user/assistant exchanges
// are dropped so the remaining history still starts with a user turn.
// It returns the number of history messages removed. The system
// instruction and the new parts are never trimmed.
func (m *Manager) Fit(req *provider.GenerateRequest) int {
	cfg := m.ConfigFor(req.Model)
	reserve := max(cfg.OutputReserve, req.MaxTokens)
	budget := cfg.MaxContextTokens - reserve

	dropped := 0
	for len(req.History) > 0 && m.Estimate(*req) > budget {
		n := 1
		if len(req.History) > 1 && req.History[0].Role == provider.RoleUser && req.History[1].Role == provider.RoleAssistant {
			n = 2
		}
		req.History = req.History[n:]
		dropped += n
	}
	if len(req.History) == 0 {
		req.History = nil
	}
	return dropped
}

// Stats describes how a request uses the model's window.
type Stats struct {
	Model     string
	Window    int
	Reserved  int
	Used      int
	Available int
	History   int
}

// Statistics summarises how req uses the model's window. Reserved is the
// larger of the model's output reserve and req.MaxTokens, as in Fit.
func (m *Manager) Statistics(req provider.GenerateRequest) Stats {
	cfg := m.ConfigFor(req.Model)
	reserve := max(cfg.OutputReserve, req.MaxTokens)
	used := m.Estimate(req)
	return Stats{
		Model:     cfg.Model,
		Window:    cfg.MaxContextTokens,
		Reserved:  reserve,
		Used:      used,
		Available: cfg.MaxContextTokens - reserve - used,
		History:   len(req.History),
	}
}
