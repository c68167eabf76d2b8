package window

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/culturaltourmate/tourmate/internal/llm/provider"
)

func exchange(n int, size int) []provider.Message {
	var msgs []provider.Message
	for range n {
		msgs = append(msgs,
			provider.Message{Role: provider.RoleUser, Content: strings.Repeat("q", size)},
			provider.Message{Role: provider.RoleAssistant, Content: strings.Repeat("a", size)},
		)
	}
	return msgs
}

func TestSimpleTokenEstimator(t *testing.T) {
	var e SimpleTokenEstimator
	assert.Equal(t, 0, e.EstimateTokens(""))
	assert.Equal(t, 1, e.EstimateTokens("abc"))
	assert.Equal(t, 2, e.EstimateTokens("abcdefgh"))
	assert.Equal(t, 4, e.EstimateTokens("故宫博物"))
	assert.Equal(t, 3, e.EstimateTokens("hi 你好"))
}

func TestConfigFor(t *testing.T) {
	m := NewManager()

	assert.Equal(t, 2_097_152, m.ConfigFor("gemini-1.5-pro").MaxContextTokens)
	assert.Equal(t, 1_048_576, m.ConfigFor("gemini-2.5-flash").MaxContextTokens)
	assert.Equal(t, 128_000, m.ConfigFor("gpt-4o-mini").MaxContextTokens)
	assert.Equal(t, DefaultConfig, m.ConfigFor("unknown-model"))
	assert.Equal(t, DefaultConfig, m.ConfigFor(""))

	m.SetModelConfig(ModelConfig{Model: "gpt-4o-mini", MaxContextTokens: 1000, OutputReserve: 100})
	assert.Equal(t, 1000, m.ConfigFor("gpt-4o-mini-2024-07-18").MaxContextTokens)
}

func TestEstimate(t *testing.T) {
	m := NewManager()
	req := provider.GenerateRequest{
		SystemInstruction: strings.Repeat("s", 40),
		History:           exchange(1, 8),
		Parts: []provider.Part{
			provider.TextPart(strings.Repeat("t", 20)),
			provider.MediaPart("image/jpeg", []byte{0xff, 0xd8}),
		},
	}
	assert.Equal(t, 10+2+2+5+ImageTokens, m.Estimate(req))
}

func TestFit(t *testing.T) {
	t.Run("fits untouched", func(t *testing.T) {
		m := NewManager()
		req := provider.GenerateRequest{Model: "mock", History: exchange(2, 40)}
		assert.Equal(t, 0, m.Fit(&req))
		assert.Len(t, req.History, 4)
	})

	t.Run("drops oldest exchanges", func(t *testing.T) {
		m := NewManager()
		// mock: 8192 window, 512 reserved; each message is 1000 tokens
		req := provider.GenerateRequest{
			Model:   "mock",
			History: exchange(5, 4000),
			Parts:   []provider.Part{provider.TextPart("what is this?")},
		}
		last := req.History[len(req.History)-1]

		dropped := m.Fit(&req)

		assert.Equal(t, 4, dropped)
		require.Len(t, req.History, 6)
		assert.Equal(t, provider.RoleUser, req.History[0].Role)
		assert.Equal(t, last, req.History[len(req.History)-1])
		assert.LessOrEqual(t, m.Estimate(req), 8192-512)
	})

	t.Run("max tokens widens reserve", func(t *testing.T) {
		m := NewManager()
		req := provider.GenerateRequest{Model: "mock", MaxTokens: 4096, History: exchange(2, 4400)}
		assert.Equal(t, 2, m.Fit(&req))
		assert.Len(t, req.History, 2)
	})

	t.Run("oversized parts clear history", func(t *testing.T) {
		m := NewManager()
		req := provider.GenerateRequest{
			Model:   "mock",
			History: exchange(1, 8),
			Parts:   []provider.Part{provider.TextPart(strings.Repeat("x", 40000))},
		}
		assert.Equal(t, 2, m.Fit(&req))
		assert.Nil(t, req.History)
		assert.Len(t, req.Parts, 1)
	})

	t.Run("unpaired leading message dropped alone", func(t *testing.T) {
		m := NewManager()
		m.SetModelConfig(ModelConfig{Model: "tiny", MaxContextTokens: 25, OutputReserve: 0})
		req := provider.GenerateRequest{
			Model: "tiny",
			History: append([]provider.Message{
				{Role: provider.RoleAssistant, Content: strings.Repeat("a", 40)},
			}, exchange(1, 40)...),
		}
		assert.Equal(t, 1, m.Fit(&req))
		require.Len(t, req.History, 2)
		assert.Equal(t, provider.RoleUser, req.History[0].Role)
	})
}

type fixedEstimator int

func (f fixedEstimator) EstimateTokens(string) int { return int(f) }

func TestSetEstimatorAndStatistics(t *testing.T) {
	m := NewManager()
	m.SetEstimator(fixedEstimator(7))

	req := provider.GenerateRequest{Model: "mock", History: exchange(1, 1)}
	stats := m.Statistics(req)

	assert.Equal(t, "mock", stats.Model)
	assert.Equal(t, 8192, stats.Window)
	assert.Equal(t, 21, stats.Used)
	assert.Equal(t, 8192-512-21, stats.Available)
	assert.Equal(t, 2, stats.History)

	req.MaxTokens = 1024
	assert.Equal(t, 1024, m.Statistics(req).Reserved)
}
