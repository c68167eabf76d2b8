// Package cost estimates what a generation call cost from its token usage.
package cost

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// ModelPricing contains pricing information for a specific model
type ModelPricing struct {
	Model       string
	InputPer1M  float64 // USD per 1M prompt tokens, image tokens included
	OutputPer1M float64 // USD per 1M completion tokens
}

// Usage represents token usage for a single call
type Usage struct {
	Model        string
	InputTokens  int
	OutputTokens int
}

// Cost represents the calculated cost for one call
type Cost struct {
	InputCost  float64
	OutputCost float64
	TotalCost  float64
	Currency   string
}

// Calculator maps model names to prices. Unknown models fall back to the
// longest registered prefix, so "gemini-1.5-flash-002" is priced as
// "gemini-1.5-flash".
type Calculator struct {
	pricing map[string]ModelPricing
	mu      sync.RWMutex
}

// NewCalculator creates a new cost calculator with default pricing
func NewCalculator() *Calculator {
	c := &Calculator{
		pricing: make(map[string]ModelPricing),
	}
	for _, p := range defaultPricing {
		c.pricing[p.Model] = p
	}
	return c
}

// List prices of the multimodal models the providers default to.
var defaultPricing = []ModelPricing{
	{Model: "gemini-1.5-flash", InputPer1M: 0.075, OutputPer1M: 0.30},
	{Model: "gemini-1.5-pro", InputPer1M: 1.25, OutputPer1M: 5.0},
	{Model: "gemini-2.0-flash", InputPer1M: 0.10, OutputPer1M: 0.40},
	{Model: "gemini-2.5-flash", InputPer1M: 0.30, OutputPer1M: 2.50},
	{Model: "gemini-2.5-pro", InputPer1M: 1.25, OutputPer1M: 10.0},
	{Model: "gpt-4o", InputPer1M: 2.5, OutputPer1M: 10.0},
	{Model: "gpt-4o-mini", InputPer1M: 0.15, OutputPer1M: 0.60},
	{Model: "gpt-4.1", InputPer1M: 2.0, OutputPer1M: 8.0},
	{Model: "gpt-4.1-mini", InputPer1M: 0.40, OutputPer1M: 1.60},
	{Model: "mock", InputPer1M: 0, OutputPer1M: 0},
}

// AddPricing adds or updates pricing for a model
func (c *Calculator) AddPricing(p ModelPricing) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pricing[p.Model] = p
}

// GetPricing retrieves pricing for a model by exact name, then by longest
// matching prefix.
func (c *Calculator) GetPricing(model string) (ModelPricing, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if p, ok := c.pricing[model]; ok {
		return p, true
	}

	keys := make([]string, 0, len(c.pricing))
	for k := range c.pricing {
		if strings.HasPrefix(model, k) {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return ModelPricing{}, false
	}
	longest := slices.MaxFunc(keys, func(a, b string) int {
		return cmp.Or(cmp.Compare(len(a), len(b)), cmp.Compare(a, b))
	})
	return c.pricing[longest], true
}

// Calculate computes the cost for the given usage
func (c *Calculator) Calculate(usage Usage) (Cost, error) {
	pricing, ok := c.GetPricing(usage.Model)
	if !ok {
		return Cost{}, fmt.Errorf("no pricing found for model: %s", usage.Model)
	}

	cost := Cost{Currency: "USD"}
	if usage.InputTokens > 0 {
		cost.InputCost = (float64(usage.InputTokens) / 1_000_000) * pricing.InputPer1M
	}
	if usage.OutputTokens > 0 {
		cost.OutputCost = (float64(usage.OutputTokens) / 1_000_000) * pricing.OutputPer1M
	}
	cost.TotalCost = cost.InputCost + cost.OutputCost
	return cost, nil
}

// ListModels returns all models with pricing information, sorted.
func (c *Calculator) ListModels() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	models := make([]string, 0, len(c.pricing))
	for model := range c.pricing {
		models = append(models, model)
	}
	slices.Sort(models)
	return models
}

// DefaultCalculator is the global cost calculator instance
var DefaultCalculator = NewCalculator()
