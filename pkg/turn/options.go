package turn

import (
	"time"

	"github.com/culturaltourmate/tourmate/internal/llm/window"
	"github.com/culturaltourmate/tourmate/pkg/session"
)

// AttachmentPolicy decides what happens to the staged image after a
// committed turn.
type AttachmentPolicy int

const (
	// RetainAttachment keeps the image staged for follow-up questions.
	RetainAttachment AttachmentPolicy = iota
	// ConsumeAttachment clears the image that was sent once the turn commits.
	ConsumeAttachment
)

func (p AttachmentPolicy) String() string {
	if p == ConsumeAttachment {
		return "consume"
	}
	return "retain"
}

// ParseAttachmentPolicy parses "retain" or "consume".
func ParseAttachmentPolicy(s string) (AttachmentPolicy, bool) {
	switch s {
	case "", "retain":
		return RetainAttachment, true
	case "consume":
		return ConsumeAttachment, true
	}
	return RetainAttachment, false
}

// DirectiveFunc returns the instruction prepended to each question for the
// selected language, or "" for none.
type DirectiveFunc func(lang string) string

// Option configures a Controller.
type Option func(*Controller)

// WithModel sets the model name passed to the provider.
func WithModel(model string) Option {
	return func(c *Controller) {
		c.model = model
	}
}

// WithLanguage sets the initial answer language.
func WithLanguage(lang string) Option {
	return func(c *Controller) {
		if lang != "" {
			c.lang = lang
		}
	}
}

// WithDirective replaces the language directive.
func WithDirective(fn DirectiveFunc) Option {
	return func(c *Controller) {
		c.directive = fn
	}
}

// WithAttachmentPolicy sets the attachment policy. Default: RetainAttachment.
func WithAttachmentPolicy(p AttachmentPolicy) Option {
	return func(c *Controller) {
		c.policy = p
	}
}

// WithContextWindow sets the manager that trims history to the model's
// context window. nil disables trimming.
func WithContextWindow(m *window.Manager) Option {
	return func(c *Controller) {
		c.window = m
	}
}

// WithHistory controls whether prior turns are sent as context. Default: true.
func WithHistory(enabled bool) Option {
	return func(c *Controller) {
		c.history = enabled
	}
}

// WithGenerationConfig sets sampling temperature and output token limit.
// Zero values leave the provider defaults.
func WithGenerationConfig(temperature float64, maxTokens int) Option {
	return func(c *Controller) {
		c.temperature = temperature
		c.maxTokens = maxTokens
	}
}

// WithTimeout bounds each generation call. Zero means no bound beyond the
// caller's context.
func WithTimeout(d time.Duration) Option {
	return func(c *Controller) {
		c.timeout = d
	}
}

// WithJournal mirrors committed pairs and resets to j. Journal failures are
// logged and never undo a commit.
func WithJournal(j session.Journal) Option {
	return func(c *Controller) {
		if j != nil {
			c.journal = j
		}
	}
}

// WithStateHook registers fn to observe state transitions. fn runs with the
// controller lock held and must not call back into the Controller.
func WithStateHook(fn func(State)) Option {
	return func(c *Controller) {
		c.hook = fn
	}
}
