package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/culturaltourmate/tourmate/internal/i18n"
	"github.com/culturaltourmate/tourmate/internal/llm/provider"
	"github.com/culturaltourmate/tourmate/internal/observability"
	"github.com/culturaltourmate/tourmate/pkg/media"
	"github.com/culturaltourmate/tourmate/pkg/session"
	"github.com/culturaltourmate/tourmate/pkg/turn"
)

// maxConfigSize caps the configuration file size.
const maxConfigSize = 1 << 20

// ErrMissingCredential is returned by Validate when the selected provider
// has no credential. It is fatal at startup.
var ErrMissingCredential = errors.New("missing API credential")

// Config represents the application configuration
type Config struct {
	// Generation service
	Provider     string        `yaml:"provider"` // gemini, vertexai, openai, mock
	Model        string        `yaml:"model"`
	GoogleAPIKey string        `yaml:"google_api_key,omitempty"`
	OpenAIKey    string        `yaml:"openai_key,omitempty"`
	BaseURL      string        `yaml:"base_url,omitempty"`
	GCPProject   string        `yaml:"gcp_project,omitempty"`
	GCPLocation  string        `yaml:"gcp_location,omitempty"`
	MaxTokens    int           `yaml:"max_tokens"`
	Temperature  float64       `yaml:"temperature"`
	Timeout      time.Duration `yaml:"timeout"`

	// Conversation
	Language         string `yaml:"language"`
	AttachmentPolicy string `yaml:"attachment_policy"` // retain, consume
	DisableHistory   bool   `yaml:"disable_history"`

	Session session.Config `yaml:"session"`
	Media   media.Intake   `yaml:"media"`
	Server  ServerConfig   `yaml:"server"`
	Log     LogConfig      `yaml:"log"`

	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP surface configuration
type ServerConfig struct {
	Addr      string  `yaml:"addr"`
	RateLimit float64 `yaml:"rate_limit"` // requests per second, 0 disables
	Burst     int     `yaml:"burst"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console, json
}

// ObservabilityConfig holds metrics and tracing configuration
type ObservabilityConfig struct {
	MetricsPort int                  `yaml:"metrics_port"` // 0 disables
	Tracing     observability.Config `yaml:"tracing"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Provider:         "gemini",
		Model:            "gemini-1.5-flash",
		Timeout:          60 * time.Second,
		Language:         string(i18n.Default),
		AttachmentPolicy: turn.RetainAttachment.String(),
		Session:          session.DefaultConfig(),
		Media:            media.DefaultIntake(),
		Server: ServerConfig{
			Addr:      ":8080",
			RateLimit: 2,
			Burst:     5,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Observability: ObservabilityConfig{
			MetricsPort: 9090,
			Tracing: observability.Config{
				ServiceName:  observability.DefaultServiceName,
				ExporterType: "otlp",
				OTLPEndpoint: observability.DefaultOTLPEndpoint,
				Insecure:     true,
			},
		},
	}
}

// LoadDotEnv loads variables from .env files (default ".env") without
// overriding the existing environment. Missing files are ignored.
func LoadDotEnv(files ...string) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		_ = godotenv.Load(f)
	}
}

// LoadConfig loads configuration from a YAML file on top of the defaults,
// then applies environment overrides. An empty path skips the file.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if info.Size() > maxConfigSize {
			return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigSize)
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv fills credentials from the environment when the file has none,
// and lets TOURMATE_* variables override file settings.
func (c *Config) applyEnv() {
	if c.GoogleAPIKey == "" {
		c.GoogleAPIKey = firstEnv("GOOGLE_API_KEY", "GEMINI_API_KEY", "API_KEY")
	}
	if c.OpenAIKey == "" {
		c.OpenAIKey = os.Getenv("OPENAI_API_KEY")
	}
	if c.GCPProject == "" {
		c.GCPProject = os.Getenv("GOOGLE_CLOUD_PROJECT")
	}
	if c.Session.Firestore.ProjectID == "" {
		c.Session.Firestore.ProjectID = c.GCPProject
	}

	overrides := map[string]*string{
		"TOURMATE_PROVIDER":          &c.Provider,
		"TOURMATE_MODEL":             &c.Model,
		"TOURMATE_LANGUAGE":          &c.Language,
		"TOURMATE_ATTACHMENT_POLICY": &c.AttachmentPolicy,
		"TOURMATE_JOURNAL":           &c.Session.Journal,
		"TOURMATE_SESSION_DIR":       &c.Session.BaseDir,
		"TOURMATE_SESSION_DB":        &c.Session.SQLite.Path,
		"TOURMATE_ADDR":              &c.Server.Addr,
		"TOURMATE_LOG_LEVEL":         &c.Log.Level,
		"TOURMATE_LOG_FORMAT":        &c.Log.Format,
		"REDIS_ADDR":                 &c.Session.Redis.Addr,
		"REDIS_PASSWORD":             &c.Session.Redis.Password,
	}
	for key, field := range overrides {
		if v := os.Getenv(key); v != "" {
			*field = v
		}
	}
}

// SaveConfig saves configuration to a YAML file
func SaveConfig(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if !provider.Has(c.Provider) {
		return fmt.Errorf("unknown provider %q (available: %s)", c.Provider, strings.Join(provider.List(), ", "))
	}
	if c.Credential() == "" && c.Provider != "mock" {
		return fmt.Errorf("%w for provider %q: set %s", ErrMissingCredential, c.Provider, credentialEnv(c.Provider))
	}

	if _, err := i18n.Parse(c.Language); err != nil {
		return err
	}
	if _, ok := turn.ParseAttachmentPolicy(c.AttachmentPolicy); !ok {
		return fmt.Errorf("attachment_policy must be retain or consume, got %q", c.AttachmentPolicy)
	}

	switch c.Session.Journal {
	case "", "none", "file", "sqlite":
	case "redis":
		if c.Session.Redis.Addr == "" {
			return fmt.Errorf("session.redis.addr is required for the redis journal")
		}
	case "firestore":
		if c.Session.Firestore.ProjectID == "" {
			return fmt.Errorf("session.firestore.project_id (or GOOGLE_CLOUD_PROJECT) is required for the firestore journal")
		}
	default:
		return fmt.Errorf("unknown journal type: %s", c.Session.Journal)
	}

	if c.Media.Quality < 1 || c.Media.Quality > 100 {
		return fmt.Errorf("media.quality must be between 1 and 100, got %d", c.Media.Quality)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %v", c.Temperature)
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("server.rate_limit must not be negative")
	}

	return nil
}

// Credential returns the credential for the selected provider. For
// vertexai this is the GCP project; authentication uses ADC.
func (c *Config) Credential() string {
	switch c.Provider {
	case "gemini":
		return c.GoogleAPIKey
	case "openai":
		return c.OpenAIKey
	case "vertexai":
		return c.GCPProject
	case "mock":
		return "mock"
	}
	return ""
}

// ProviderConfig returns the factory configuration for the selected provider.
func (c *Config) ProviderConfig() provider.Config {
	pc := provider.Config{
		BaseURL:  c.BaseURL,
		Project:  c.GCPProject,
		Location: c.GCPLocation,
	}
	switch c.Provider {
	case "gemini":
		pc.APIKey = c.GoogleAPIKey
	case "openai":
		pc.APIKey = c.OpenAIKey
	}
	return pc
}

// TurnOptions converts the conversation settings into controller options.
func (c *Config) TurnOptions() []turn.Option {
	policy, _ := turn.ParseAttachmentPolicy(c.AttachmentPolicy)
	lang, err := i18n.Parse(c.Language)
	if err != nil {
		lang = i18n.Default
	}
	return []turn.Option{
		turn.WithModel(c.Model),
		turn.WithLanguage(string(lang)),
		turn.WithAttachmentPolicy(policy),
		turn.WithHistory(!c.DisableHistory),
		turn.WithGenerationConfig(c.Temperature, c.MaxTokens),
		turn.WithTimeout(c.Timeout),
	}
}

func credentialEnv(name string) string {
	switch name {
	case "gemini":
		return "GOOGLE_API_KEY (or API_KEY)"
	case "openai":
		return "OPENAI_API_KEY"
	case "vertexai":
		return "GOOGLE_CLOUD_PROJECT"
	}
	return "a credential"
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}
