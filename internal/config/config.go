// Package config loads the process configuration: the §6 recognized
// keys for the RAG chat pipeline plus the ambient logging/observability
// settings, from a YAML file overlaid with environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pterm/pterm"
	"gopkg.in/yaml.v3"
)

// BackendConfig holds the per-backend fields recognized by §6:
// apiUrl, apiKey (openai/gemini only), model, timeout.
type BackendConfig struct {
	APIURL       string            `yaml:"apiUrl"`
	APIKey       string            `yaml:"apiKey"`
	Model        string            `yaml:"model"`
	Timeout      int               `yaml:"timeout"` // seconds
	ExtraHeaders map[string]string `yaml:"extraHeaders"`
}

func (b BackendConfig) timeoutDuration(defaultSeconds int) time.Duration {
	s := b.Timeout
	if s <= 0 {
		s = defaultSeconds
	}
	return time.Duration(s) * time.Second
}

// TimeoutDuration returns the configured per-call timeout, defaulting to
// 60s when unset.
func (b BackendConfig) TimeoutDuration() time.Duration { return b.timeoutDuration(60) }

// ObsConfig configures the OpenTelemetry bootstrap in
// observability.InitOTel.
type ObsConfig struct {
	OTLP           string `yaml:"otlpEndpoint"`
	ServiceName    string `yaml:"serviceName"`
	ServiceVersion string `yaml:"serviceVersion"`
	Environment    string `yaml:"environment"`
}

// LoggingConfig configures observability.InitLogger.
type LoggingConfig struct {
	Path               string `yaml:"path"`
	Level              string `yaml:"level"`
	EnablePayloadLog   bool   `yaml:"enablePayloadLogging"`
	TruncatePayloadLen int    `yaml:"truncatePayloadBytes"`
}

// Config is the process configuration. Every §6 recognized key has a
// field here; unset numeric fields fall back to the documented defaults
// applied in ApplyDefaults.
type Config struct {
	RagChatEnabled bool   `yaml:"ragChatEnabled"`
	LlmType        string `yaml:"llmType"` // none | ollama | openai | gemini

	Ollama BackendConfig `yaml:"ollama"`
	OpenAI BackendConfig `yaml:"openai"`
	Gemini BackendConfig `yaml:"gemini"`

	RagChatTemperature               float64 `yaml:"ragChatTemperature"`
	RagChatMaxTokens                 int     `yaml:"ragChatMaxTokens"`
	RagChatContextMaxDocuments       int     `yaml:"ragChatContextMaxDocuments"`
	RagChatContextMaxChars           int     `yaml:"ragChatContextMaxChars"`
	RagChatEvaluationMaxRelevantDocs int     `yaml:"ragChatEvaluationMaxRelevantDocs"`
	RagChatHistoryMaxMessages        int     `yaml:"ragChatHistoryMaxMessages"`
	RagChatSystemPrompt              string  `yaml:"ragChatSystemPrompt"`
	RagLlmAvailabilityCheckInterval  int     `yaml:"ragLlmAvailabilityCheckInterval"` // seconds, <=0 disables
	RagChatContentFields             string  `yaml:"ragChatContentFields"`            // comma-separated

	Obs     ObsConfig     `yaml:"observability"`
	Logging LoggingConfig `yaml:"logging"`
}

// ContentFields splits RagChatContentFields on commas, trimming
// whitespace and dropping empty entries.
func (c Config) ContentFields() []string {
	if strings.TrimSpace(c.RagChatContentFields) == "" {
		return nil
	}
	parts := strings.Split(c.RagChatContentFields, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// AvailabilityCheckInterval converts RagLlmAvailabilityCheckInterval to a
// time.Duration; <=0 means disabled.
func (c Config) AvailabilityCheckInterval() time.Duration {
	if c.RagLlmAvailabilityCheckInterval <= 0 {
		return 0
	}
	return time.Duration(c.RagLlmAvailabilityCheckInterval) * time.Second
}

// ApplyDefaults fills in documented defaults for fields left unset.
func (c *Config) ApplyDefaults() {
	if c.LlmType == "" {
		c.LlmType = "none"
	}
	if c.RagChatTemperature == 0 {
		c.RagChatTemperature = 0.7
	}
	if c.RagChatMaxTokens <= 0 {
		c.RagChatMaxTokens = 1024
	}
	if c.RagChatContextMaxDocuments <= 0 {
		c.RagChatContextMaxDocuments = 10
	}
	if c.RagChatContextMaxChars <= 0 {
		c.RagChatContextMaxChars = 8000
	}
	if c.RagChatEvaluationMaxRelevantDocs <= 0 {
		c.RagChatEvaluationMaxRelevantDocs = 5
	}
	if c.RagChatHistoryMaxMessages <= 0 {
		c.RagChatHistoryMaxMessages = 20
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Obs.ServiceName == "" {
		c.Obs.ServiceName = "ragchatd"
	}
	if c.Obs.ServiceVersion == "" {
		c.Obs.ServiceVersion = "dev"
	}
	if c.Obs.Environment == "" {
		c.Obs.Environment = "development"
	}
}

// Load reads path as YAML, overlays a .env file (if present) via
// godotenv.Overload, then applies a fixed set of environment-variable
// overrides, reporting each step through pterm the way a local dev
// server's startup banner does.
func Load(path string) (*Config, error) {
	if err := godotenv.Overload(); err != nil && !os.IsNotExist(err) {
		pterm.Warning.Printfln("failed to load .env: %v", err)
	}

	var cfg Config
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)
	cfg.ApplyDefaults()

	if cfg.RagChatEnabled {
		pterm.Success.Printfln("rag chat enabled, backend=%s", cfg.LlmType)
	} else {
		pterm.Info.Println("rag chat disabled")
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RAGCHAT_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.RagChatEnabled = b
		}
	}
	if v := os.Getenv("RAGCHAT_LLM_TYPE"); v != "" {
		cfg.LlmType = v
	}
	if v := os.Getenv("RAGCHAT_OLLAMA_API_URL"); v != "" {
		cfg.Ollama.APIURL = v
	}
	if v := os.Getenv("RAGCHAT_OLLAMA_MODEL"); v != "" {
		cfg.Ollama.Model = v
	}
	if v := os.Getenv("RAGCHAT_OPENAI_API_URL"); v != "" {
		cfg.OpenAI.APIURL = v
	}
	if v := os.Getenv("RAGCHAT_OPENAI_API_KEY"); v != "" {
		cfg.OpenAI.APIKey = v
	}
	if v := os.Getenv("RAGCHAT_OPENAI_MODEL"); v != "" {
		cfg.OpenAI.Model = v
	}
	if v := os.Getenv("RAGCHAT_GEMINI_API_URL"); v != "" {
		cfg.Gemini.APIURL = v
	}
	if v := os.Getenv("RAGCHAT_GEMINI_API_KEY"); v != "" {
		cfg.Gemini.APIKey = v
	}
	if v := os.Getenv("RAGCHAT_GEMINI_MODEL"); v != "" {
		cfg.Gemini.Model = v
	}
	if v := os.Getenv("RAGCHAT_OTLP_ENDPOINT"); v != "" {
		cfg.Obs.OTLP = v
	}
}
