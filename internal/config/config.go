package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultExpression is the expression used whenever the selector cannot
// produce a valid catalog member.
const DefaultExpression = "welcoming"

// NeutralAffect is the affect descriptor assigned to fresh sessions.
const NeutralAffect = "emotionally neutral"

// DefaultPersonaTemplate is the system prompt for the reply model. The single
// %s slot receives the current affect descriptor.
const DefaultPersonaTemplate = "You are a character in a story representing a clinician.\n" +
	"You speak in very short, warm replies (1-3 sentences).\n" +
	"In the story, the patient appears: %s.\n" +
	"You are warm, clear, and boundaried.\n" +
	"You do not provide real medical advice.\n" +
	"Use no more than 40-50 words.\n"

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	StaticDir      string   `mapstructure:"static_dir"`
}

// OllamaConfig points at the upstream inference service.
type OllamaConfig struct {
	BaseURL     string `mapstructure:"base_url"`
	TextModel   string `mapstructure:"text_model"`
	VisionModel string `mapstructure:"vision_model"`
}

// TimeoutConfig bounds each pipeline stage's upstream call.
type TimeoutConfig struct {
	Affect     time.Duration `mapstructure:"affect"`
	Reply      time.Duration `mapstructure:"reply"`
	Expression time.Duration `mapstructure:"expression"`
	Vision     time.Duration `mapstructure:"vision"`
}

// SessionConfig controls session eviction.
type SessionConfig struct {
	MaxAge time.Duration `mapstructure:"max_age"`
}

// AvatarConfig locates the expression assets.
type AvatarConfig struct {
	Dir               string `mapstructure:"dir"`
	DefaultExpression string `mapstructure:"default_expression"`
}

// Config is the full service configuration.
type Config struct {
	Server          ServerConfig  `mapstructure:"server"`
	Ollama          OllamaConfig  `mapstructure:"ollama"`
	Timeouts        TimeoutConfig `mapstructure:"timeouts"`
	Session         SessionConfig `mapstructure:"session"`
	Avatar          AvatarConfig  `mapstructure:"avatar"`
	PersonaTemplate string        `mapstructure:"persona_template"`
	NeutralAffect   string        `mapstructure:"neutral_affect"`
}

// SetDefaults registers every configuration default on the given viper
// instance. Defaults mirror the reference deployment: a local Ollama server,
// llama3 for text, llava for vision, one-hour session retention.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.static_dir", "")
	v.SetDefault("ollama.base_url", "http://localhost:11434")
	v.SetDefault("ollama.text_model", "llama3")
	v.SetDefault("ollama.vision_model", "llava")
	v.SetDefault("timeouts.affect", 20*time.Second)
	v.SetDefault("timeouts.reply", 60*time.Second)
	v.SetDefault("timeouts.expression", 20*time.Second)
	v.SetDefault("timeouts.vision", 60*time.Second)
	v.SetDefault("session.max_age", time.Hour)
	v.SetDefault("avatar.dir", "frontend/public/avatars")
	v.SetDefault("avatar.default_expression", DefaultExpression)
	v.SetDefault("persona_template", DefaultPersonaTemplate)
	v.SetDefault("neutral_affect", NeutralAffect)
}

// Load reads the configuration from the given viper instance, applying
// defaults first and validating the result.
func Load(v *viper.Viper) (Config, error) {
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the pipeline cannot run with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Ollama.BaseURL) == "" {
		return fmt.Errorf("ollama.base_url must not be empty")
	}
	if strings.TrimSpace(c.Ollama.TextModel) == "" {
		return fmt.Errorf("ollama.text_model must not be empty")
	}
	if strings.TrimSpace(c.Ollama.VisionModel) == "" {
		return fmt.Errorf("ollama.vision_model must not be empty")
	}
	if strings.TrimSpace(c.Avatar.DefaultExpression) == "" {
		return fmt.Errorf("avatar.default_expression must not be empty")
	}
	if !strings.Contains(c.PersonaTemplate, "%s") {
		return fmt.Errorf("persona_template must contain a %%s slot for the affect descriptor")
	}
	for name, d := range map[string]time.Duration{
		"timeouts.affect":     c.Timeouts.Affect,
		"timeouts.reply":      c.Timeouts.Reply,
		"timeouts.expression": c.Timeouts.Expression,
		"timeouts.vision":     c.Timeouts.Vision,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if c.Session.MaxAge <= 0 {
		return fmt.Errorf("session.max_age must be positive")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be a valid port number")
	}
	return nil
}

// Addr returns the listen address for the HTTP server.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
