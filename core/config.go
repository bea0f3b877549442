package core

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/stevegt/envi"
)

// Config is the read-only configuration surface resolved once at
// process start.  A provider counts as configured only when its
// credentials or endpoint are present; the registry never dials an
// unconfigured provider.
type Config struct {
	OllamaURL    string
	OpenAIKey    string
	AnthropicKey string
	GoogleKey    string
	XAIKey       string

	DataDir      string
	DefaultModel string
}

// LoadConfig reads .env (if present) and the process environment.
func LoadConfig() *Config {
	// missing .env is fine; the environment still applies
	_ = godotenv.Load()

	dataDir := envi.String("LOREMASTER_DATA_DIR", "")
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		dataDir = filepath.Join(home, ".loremaster")
	}

	return &Config{
		OllamaURL:    envi.String("OLLAMA_URL", "http://localhost:11434"),
		OpenAIKey:    envi.String("OPENAI_API_KEY", ""),
		AnthropicKey: envi.String("ANTHROPIC_API_KEY", ""),
		GoogleKey:    envi.String("GOOGLE_API_KEY", ""),
		XAIKey:       envi.String("XAI_API_KEY", ""),
		DataDir:      dataDir,
		DefaultModel: envi.String("LOREMASTER_MODEL", ""),
	}
}

// StorePath returns the conversation db path under the data dir.
func (c *Config) StorePath() string {
	return filepath.Join(c.DataDir, "conversations.db")
}

// PersonaDir returns the custom persona directory under the data dir.
func (c *Config) PersonaDir() string {
	return filepath.Join(c.DataDir, "personas")
}
