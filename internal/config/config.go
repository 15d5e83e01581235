package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"nlcal/internal/ics"
)

// ErrInvalidConfig is returned by Validate for unusable settings.
var ErrInvalidConfig = errors.New("invalid config")

// Environment variables that override the API key from the file. The first
// non-empty one wins.
var apiKeyEnv = []string{"NLCAL_API_KEY", "OPENAI_API_KEY"}

const (
	DefaultListen      = "127.0.0.1:8080"
	DefaultModel       = "gpt-4o-mini"
	DefaultProductID   = ics.DefaultProductID
	DefaultSchedule    = "*/1 * * * *"
	DefaultTimeoutSecs = 60
)

// LLMConfig describes the text-generation service used for extraction.
type LLMConfig struct {
	// BaseURL of an OpenAI-compatible API. Empty means the public endpoint.
	BaseURL string `yaml:"base_url" json:"base_url"`
	Model   string `yaml:"model" json:"model"`
	// APIKey is normally supplied through the environment instead.
	APIKey         string  `yaml:"api_key,omitempty" json:"-"`
	Temperature    float32 `yaml:"temperature" json:"temperature"`
	TimeoutSeconds int     `yaml:"timeout_seconds" json:"timeout_seconds"`
}

// Timeout returns the per-request timeout for the generator.
func (l LLMConfig) Timeout() time.Duration {
	return time.Duration(l.TimeoutSeconds) * time.Second
}

// InboxConfig enables the directory watcher.
type InboxConfig struct {
	// Dir is scanned for *.txt files; empty disables the watcher.
	Dir string `yaml:"dir" json:"dir"`
	// Schedule is a cron expression, e.g. "*/1 * * * *".
	Schedule string `yaml:"schedule" json:"schedule"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the HTTP API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone used to compute the reference date
	// ("today") handed to the extractor. Empty means the host zone.
	Timezone string `yaml:"timezone" json:"timezone"`

	// OutputDir receives the generated .ics files.
	OutputDir string `yaml:"output_dir" json:"output_dir"`

	// OpenFiles hands every written file to the OS calendar handler.
	OpenFiles bool `yaml:"open_files" json:"open_files"`

	LogLevel  string `yaml:"log_level" json:"log_level"`
	ProductID string `yaml:"product_id" json:"product_id"`

	LLM   LLMConfig   `yaml:"llm" json:"llm"`
	Inbox InboxConfig `yaml:"inbox" json:"inbox"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:    DefaultListen,
		OutputDir: defaultOutputDir(),
		OpenFiles: true,
		LogLevel:  "info",
		ProductID: DefaultProductID,
		LLM: LLMConfig{
			Model:          DefaultModel,
			TimeoutSeconds: DefaultTimeoutSecs,
		},
		Inbox: InboxConfig{
			Schedule: DefaultSchedule,
		},
	}
}

func defaultOutputDir() string {
	return filepath.Join(os.TempDir(), "nlcal")
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.OutputDir == "" {
		c.OutputDir = defaultOutputDir()
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.ProductID == "" {
		c.ProductID = DefaultProductID
	}
	if c.LLM.Model == "" {
		c.LLM.Model = DefaultModel
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = DefaultTimeoutSecs
	}
	if c.Inbox.Schedule == "" {
		c.Inbox.Schedule = DefaultSchedule
	}
}

// Validate checks settings that cannot be defaulted.
func (c *Config) Validate() error {
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return fmt.Errorf("%w: timezone %q: %v", ErrInvalidConfig, c.Timezone, err)
		}
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("%w: llm.temperature must be within [0, 2]", ErrInvalidConfig)
	}
	if c.BasicAuth != nil && (c.BasicAuth.Username == "") != (c.BasicAuth.Password == "") {
		return fmt.Errorf("%w: basic_auth needs both username and password", ErrInvalidConfig)
	}
	return nil
}

// Location resolves Timezone, falling back to the host zone.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// ApplyEnv loads an optional .env file from the working directory and
// lets the environment override secrets.
func (c *Config) ApplyEnv() {
	_ = godotenv.Load()
	for _, name := range apiKeyEnv {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			c.LLM.APIKey = v
			return
		}
	}
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
//
// The environment is applied on top in both cases; secrets taken from the
// environment are never written back to disk.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				cfg.ApplyEnv()
				return cfg, err
			}
			cfg.ApplyEnv()
			return cfg, nil
		}
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	cfg.Normalize()
	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	// Atomic write: write to temp file in same directory then rename.
	tmp, err := os.CreateTemp(dir, ".nlcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
