package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists the provider implementations the server can
// construct. Used by [Validate] to reject unrecognised names early.
var ValidProviderNames = []string{"openai", "gemini", "mistral", "yandex", "anyllm"}

// Defaults applied by [Validate] when a field is unset.
const (
	DefaultListenAddr  = ":8080"
	DefaultCORSOrigin  = "*"
	DefaultTTL         = 30 * time.Minute
	DefaultMaxMessages = 20
)

// Load reads the YAML configuration file at path and returns a validated
// [Config] with environment overrides applied. It is a convenience wrapper
// around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies environment overrides,
// and validates the result. Useful in tests where configs are constructed
// from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg fields from environment variables. Deployment
// secrets usually arrive this way rather than through the YAML file.
//
//	AI_PROVIDER          → provider.name
//	OPENAI_API_KEY       → provider.api_key (when provider is openai)
//	GEMINI_API_KEY       → provider.api_key (when provider is gemini)
//	MISTRAL_API_KEY      → provider.api_key (when provider is mistral)
//	YANDEX_API_KEY       → provider.api_key (when provider is yandex)
//	YANDEX_FOLDER_ID     → provider.folder_id
//	SESSION_POSTGRES_DSN → session.postgres_dsn
func ApplyEnv(cfg *Config) {
	if v := os.Getenv("AI_PROVIDER"); v != "" {
		cfg.Provider.Name = v
	}

	keyVars := map[string]string{
		"openai":  "OPENAI_API_KEY",
		"gemini":  "GEMINI_API_KEY",
		"mistral": "MISTRAL_API_KEY",
		"yandex":  "YANDEX_API_KEY",
	}
	if envVar, ok := keyVars[cfg.Provider.Name]; ok {
		if v := os.Getenv(envVar); v != "" {
			cfg.Provider.APIKey = v
		}
	}

	if v := os.Getenv("YANDEX_FOLDER_ID"); v != "" {
		cfg.Provider.FolderID = v
	}
	if v := os.Getenv("SESSION_POSTGRES_DSN"); v != "" {
		cfg.Session.PostgresDSN = v
	}
}

// Validate checks that cfg contains a coherent set of values and fills in
// defaults. It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.CORSOrigin == "" {
		cfg.Server.CORSOrigin = DefaultCORSOrigin
	}
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Provider
	if cfg.Provider.Name == "" {
		errs = append(errs, errors.New("provider.name is required"))
	} else if !slices.Contains(ValidProviderNames, cfg.Provider.Name) {
		errs = append(errs, fmt.Errorf("provider.name %q is invalid; valid values: openai, gemini, mistral, yandex, anyllm", cfg.Provider.Name))
	}
	if cfg.Provider.Name == "yandex" && cfg.Provider.FolderID == "" {
		errs = append(errs, errors.New("provider.folder_id is required when provider.name is yandex"))
	}
	if cfg.Provider.Name == "anyllm" {
		if cfg.Provider.Vendor == "" {
			errs = append(errs, errors.New("provider.vendor is required when provider.name is anyllm"))
		}
		if cfg.Provider.Model == "" {
			errs = append(errs, errors.New("provider.model is required when provider.name is anyllm"))
		}
	}
	if cfg.Provider.APIKey == "" && cfg.Provider.Name != "anyllm" && cfg.Provider.Name != "" {
		slog.Warn("provider.api_key is empty; provider construction will fail at startup",
			"provider", cfg.Provider.Name)
	}

	// Session
	if cfg.Session.Backend == "" {
		cfg.Session.Backend = BackendMemory
	}
	if !cfg.Session.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("session.backend %q is invalid; valid values: memory, postgres", cfg.Session.Backend))
	}
	if cfg.Session.Backend == BackendPostgres && cfg.Session.PostgresDSN == "" {
		errs = append(errs, errors.New("session.postgres_dsn is required when session.backend is postgres"))
	}
	if cfg.Session.TTL == 0 {
		cfg.Session.TTL = Duration(DefaultTTL)
	} else if cfg.Session.TTL < 0 {
		errs = append(errs, fmt.Errorf("session.ttl %v must be positive", cfg.Session.TTL.Std()))
	}
	if cfg.Session.MaxMessages == 0 {
		cfg.Session.MaxMessages = DefaultMaxMessages
	} else if cfg.Session.MaxMessages < 2 {
		errs = append(errs, fmt.Errorf("session.max_messages %d must be at least 2 to hold one exchange", cfg.Session.MaxMessages))
	}

	return errors.Join(errs...)
}
