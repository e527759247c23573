package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/joho/godotenv"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt": {"whisper", "whisper-native", "openai"},
	"llm": {"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
}

// Load builds a validated [Config] from the environment. A .env file in the
// working directory is read first when present; variables already set in the
// environment take precedence over .env values.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}
	cfg := FromEnv()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv reads the environment into a [Config] without validating it.
// Unset or empty variables take their documented defaults.
func FromEnv() *Config {
	return &Config{
		Broker: BrokerConfig{
			BootstrapServers: splitList(envOr("BROKER_BOOTSTRAP_SERVERS", "localhost:9092")),
			Topics: Topics{
				Audio:       envOr("TOPIC_AUDIO", "audio_processing"),
				Translation: envOr("TOPIC_TRANSLATION", "text_translation"),
				Package:     envOr("TOPIC_PACKAGE", "text_packaging"),
			},
			Groups: Groups{
				Whisper:     envOr("GROUP_WHISPER", "whisper_processing_group"),
				Translation: envOr("GROUP_TRANSLATION", "translation_processing_group"),
				Packaging:   envOr("GROUP_PACKAGING", "text_packaging_group"),
			},
		},
		Database: DatabaseConfig{
			URL: os.Getenv("DATABASE_URL"),
		},
		Storage: StorageConfig{
			PackageDir: envOr("PACKAGE_DIR", "packs"),
			UploadDir:  envOr("UPLOAD_DIR", "uploads"),
		},
		Server: ServerConfig{
			ListenAddr:       envOr("LISTEN_ADDR", ":8080"),
			WorkerListenAddr: envOr("WORKER_LISTEN_ADDR", ":8081"),
			LogLevel:         LogLevel(strings.ToLower(envOr("LOG_LEVEL", "info"))),
		},
		Providers: ProvidersConfig{
			OpenAIAPIKey:       os.Getenv("OPENAI_API_KEY"),
			STT:                providerFromEnv("STT", "whisper", ""),
			STTFallback:        providerFromEnv("STT_FALLBACK", "", ""),
			Translator:         providerFromEnv("TRANSLATOR", "openai", "gpt-4o-mini"),
			TranslatorFallback: providerFromEnv("TRANSLATOR_FALLBACK", "", ""),
			Scorer:             providerFromEnv("SCORER", "openai", "gpt-4o-mini"),
		},
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("LOG_LEVEL %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Database.URL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}

	if len(cfg.Broker.BootstrapServers) == 0 {
		errs = append(errs, errors.New("BROKER_BOOTSTRAP_SERVERS must name at least one broker"))
	}

	// The stage topics must exist and must not collide: a task published to
	// its own consuming topic would loop forever.
	topics := map[string]string{
		"TOPIC_AUDIO":       cfg.Broker.Topics.Audio,
		"TOPIC_TRANSLATION": cfg.Broker.Topics.Translation,
		"TOPIC_PACKAGE":     cfg.Broker.Topics.Package,
	}
	seen := make(map[string]string, len(topics))
	for _, v := range slices.Sorted(maps.Keys(topics)) {
		name := topics[v]
		if name == "" {
			errs = append(errs, fmt.Errorf("%s must not be empty", v))
			continue
		}
		if prev, dup := seen[name]; dup {
			errs = append(errs, fmt.Errorf("%s and %s both name topic %q", prev, v, name))
			continue
		}
		seen[name] = v
	}

	groups := map[string]string{
		"GROUP_WHISPER":     cfg.Broker.Groups.Whisper,
		"GROUP_TRANSLATION": cfg.Broker.Groups.Translation,
		"GROUP_PACKAGING":   cfg.Broker.Groups.Packaging,
	}
	for _, v := range slices.Sorted(maps.Keys(groups)) {
		if groups[v] == "" {
			errs = append(errs, fmt.Errorf("%s must not be empty", v))
		}
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("stt", cfg.Providers.STTFallback.Name)
	validateProviderName("llm", cfg.Providers.Translator.Name)
	validateProviderName("llm", cfg.Providers.TranslatorFallback.Name)
	if cfg.Providers.Scorer.Name != "local" {
		validateProviderName("llm", cfg.Providers.Scorer.Name)
	}

	// Credential availability warnings.
	if cfg.Providers.Translator.Name == "openai" && cfg.Providers.Translator.KeyOr(cfg.Providers.OpenAIAPIKey) == "" {
		slog.Warn("translator uses openai but neither TRANSLATOR_API_KEY nor OPENAI_API_KEY is set")
	}
	if cfg.Providers.Scorer.Name == "openai" && cfg.Providers.Scorer.KeyOr(cfg.Providers.OpenAIAPIKey) == "" {
		slog.Warn("scorer uses openai but neither SCORER_API_KEY nor OPENAI_API_KEY is set")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}

// envOr returns the trimmed value of the environment variable key, or def
// when the variable is unset or blank.
func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// providerFromEnv reads the four <prefix>_* provider variables.
func providerFromEnv(prefix, defaultName, defaultModel string) ProviderEntry {
	return ProviderEntry{
		Name:     envOr(prefix+"_PROVIDER", defaultName),
		Model:    envOr(prefix+"_MODEL", defaultModel),
		Endpoint: strings.TrimSpace(os.Getenv(prefix + "_ENDPOINT")),
		APIKey:   strings.TrimSpace(os.Getenv(prefix + "_API_KEY")),
	}
}

// splitList splits a comma-separated list, trimming whitespace and dropping
// empty items.
func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
