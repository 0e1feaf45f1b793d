package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"slices"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"s2s":   {"gemini-live", "genai-live"},
	"audio": {"portaudio"},
}

// APIKeyEnvVars are consulted in order when provider.api_key is empty.
var APIKeyEnvVars = []string{"GEMINI_API_KEY", "API_KEY"}

// maxSampleRate bounds the configurable device rates.
const maxSampleRate = 192000

// LoadEnv loads KEY=VALUE pairs from the given dotenv files (".env" when
// none are given) into the process environment. Variables already set are
// not overwritten and missing files are ignored.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("config: load env %q: %w", f, err)
		}
	}
	return nil
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
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

// LoadFromReader decodes a YAML config from r, fills defaults and
// environment fallbacks, and validates the result. An empty document yields
// the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	applyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromBytes is [LoadFromReader] over an in-memory document.
func LoadFromBytes(data []byte) (*Config, error) {
	return LoadFromReader(bytes.NewReader(data))
}

// applyEnv fills an empty provider.api_key from [APIKeyEnvVars].
func applyEnv(cfg *Config) {
	if cfg.Provider.APIKey != "" {
		return
	}
	for _, name := range APIKeyEnvVars {
		if v := os.Getenv(name); v != "" {
			cfg.Provider.APIKey = v
			return
		}
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Provider
	validateProviderName("s2s", cfg.Provider.Name)
	if cfg.Provider.APIKey == "" {
		slog.Warn("provider.api_key is empty and GEMINI_API_KEY / API_KEY are not set; sessions will fail to connect",
			"provider", cfg.Provider.Name,
		)
	}

	// Session
	if cfg.Session.SelectedVoice() == "" {
		errs = append(errs, errors.New("session: the selected voice is empty"))
	}

	// Audio
	validateProviderName("audio", cfg.Audio.Devices)
	if r := cfg.Audio.InputSampleRate; r < 0 || r > maxSampleRate {
		errs = append(errs, fmt.Errorf("audio.input_sample_rate %d is out of range [0, %d]", r, maxSampleRate))
	}
	if r := cfg.Audio.OutputSampleRate; r < 0 || r > maxSampleRate {
		errs = append(errs, fmt.Errorf("audio.output_sample_rate %d is out of range [0, %d]", r, maxSampleRate))
	}
	if cfg.Audio.FrameSize < 0 {
		errs = append(errs, fmt.Errorf("audio.frame_size %d must not be negative", cfg.Audio.FrameSize))
	}
	if cfg.Audio.SendQueue < 0 {
		errs = append(errs, fmt.Errorf("audio.send_queue %d must not be negative", cfg.Audio.SendQueue))
	}

	// Archive
	if cfg.Archive.Retain < 0 {
		errs = append(errs, fmt.Errorf("archive.retain %d must not be negative", cfg.Archive.Retain))
	}
	if cfg.Archive.PostgresDSN == "" {
		slog.Debug("archive.postgres_dsn is empty; transcripts are kept in memory only")
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
	slog.Warn("unknown provider name; may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
