package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrWong99/livevoice/internal/config"
)

func TestLoad_File(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "livevoice.yaml")
	if err := os.WriteFile(path, []byte("session:\n  voice: Aoede\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Session.Voice != "Aoede" {
		t.Errorf("voice: got %q, want Aoede", cfg.Session.Voice)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := config.Load("/nonexistent/livevoice.yaml")
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
	if !strings.Contains(err.Error(), "open") {
		t.Errorf("error should mention open, got: %v", err)
	}
}

func TestLoad_InvalidFileNamesPath(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("server: [unclosed\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := config.Load(path)
	if err == nil {
		t.Fatal("expected error for malformed yaml, got nil")
	}
	if !strings.Contains(err.Error(), path) {
		t.Errorf("error should name the file, got: %v", err)
	}
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("LIVEVOICE_TEST_ENV_KEY=from-dotenv\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("LIVEVOICE_TEST_ENV_KEY", "")
	os.Unsetenv("LIVEVOICE_TEST_ENV_KEY")

	if err := config.LoadEnv(path, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("LoadEnv: %v", err)
	}
	if got := os.Getenv("LIVEVOICE_TEST_ENV_KEY"); got != "from-dotenv" {
		t.Errorf("env var: got %q, want from-dotenv", got)
	}
}

func TestLoadEnv_DoesNotOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("GEMINI_API_KEY=from-file\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GEMINI_API_KEY", "from-shell")

	if err := config.LoadEnv(path); err != nil {
		t.Fatalf("LoadEnv: %v", err)
	}
	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Provider.APIKey != "from-shell" {
		t.Errorf("api_key: got %q, want from-shell", cfg.Provider.APIKey)
	}
}

func TestValidate_ProVoiceSelection(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"standard default", "", "Puck"},
		{"pro default", "session:\n  pro: true\n", "Fenrir"},
		{"standard custom", "session:\n  voice: Kore\n", "Kore"},
		{"pro custom", "session:\n  pro: true\n  pro_voice: Charon\n", "Charon"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg, err := config.LoadFromReader(strings.NewReader(tc.yaml))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := cfg.Session.SelectedVoice(); got != tc.want {
				t.Errorf("SelectedVoice() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestLoad_ExampleConfig(t *testing.T) {
	cfg, err := config.Load(filepath.Join("..", "..", "configs", "example.yaml"))
	if err != nil {
		t.Fatalf("Load example config: %v", err)
	}
	if cfg.Provider.Name != config.DefaultProvider {
		t.Errorf("Provider.Name = %q, want %q", cfg.Provider.Name, config.DefaultProvider)
	}
	if cfg.Session.SelectedVoice() != config.DefaultVoice {
		t.Errorf("SelectedVoice() = %q, want %q", cfg.Session.SelectedVoice(), config.DefaultVoice)
	}
	if cfg.Archive.Retain != 100 {
		t.Errorf("Archive.Retain = %d, want 100", cfg.Archive.Retain)
	}
}
