package config_test

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/stephen37/voice-assistant/internal/config"
)

func TestLoad_FromFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("router:\n  knowledge_limit: 5\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Router.KnowledgeLimit != 5 {
		t.Errorf("router.knowledge_limit: got %d, want 5", cfg.Router.KnowledgeLimit)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil || !strings.Contains(err.Error(), "config: open") {
		t.Errorf("expected open error, got %v", err)
	}
}

func TestLoadFromReader_UnsetEnvExpandsEmpty(t *testing.T) {
	t.Setenv("TEST_UNSET_PROVIDER_KEY", "")
	cfg, err := config.LoadFromReader(strings.NewReader("providers:\n  tts:\n    api_key: ${TEST_UNSET_PROVIDER_KEY}\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Providers.TTS.APIKey != "" {
		t.Errorf("api_key: got %q, want empty", cfg.Providers.TTS.APIKey)
	}
}

func TestValidate_KnowledgeNeedsEmbeddings(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.Knowledge.PostgresDSN = "postgres://localhost/test"
	cfg.Providers.Embeddings.Name = ""
	err := config.Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "providers.embeddings") {
		t.Errorf("expected embeddings error, got %v", err)
	}
}

func TestValidate_RequiredSlots(t *testing.T) {
	t.Parallel()
	err := config.Validate(&config.Config{})
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	for _, kind := range []string{"stt", "tts", "llm"} {
		if !strings.Contains(err.Error(), "providers."+kind+".name is required") {
			t.Errorf("error should require providers.%s, got: %v", kind, err)
		}
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
router:
  knowledge_threshold: -0.1
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "server.log_level") || !strings.Contains(errStr, "router.knowledge_threshold") {
		t.Errorf("error should list both problems, got: %v", err)
	}
}

func TestValidate_DefaultIsValid(t *testing.T) {
	t.Parallel()
	if err := config.Validate(config.Default()); err != nil {
		t.Errorf("Default() should validate, got %v", err)
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	for kind, want := range map[string]string{
		"stt":        "assemblyai",
		"tts":        "elevenlabs",
		"llm":        "ollama",
		"embeddings": "jina",
		"calendar":   "google",
		"web_search": "duckduckgo",
	} {
		if !slices.Contains(config.ValidProviderNames[kind], want) {
			t.Errorf("ValidProviderNames[%q] should contain %q", kind, want)
		}
	}
}
