package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.STT.Language != "en-US" {
		t.Fatalf("expected en-US source language, got %q", cfg.STT.Language)
	}
	if !cfg.STT.Interim || !cfg.STT.Continuous {
		t.Fatal("expected continuous recognition with interim results by default")
	}
	if cfg.Page.DefaultTarget != "es" {
		t.Fatalf("expected default target es, got %q", cfg.Page.DefaultTarget)
	}
	if cfg.Translate.APIKey != "" {
		t.Fatal("api key must not have a built-in default")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LOQA_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("LOQA_BUS_USERNAME", "alice")
	t.Setenv("LOQA_BUS_PASSWORD", "secret")
	t.Setenv("LOQA_BUS_TLS_INSECURE", "true")
	t.Setenv("LOQA_BUS_CONNECT_TIMEOUT_MS", "5000")
	t.Setenv("LOQA_NODE_ID", "test-node")
	t.Setenv("LOQA_EVENT_STORE_PATH", "./tmp.db")
	t.Setenv("LOQA_EVENT_STORE_RETENTION_MODE", "persistent")
	t.Setenv("LOQA_EVENT_STORE_MAX_SESSIONS", "123")
	t.Setenv("LOQA_STT_MODE", "none")
	t.Setenv("LOQA_STT_MOCK_PHRASES", "hello, good morning")
	t.Setenv("LOQA_TRANSLATE_API_KEY", "key-from-env")
	t.Setenv("LOQA_TRANSLATE_TIMEOUT_MS", "2500")
	t.Setenv("LOQA_PAGE_DEFAULT_TARGET", "fr")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if !cfg.Bus.TLSInsecure {
		t.Fatal("expected tls insecure override true")
	}
	if cfg.Bus.ConnectTimeout != 5000 {
		t.Fatalf("expected timeout 5000, got %d", cfg.Bus.ConnectTimeout)
	}
	if cfg.Node.ID != "test-node" {
		t.Fatalf("expected node id override")
	}
	if cfg.EventStore.Path != "./tmp.db" || cfg.EventStore.RetentionMode != "persistent" || cfg.EventStore.MaxSessions != 123 {
		t.Fatalf("expected event store overrides, got %+v", cfg.EventStore)
	}
	if cfg.STT.Mode != "none" {
		t.Fatalf("expected stt mode override, got %q", cfg.STT.Mode)
	}
	if len(cfg.STT.MockPhrases) != 2 || cfg.STT.MockPhrases[1] != "good morning" {
		t.Fatalf("unexpected mock phrases %v", cfg.STT.MockPhrases)
	}
	if cfg.Translate.APIKey != "key-from-env" {
		t.Fatalf("expected api key from env")
	}
	if cfg.Translate.TimeoutMS != 2500 {
		t.Fatalf("expected translate timeout override, got %d", cfg.Translate.TimeoutMS)
	}
	if cfg.Page.DefaultTarget != "fr" {
		t.Fatalf("expected default target override")
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "interpreter.yaml")
	data := []byte(`
http:
  port: 9090
translate:
  mode: mock
stt:
  mode: none
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("LOQA_HTTP_PORT", "9191")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTP.Port != 9191 {
		t.Fatalf("expected env to win over file, got %d", cfg.HTTP.Port)
	}
	if cfg.Translate.Mode != "mock" || cfg.STT.Mode != "none" {
		t.Fatalf("expected file values, got translate=%q stt=%q", cfg.Translate.Mode, cfg.STT.Mode)
	}
	if cfg.Translate.TimeoutMS != 10000 || cfg.Translate.Model == "" {
		t.Fatal("expected defaults to survive partial file")
	}
}

func TestTranslateEndpointFollowsMode(t *testing.T) {
	cases := []struct {
		mode     string
		endpoint string
		want     string
	}{
		{mode: "google", want: GoogleTranslateEndpoint},
		{mode: "ollama", want: OllamaEndpoint},
		{mode: "ollama", endpoint: "http://gpu-box:11434", want: "http://gpu-box:11434"},
		{mode: "mock", want: ""},
	}
	for _, tc := range cases {
		t.Run(tc.mode+tc.endpoint, func(t *testing.T) {
			t.Setenv("LOQA_TRANSLATE_MODE", tc.mode)
			t.Setenv("LOQA_TRANSLATE_ENDPOINT", tc.endpoint)
			cfg, err := Load("")
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if cfg.Translate.Endpoint != tc.want {
				t.Fatalf("expected endpoint %q, got %q", tc.want, cfg.Translate.Endpoint)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"bad stt mode":       func(c *Config) { c.STT.Mode = "browser" },
		"exec no command":    func(c *Config) { c.STT.Mode = "exec" },
		"azure no region":    func(c *Config) { c.STT.Mode = "azure" },
		"bad translate mode": func(c *Config) { c.Translate.Mode = "deepl" },
		"google no endpoint": func(c *Config) { c.Translate.Endpoint = "" },
		"ollama at google":   func(c *Config) {
			c.Translate.Mode = "ollama"
			c.Translate.Endpoint = GoogleTranslateEndpoint
		},
		"negative timeout":   func(c *Config) { c.Translate.TimeoutMS = -1 },
		"bad retention":      func(c *Config) { c.EventStore.RetentionMode = "forever" },
		"frames without bus": func(c *Config) {
			c.Bus.Enabled = false
			c.STT.Mode = "exec"
			c.STT.Command = "whisper"
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			if err := validate(cfg); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
