package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
	StdoutTraces bool   `yaml:"stdout_traces"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	Node        NodeConfig       `yaml:"node"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	STT         STTConfig        `yaml:"stt"`
	Translate   TranslateConfig  `yaml:"translate"`
	Page        PageConfig       `yaml:"page"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type NodeConfig struct {
	ID                string `yaml:"id"`
	Role              string `yaml:"role"`
	HeartbeatInterval int    `yaml:"heartbeat_interval_ms"`
	HeartbeatTimeout  int    `yaml:"heartbeat_timeout_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

// STTConfig selects the recognizer backend. Mode "none" leaves the page
// without a recognizer.
type STTConfig struct {
	Mode           string   `yaml:"mode"` // none, mock, exec, deepgram, azure
	Language       string   `yaml:"language"`
	Source         string   `yaml:"source"`
	Command        string   `yaml:"command"`
	ModelPath      string   `yaml:"model_path"`
	SampleRate     int      `yaml:"sample_rate"`
	Channels       int      `yaml:"channels"`
	PartialEveryMS int      `yaml:"partial_every_ms"`
	Interim        bool     `yaml:"interim_results"`
	Continuous     bool     `yaml:"continuous"`
	Endpoint       string   `yaml:"endpoint"`
	APIKey         string   `yaml:"api_key"`
	Region         string   `yaml:"region"`
	MockPhrases    []string `yaml:"mock_phrases"`
	MockIntervalMS int      `yaml:"mock_interval_ms"`
}

type TranslateConfig struct {
	Mode      string `yaml:"mode"` // google, ollama, mock
	Endpoint  string `yaml:"endpoint"`
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	Source    string `yaml:"source_language"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type PageConfig struct {
	DefaultTarget string `yaml:"default_target"`
	Title         string `yaml:"title"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-interpreter",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Enabled:        true,
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Node: NodeConfig{
			ID:                "loqa-interpreter-1",
			Role:              "interpreter",
			HeartbeatInterval: 2000,
			HeartbeatTimeout:  6000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/interpreter-events.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   1000,
		},
		STT: STTConfig{
			Mode:           "mock",
			Language:       "en-US",
			Source:         "default",
			SampleRate:     16000,
			Channels:       1,
			PartialEveryMS: 800,
			Interim:        true,
			Continuous:     true,
			Endpoint:       "wss://api.deepgram.com/v1/listen",
			MockIntervalMS: 1500,
		},
		Translate: TranslateConfig{
			Mode:      "google",
			Model:     "llama3.2:latest",
			TimeoutMS: 10000,
		},
		Page: PageConfig{
			DefaultTarget: "es",
			Title:         "Speech Transcription and Translation",
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	applyTranslateDefaults(&cfg.Translate)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Default translation endpoints per backend, used when none is configured.
const (
	GoogleTranslateEndpoint = "https://translation.googleapis.com/language/translate/v2"
	OllamaEndpoint          = "http://localhost:11434"
)

// applyTranslateDefaults fills the endpoint once the final mode is known.
func applyTranslateDefaults(cfg *TranslateConfig) {
	if cfg.Endpoint != "" {
		return
	}
	switch cfg.Mode {
	case "google":
		cfg.Endpoint = GoogleTranslateEndpoint
	case "ollama":
		cfg.Endpoint = OllamaEndpoint
	}
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "LOQA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "LOQA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LOQA_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Telemetry.StdoutTraces, "LOQA_TELEMETRY_STDOUT_TRACES")
	overrideBool(&cfg.Bus.Enabled, "LOQA_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "LOQA_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LOQA_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "LOQA_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Node.ID, "LOQA_NODE_ID")
	overrideString(&cfg.Node.Role, "LOQA_NODE_ROLE")
	overrideInt(&cfg.Node.HeartbeatInterval, "LOQA_NODE_HEARTBEAT_INTERVAL_MS")
	overrideInt(&cfg.Node.HeartbeatTimeout, "LOQA_NODE_HEARTBEAT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "LOQA_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "LOQA_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "LOQA_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "LOQA_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "LOQA_EVENT_STORE_VACUUM_ON_START")
	overrideString(&cfg.STT.Mode, "LOQA_STT_MODE")
	overrideString(&cfg.STT.Language, "LOQA_STT_LANGUAGE")
	overrideString(&cfg.STT.Source, "LOQA_STT_SOURCE")
	overrideString(&cfg.STT.Command, "LOQA_STT_COMMAND")
	overrideString(&cfg.STT.ModelPath, "LOQA_STT_MODEL_PATH")
	overrideInt(&cfg.STT.SampleRate, "LOQA_STT_SAMPLE_RATE")
	overrideInt(&cfg.STT.Channels, "LOQA_STT_CHANNELS")
	overrideInt(&cfg.STT.PartialEveryMS, "LOQA_STT_PARTIAL_EVERY_MS")
	overrideBool(&cfg.STT.Interim, "LOQA_STT_INTERIM_RESULTS")
	overrideBool(&cfg.STT.Continuous, "LOQA_STT_CONTINUOUS")
	overrideString(&cfg.STT.Endpoint, "LOQA_STT_ENDPOINT")
	overrideString(&cfg.STT.APIKey, "LOQA_STT_API_KEY")
	overrideString(&cfg.STT.Region, "LOQA_STT_REGION")
	overrideStringSlice(&cfg.STT.MockPhrases, "LOQA_STT_MOCK_PHRASES")
	overrideInt(&cfg.STT.MockIntervalMS, "LOQA_STT_MOCK_INTERVAL_MS")
	overrideString(&cfg.Translate.Mode, "LOQA_TRANSLATE_MODE")
	overrideString(&cfg.Translate.Endpoint, "LOQA_TRANSLATE_ENDPOINT")
	overrideString(&cfg.Translate.APIKey, "LOQA_TRANSLATE_API_KEY")
	overrideString(&cfg.Translate.Model, "LOQA_TRANSLATE_MODEL")
	overrideString(&cfg.Translate.Source, "LOQA_TRANSLATE_SOURCE_LANGUAGE")
	overrideInt(&cfg.Translate.TimeoutMS, "LOQA_TRANSLATE_TIMEOUT_MS")
	overrideString(&cfg.Page.DefaultTarget, "LOQA_PAGE_DEFAULT_TARGET")
	overrideString(&cfg.Page.Title, "LOQA_PAGE_TITLE")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
		if cfg.Node.ID == "" {
			return errors.New("node.id must not be empty")
		}
		if cfg.Node.HeartbeatInterval <= 0 {
			return errors.New("node.heartbeat_interval_ms must be positive")
		}
		if cfg.Node.HeartbeatTimeout <= cfg.Node.HeartbeatInterval {
			return errors.New("node.heartbeat_timeout_ms must be greater than heartbeat interval")
		}
	}
	if cfg.EventStore.Path == "" && cfg.EventStore.RetentionMode != "ephemeral" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	switch cfg.STT.Mode {
	case "none", "mock":
	case "exec":
		if cfg.STT.Command == "" {
			return errors.New("stt.command must be set when mode=exec")
		}
	case "deepgram":
		if cfg.STT.Endpoint == "" {
			return errors.New("stt.endpoint must be set when mode=deepgram")
		}
	case "azure":
		if cfg.STT.Region == "" {
			return errors.New("stt.region must be set when mode=azure")
		}
	default:
		return errors.New("stt.mode must be one of none|mock|exec|deepgram|azure")
	}
	if cfg.STT.Mode == "exec" || cfg.STT.Mode == "deepgram" || cfg.STT.Mode == "azure" {
		if cfg.STT.SampleRate <= 0 {
			return errors.New("stt.sample_rate must be positive")
		}
		if cfg.STT.Channels <= 0 {
			return errors.New("stt.channels must be positive")
		}
		if cfg.STT.Mode != "azure" && !cfg.Bus.Enabled {
			return fmt.Errorf("stt.mode=%s reads audio frames from the bus; bus.enabled must be true", cfg.STT.Mode)
		}
	}
	if cfg.STT.Language == "" {
		return errors.New("stt.language must not be empty")
	}
	switch cfg.Translate.Mode {
	case "google", "ollama":
		if cfg.Translate.Endpoint == "" {
			return fmt.Errorf("translate.endpoint must be set when mode=%s", cfg.Translate.Mode)
		}
		if cfg.Translate.Mode == "ollama" && strings.HasPrefix(cfg.Translate.Endpoint, GoogleTranslateEndpoint) {
			return errors.New("translate.endpoint points at google translate but mode=ollama")
		}
	case "mock":
	default:
		return errors.New("translate.mode must be one of google|ollama|mock")
	}
	if cfg.Translate.TimeoutMS < 0 {
		return errors.New("translate.timeout_ms must be >= 0")
	}
	if cfg.Page.DefaultTarget == "" {
		return errors.New("page.default_target must not be empty")
	}
	return nil
}
