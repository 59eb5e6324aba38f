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
	MetricsPath  string `yaml:"metrics_path"`
}

type HTTPConfig struct {
	Bind       string `yaml:"bind"`
	Port       int    `yaml:"port"`
	CORSOrigin string `yaml:"cors_origin"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Transform   TransformConfig  `yaml:"transform"`
	Eleven      ElevenConfig     `yaml:"eleven"`
	TTS         TTSConfig        `yaml:"tts"`
	STT         STTConfig        `yaml:"stt"`
	Playback    PlaybackConfig   `yaml:"playback"`
	Source      SourceConfig     `yaml:"source"`
	Console     ConsoleConfig    `yaml:"console"`
	Profile     ProfileConfig    `yaml:"profile"`
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

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type TransformConfig struct {
	Mode      string `yaml:"mode"` // mock, http
	Origin    string `yaml:"origin"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type ElevenConfig struct {
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	ModelID      string `yaml:"model_id"`
	OutputFormat string `yaml:"output_format"`
	TimeoutMS    int    `yaml:"timeout_ms"`
}

type TTSConfig struct {
	Mode       string `yaml:"mode"` // mock, eleven, exec
	Command    string `yaml:"command"`
	SampleRate int    `yaml:"sample_rate"`
}

type STTConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Mode           string `yaml:"mode"`
	Command        string `yaml:"command"`
	ModelPath      string `yaml:"model_path"`
	Language       string `yaml:"language"`
	SampleRate     int    `yaml:"sample_rate"`
	Channels       int    `yaml:"channels"`
	PartialEveryMS int    `yaml:"partial_every_ms"`
	PublishInterim bool   `yaml:"publish_interim"`
}

type PlaybackConfig struct {
	Mode    string `yaml:"mode"` // clock, exec
	Command string `yaml:"command"`
	TickMS  int    `yaml:"tick_ms"`
}

type SourceConfig struct {
	Mode    string `yaml:"mode"` // mock, bus, http
	Subject string `yaml:"subject"`
	Path    string `yaml:"path"`
	DelayMS int    `yaml:"delay_ms"`
}

type ConsoleConfig struct {
	VoiceID       string `yaml:"voice_id"`
	AutoTrigger   bool   `yaml:"auto_trigger"`
	DebounceMS    int    `yaml:"debounce_ms"`
	MinChars      int    `yaml:"min_chars"`
	LoopIdleMS    int    `yaml:"loop_idle_ms"`
	LoopPauseMS   int    `yaml:"loop_pause_ms"`
	AgentText     string `yaml:"agent_text"`
	InitialText   string `yaml:"initial_text"`
	AuditPrivacy  string `yaml:"audit_privacy_scope"`
	PublishEvents bool   `yaml:"publish_events"`
}

type ProfileConfig struct {
	Key string `yaml:"key"`
}

func Default() Config {
	return Config{
		RuntimeName: "toneshift",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind:       "0.0.0.0",
			Port:       8080,
			CORSOrigin: "*",
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
			MetricsPath:  "/metrics",
		},
		Bus: BusConfig{
			Enabled:        true,
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/toneshift.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		Transform: TransformConfig{
			Mode:      "mock",
			Origin:    "http://localhost:8000",
			TimeoutMS: 8000,
		},
		Eleven: ElevenConfig{
			BaseURL:      "https://api.elevenlabs.io",
			ModelID:      "eleven_turbo_v2_5",
			OutputFormat: "mp3_44100_128",
			TimeoutMS:    8000,
		},
		TTS: TTSConfig{
			Mode:       "mock",
			SampleRate: 22050,
		},
		STT: STTConfig{
			Enabled:        false,
			Mode:           "mock",
			Language:       "ko",
			SampleRate:     16000,
			Channels:       1,
			PartialEveryMS: 800,
		},
		Playback: PlaybackConfig{
			Mode:   "clock",
			TickMS: 20,
		},
		Source: SourceConfig{
			Mode:    "mock",
			Subject: "customer.utterance",
			Path:    "/ai/swear",
			DelayMS: 120,
		},
		Console: ConsoleConfig{
			DebounceMS:    650,
			MinChars:      2,
			LoopIdleMS:    120,
			LoopPauseMS:   240,
			AgentText:     "기다리게 해서 정말 죄송합니다. 바로 확인하겠습니다.",
			AuditPrivacy:  "internal",
			PublishEvents: true,
		},
		Profile: ProfileConfig{
			Key: "tonesift.listenProfile.v1",
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
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "TONESHIFT_RUNTIME_NAME")
	overrideString(&cfg.Environment, "TONESHIFT_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "TONESHIFT_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "TONESHIFT_HTTP_PORT")
	overrideString(&cfg.HTTP.CORSOrigin, "TONESHIFT_HTTP_CORS_ORIGIN")
	overrideString(&cfg.Telemetry.LogLevel, "TONESHIFT_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "TONESHIFT_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "TONESHIFT_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.MetricsPath, "TONESHIFT_TELEMETRY_METRICS_PATH")
	overrideBool(&cfg.Bus.Enabled, "TONESHIFT_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "TONESHIFT_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "TONESHIFT_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "TONESHIFT_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "TONESHIFT_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "TONESHIFT_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "TONESHIFT_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "TONESHIFT_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "TONESHIFT_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "TONESHIFT_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "TONESHIFT_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "TONESHIFT_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "TONESHIFT_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "TONESHIFT_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "TONESHIFT_EVENT_STORE_VACUUM_ON_START")
	overrideString(&cfg.Transform.Mode, "TONESHIFT_TRANSFORM_MODE")
	overrideString(&cfg.Transform.Origin, "AI_BACKEND_ORIGIN")
	overrideString(&cfg.Transform.Origin, "TONESHIFT_TRANSFORM_ORIGIN")
	overrideInt(&cfg.Transform.TimeoutMS, "TONESHIFT_TRANSFORM_TIMEOUT_MS")
	overrideString(&cfg.Eleven.APIKey, "XI_API_KEY")
	overrideString(&cfg.Eleven.APIKey, "ELEVENLABS_API_KEY")
	overrideString(&cfg.Eleven.BaseURL, "TONESHIFT_ELEVEN_BASE_URL")
	overrideString(&cfg.Eleven.ModelID, "TONESHIFT_ELEVEN_MODEL_ID")
	overrideString(&cfg.Eleven.OutputFormat, "TONESHIFT_ELEVEN_OUTPUT_FORMAT")
	overrideInt(&cfg.Eleven.TimeoutMS, "TONESHIFT_ELEVEN_TIMEOUT_MS")
	overrideString(&cfg.TTS.Mode, "TONESHIFT_TTS_MODE")
	overrideString(&cfg.TTS.Command, "TONESHIFT_TTS_COMMAND")
	overrideInt(&cfg.TTS.SampleRate, "TONESHIFT_TTS_SAMPLE_RATE")
	overrideBool(&cfg.STT.Enabled, "TONESHIFT_STT_ENABLED")
	overrideString(&cfg.STT.Mode, "TONESHIFT_STT_MODE")
	overrideString(&cfg.STT.Command, "TONESHIFT_STT_COMMAND")
	overrideString(&cfg.STT.ModelPath, "TONESHIFT_STT_MODEL_PATH")
	overrideString(&cfg.STT.Language, "TONESHIFT_STT_LANGUAGE")
	overrideInt(&cfg.STT.SampleRate, "TONESHIFT_STT_SAMPLE_RATE")
	overrideInt(&cfg.STT.Channels, "TONESHIFT_STT_CHANNELS")
	overrideInt(&cfg.STT.PartialEveryMS, "TONESHIFT_STT_PARTIAL_EVERY_MS")
	overrideBool(&cfg.STT.PublishInterim, "TONESHIFT_STT_PUBLISH_INTERIM")
	overrideString(&cfg.Playback.Mode, "TONESHIFT_PLAYBACK_MODE")
	overrideString(&cfg.Playback.Command, "TONESHIFT_PLAYBACK_COMMAND")
	overrideInt(&cfg.Playback.TickMS, "TONESHIFT_PLAYBACK_TICK_MS")
	overrideString(&cfg.Source.Mode, "TONESHIFT_SOURCE_MODE")
	overrideString(&cfg.Source.Subject, "TONESHIFT_SOURCE_SUBJECT")
	overrideString(&cfg.Source.Path, "TONESHIFT_SOURCE_PATH")
	overrideInt(&cfg.Source.DelayMS, "TONESHIFT_SOURCE_DELAY_MS")
	overrideString(&cfg.Console.VoiceID, "TONESHIFT_CONSOLE_VOICE_ID")
	overrideBool(&cfg.Console.AutoTrigger, "TONESHIFT_CONSOLE_AUTO_TRIGGER")
	overrideInt(&cfg.Console.DebounceMS, "TONESHIFT_CONSOLE_DEBOUNCE_MS")
	overrideInt(&cfg.Console.MinChars, "TONESHIFT_CONSOLE_MIN_CHARS")
	overrideInt(&cfg.Console.LoopIdleMS, "TONESHIFT_CONSOLE_LOOP_IDLE_MS")
	overrideInt(&cfg.Console.LoopPauseMS, "TONESHIFT_CONSOLE_LOOP_PAUSE_MS")
	overrideString(&cfg.Console.AgentText, "TONESHIFT_CONSOLE_AGENT_TEXT")
	overrideString(&cfg.Console.InitialText, "TONESHIFT_CONSOLE_INITIAL_TEXT")
	overrideString(&cfg.Console.AuditPrivacy, "TONESHIFT_CONSOLE_AUDIT_PRIVACY_SCOPE")
	overrideBool(&cfg.Console.PublishEvents, "TONESHIFT_CONSOLE_PUBLISH_EVENTS")
	overrideString(&cfg.Profile.Key, "TONESHIFT_PROFILE_KEY")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = strings.TrimSpace(value)
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
	if !strings.HasPrefix(cfg.Telemetry.MetricsPath, "/") {
		return errors.New("telemetry.metrics_path must start with /")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	switch cfg.Transform.Mode {
	case "mock":
	case "http":
		if cfg.Transform.Origin == "" {
			return errors.New("transform.origin must be set when mode=http")
		}
	default:
		return errors.New("transform.mode must be one of mock|http")
	}
	if cfg.Transform.TimeoutMS <= 0 {
		return errors.New("transform.timeout_ms must be positive")
	}
	if cfg.Eleven.TimeoutMS <= 0 {
		return errors.New("eleven.timeout_ms must be positive")
	}
	switch cfg.TTS.Mode {
	case "mock":
		if cfg.TTS.SampleRate <= 0 {
			return errors.New("tts.sample_rate must be positive")
		}
	case "eleven":
		if cfg.Eleven.APIKey == "" {
			return errors.New("eleven.api_key must be set when tts.mode=eleven")
		}
	case "exec":
		if cfg.TTS.Command == "" {
			return errors.New("tts.command must be set when mode=exec")
		}
	default:
		return errors.New("tts.mode must be one of mock|eleven|exec")
	}
	if cfg.STT.Enabled {
		if !cfg.Bus.Enabled {
			return errors.New("stt requires bus.enabled")
		}
		if cfg.STT.SampleRate <= 0 {
			return errors.New("stt.sample_rate must be positive")
		}
		if cfg.STT.Channels <= 0 {
			return errors.New("stt.channels must be positive")
		}
		if cfg.STT.Mode == "exec" && cfg.STT.Command == "" {
			return errors.New("stt.command must be set when mode=exec")
		}
	}
	switch cfg.Playback.Mode {
	case "clock":
		if cfg.Playback.TickMS <= 0 {
			return errors.New("playback.tick_ms must be positive")
		}
	case "exec":
		if cfg.Playback.Command == "" {
			return errors.New("playback.command must be set when mode=exec")
		}
	default:
		return errors.New("playback.mode must be one of clock|exec")
	}
	switch cfg.Source.Mode {
	case "mock", "http":
	case "bus":
		if !cfg.Bus.Enabled {
			return errors.New("source.mode=bus requires bus.enabled")
		}
		if cfg.Source.Subject == "" {
			return errors.New("source.subject must be set when mode=bus")
		}
	default:
		return errors.New("source.mode must be one of mock|bus|http")
	}
	if cfg.Console.DebounceMS <= 0 {
		return errors.New("console.debounce_ms must be positive")
	}
	if cfg.Console.MinChars < 0 {
		return errors.New("console.min_chars must be >= 0")
	}
	if cfg.Console.LoopIdleMS <= 0 {
		return errors.New("console.loop_idle_ms must be positive")
	}
	if cfg.Console.LoopPauseMS < 0 {
		return errors.New("console.loop_pause_ms must be >= 0")
	}
	if cfg.Console.AuditPrivacy == "" {
		return errors.New("console.audit_privacy_scope must not be empty")
	}
	if cfg.Profile.Key == "" {
		return errors.New("profile.key must not be empty")
	}
	return nil
}
