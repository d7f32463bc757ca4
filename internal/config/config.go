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
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	TraceStdout    bool   `yaml:"trace_stdout"`
	PrometheusBind string `yaml:"prometheus_bind"`
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
	EventStore  EventStoreConfig `yaml:"event_store"`
	Inference   InferenceConfig  `yaml:"inference"`
	Encoder     EncoderConfig    `yaml:"encoder"`
	Synthesis   SynthesisConfig  `yaml:"synthesis"`
	Chat        ChatConfig       `yaml:"chat"`
	Speech      SpeechConfig     `yaml:"speech"`
	Playback    PlaybackConfig   `yaml:"playback"`
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
	MaxEvents     int    `yaml:"max_events"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

// InferenceConfig selects the speech model backend. Device is passed through
// to exec backends untouched.
type InferenceConfig struct {
	Mode       string `yaml:"mode"` // mock, exec
	Command    string `yaml:"command"`
	Device     string `yaml:"device"`
	SampleRate int    `yaml:"sample_rate"`
	Warmup     bool   `yaml:"warmup"`
}

type EncoderConfig struct {
	Command string `yaml:"command"`
}

type SynthesisConfig struct {
	MaxInputChars int     `yaml:"max_input_chars"`
	MaxSeconds    float64 `yaml:"max_seconds"`
	Temperature   float64 `yaml:"temperature"`
	TopK          int     `yaml:"top_k"`
	ChunkSize     int     `yaml:"chunk_size"`
	TimeoutMS     int     `yaml:"timeout_ms"`
}

type ChatConfig struct {
	Mode         string  `yaml:"mode"` // mock, ollama, openai
	Endpoint     string  `yaml:"endpoint"`
	APIKey       string  `yaml:"api_key"`
	Model        string  `yaml:"model"`
	SystemPrompt string  `yaml:"system_prompt"`
	HistoryTurns int     `yaml:"history_turns"`
	Temperature  float64 `yaml:"temperature"`
	TopP         float64 `yaml:"top_p"`
}

type SpeechConfig struct {
	BaseURL         string `yaml:"base_url"`
	Model           string `yaml:"model"`
	TimeoutMS       int    `yaml:"timeout_ms"`
	MinSentenceLen  int    `yaml:"min_sentence_chars"`
	CleanupDelayMS  int    `yaml:"cleanup_delay_ms"`
	TempDir         string `yaml:"temp_dir"`
	NormalizeMarkup bool   `yaml:"normalize_markup"`
}

type PlaybackConfig struct {
	Mode    string `yaml:"mode"` // exec, discard
	Command string `yaml:"command"`
}

const DefaultSystemPrompt = "You are having a natural conversation. Respond naturally and completely to questions. Use your full knowledge and provide detailed answers when appropriate."

func Default() Config {
	return Config{
		RuntimeName: "loqa-tts",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8000,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			TraceStdout:    true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/loqa-synthesis.db",
			RetentionMode: "ephemeral",
			RetentionDays: 30,
			MaxEvents:     100000,
		},
		Inference: InferenceConfig{
			Mode:       "mock",
			Device:     "cpu",
			SampleRate: 22050,
			Warmup:     true,
		},
		Encoder: EncoderConfig{
			Command: "ffmpeg -hide_banner -loglevel error -f wav -i pipe:0",
		},
		Synthesis: SynthesisConfig{
			MaxInputChars: 4096,
			MaxSeconds:    30,
			Temperature:   0.7,
			TopK:          100,
			ChunkSize:     16384,
			TimeoutMS:     120000,
		},
		Chat: ChatConfig{
			Mode:         "ollama",
			Endpoint:     "http://localhost:11434",
			Model:        "llama3.2:latest",
			SystemPrompt: DefaultSystemPrompt,
			HistoryTurns: 10,
			Temperature:  0.7,
			TopP:         0.9,
		},
		Speech: SpeechConfig{
			BaseURL:         "http://localhost:8000",
			Model:           "vui",
			TimeoutMS:       60000,
			MinSentenceLen:  10,
			CleanupDelayMS:  10000,
			NormalizeMarkup: true,
		},
		Playback: PlaybackConfig{
			Mode:    "exec",
			Command: "aplay -q {file}",
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
	overrideString(&cfg.RuntimeName, "LOQA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "LOQA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LOQA_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Telemetry.TraceStdout, "LOQA_TELEMETRY_TRACE_STDOUT")
	overrideString(&cfg.Telemetry.PrometheusBind, "LOQA_TELEMETRY_PROMETHEUS_BIND")
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
	overrideString(&cfg.EventStore.Path, "LOQA_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "LOQA_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "LOQA_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxEvents, "LOQA_EVENT_STORE_MAX_EVENTS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "LOQA_EVENT_STORE_VACUUM_ON_START")
	overrideString(&cfg.Inference.Mode, "LOQA_INFERENCE_MODE")
	overrideString(&cfg.Inference.Command, "LOQA_INFERENCE_COMMAND")
	overrideString(&cfg.Inference.Device, "LOQA_INFERENCE_DEVICE")
	overrideInt(&cfg.Inference.SampleRate, "LOQA_INFERENCE_SAMPLE_RATE")
	overrideBool(&cfg.Inference.Warmup, "LOQA_INFERENCE_WARMUP")
	overrideString(&cfg.Encoder.Command, "LOQA_ENCODER_COMMAND")
	overrideInt(&cfg.Synthesis.MaxInputChars, "LOQA_SYNTHESIS_MAX_INPUT_CHARS")
	overrideFloat(&cfg.Synthesis.MaxSeconds, "LOQA_SYNTHESIS_MAX_SECONDS")
	overrideFloat(&cfg.Synthesis.Temperature, "LOQA_SYNTHESIS_TEMPERATURE")
	overrideInt(&cfg.Synthesis.TopK, "LOQA_SYNTHESIS_TOP_K")
	overrideInt(&cfg.Synthesis.ChunkSize, "LOQA_SYNTHESIS_CHUNK_SIZE")
	overrideInt(&cfg.Synthesis.TimeoutMS, "LOQA_SYNTHESIS_TIMEOUT_MS")
	overrideString(&cfg.Chat.Mode, "LOQA_CHAT_MODE")
	overrideString(&cfg.Chat.Endpoint, "LOQA_CHAT_ENDPOINT")
	overrideString(&cfg.Chat.APIKey, "LOQA_CHAT_API_KEY")
	overrideString(&cfg.Chat.Model, "LOQA_CHAT_MODEL")
	overrideString(&cfg.Chat.SystemPrompt, "LOQA_CHAT_SYSTEM_PROMPT")
	overrideInt(&cfg.Chat.HistoryTurns, "LOQA_CHAT_HISTORY_TURNS")
	overrideFloat(&cfg.Chat.Temperature, "LOQA_CHAT_TEMPERATURE")
	overrideFloat(&cfg.Chat.TopP, "LOQA_CHAT_TOP_P")
	overrideString(&cfg.Speech.BaseURL, "LOQA_SPEECH_BASE_URL")
	overrideString(&cfg.Speech.Model, "LOQA_SPEECH_MODEL")
	overrideInt(&cfg.Speech.TimeoutMS, "LOQA_SPEECH_TIMEOUT_MS")
	overrideInt(&cfg.Speech.MinSentenceLen, "LOQA_SPEECH_MIN_SENTENCE_CHARS")
	overrideInt(&cfg.Speech.CleanupDelayMS, "LOQA_SPEECH_CLEANUP_DELAY_MS")
	overrideString(&cfg.Speech.TempDir, "LOQA_SPEECH_TEMP_DIR")
	overrideBool(&cfg.Speech.NormalizeMarkup, "LOQA_SPEECH_NORMALIZE_MARKUP")
	overrideString(&cfg.Playback.Mode, "LOQA_PLAYBACK_MODE")
	overrideString(&cfg.Playback.Command, "LOQA_PLAYBACK_COMMAND")
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

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
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
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "persistent":
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|persistent")
	}
	if cfg.EventStore.RetentionMode == "persistent" && cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty when retention_mode=persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	switch cfg.Inference.Mode {
	case "mock", "exec":
	default:
		return errors.New("inference.mode must be one of mock|exec")
	}
	if cfg.Inference.Mode == "exec" && cfg.Inference.Command == "" {
		return errors.New("inference.command must be set when mode=exec")
	}
	if cfg.Inference.SampleRate <= 0 {
		return errors.New("inference.sample_rate must be positive")
	}
	if cfg.Synthesis.MaxInputChars <= 0 {
		return errors.New("synthesis.max_input_chars must be positive")
	}
	if cfg.Synthesis.ChunkSize <= 0 {
		return errors.New("synthesis.chunk_size must be positive")
	}
	if cfg.Synthesis.MaxSeconds < 0 {
		return errors.New("synthesis.max_seconds must be >= 0")
	}
	switch cfg.Chat.Mode {
	case "mock", "ollama", "openai":
	default:
		return errors.New("chat.mode must be one of mock|ollama|openai")
	}
	if cfg.Chat.Mode != "mock" && cfg.Chat.Endpoint == "" {
		return errors.New("chat.endpoint must be set unless mode=mock")
	}
	if cfg.Chat.HistoryTurns < 0 {
		return errors.New("chat.history_turns must be >= 0")
	}
	if cfg.Speech.BaseURL == "" {
		return errors.New("speech.base_url must not be empty")
	}
	if cfg.Speech.TimeoutMS <= 0 {
		return errors.New("speech.timeout_ms must be positive")
	}
	if cfg.Speech.MinSentenceLen < 0 {
		return errors.New("speech.min_sentence_chars must be >= 0")
	}
	switch cfg.Playback.Mode {
	case "exec", "discard":
	default:
		return errors.New("playback.mode must be one of exec|discard")
	}
	if cfg.Playback.Mode == "exec" && cfg.Playback.Command == "" {
		return errors.New("playback.command must be set when mode=exec")
	}
	return nil
}
