package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config captures model, editor, environment, generation, and logging
// settings for tokenforge.
type Config struct {
	Model       ModelConfig       `yaml:"model"`
	Editor      EditorDefaults    `yaml:"editor"`
	Environment EnvironmentConfig `yaml:"environment"`
	Generation  GenerationConfig  `yaml:"generation"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ModelConfig selects which Model Adapter backend to use and its settings.
type ModelConfig struct {
	Backend   string `yaml:"backend"` // "stub" or "native"
	Path      string `yaml:"path"`    // GGUF path, native backend only
	VocabSize int    `yaml:"vocab_size"`
}

// EditorDefaults configures a freshly constructed Token Editor.
type EditorDefaults struct {
	Readonly     bool `yaml:"readonly"`
	HistoryLimit int  `yaml:"history_limit"`
}

// EnvironmentConfig bounds a Recursive Context Environment's node pool.
type EnvironmentConfig struct {
	MaxDepth        int  `yaml:"max_depth"`
	MaxContexts     int  `yaml:"max_contexts"`
	DefaultNCtx     int  `yaml:"default_n_ctx"`
	DefaultNBatch   int  `yaml:"default_n_batch"`
	DefaultNThreads int  `yaml:"default_n_threads"`
	MailboxCapacity int  `yaml:"mailbox_capacity"`
	EnableMetrics   bool `yaml:"enable_metrics"`
}

// GenerationConfig allows overriding default completion parameters globally.
type GenerationConfig struct {
	NPredict      int      `yaml:"n_predict"`
	Temperature   float64  `yaml:"temperature"`
	TopP          float64  `yaml:"top_p"`
	TopK          int      `yaml:"top_k"`
	RepeatPenalty float64  `yaml:"repeat_penalty"`
	TimeoutMs     int      `yaml:"timeout_ms"`
	Stop          []string `yaml:"stop"`
}

// LoggingConfig governs where runtime log output goes.
type LoggingConfig struct {
	ToFile bool `yaml:"to_file"`
}

const defaultConfigFile = "tokenforge.yaml"

// Default returns a Config pre-populated with opinionated defaults matching
// the original recursive-LLM environment's own constants.
func Default() Config {
	return Config{
		Model: ModelConfig{
			Backend:   "stub",
			Path:      "",
			VocabSize: 32000,
		},
		Editor: EditorDefaults{
			Readonly:     false,
			HistoryLimit: 100,
		},
		Environment: EnvironmentConfig{
			MaxDepth:        32,
			MaxContexts:     64,
			DefaultNCtx:     2048,
			DefaultNBatch:   512,
			DefaultNThreads: 4,
			MailboxCapacity: 32,
			EnableMetrics:   true,
		},
		Generation: GenerationConfig{
			NPredict:      256,
			Temperature:   0.8,
			TopP:          0.95,
			TopK:          40,
			RepeatPenalty: 1.1,
			TimeoutMs:     0,
			Stop:          nil,
		},
		Logging: LoggingConfig{
			ToFile: false,
		},
	}
}

// Resolve loads configuration from file and environment variables.
func Resolve() (Config, error) {
	cfg := Default()

	path := strings.TrimSpace(os.Getenv("TOKENFORGE_CONFIG"))
	if path == "" {
		if _, err := os.Stat(defaultConfigFile); err == nil {
			path = defaultConfigFile
		}
	} else if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("provided TOKENFORGE_CONFIG file %q not found", path)
	}

	if path != "" {
		loaded, err := loadFile(path)
		if err != nil {
			return cfg, err
		}
		cfg = merge(cfg, loaded)
	}

	applyEnvOverrides(&cfg)

	return cfg, nil
}

func loadFile(path string) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config %q: %w", path, err)
	}

	return cfg, nil
}

func merge(base, override Config) Config {
	result := base

	if override.Model.Backend != "" {
		result.Model.Backend = override.Model.Backend
	}
	if override.Model.Path != "" {
		result.Model.Path = override.Model.Path
	}
	if override.Model.VocabSize != 0 {
		result.Model.VocabSize = override.Model.VocabSize
	}

	if override.Editor.Readonly {
		result.Editor.Readonly = true
	}
	if override.Editor.HistoryLimit != 0 {
		result.Editor.HistoryLimit = override.Editor.HistoryLimit
	}

	e := override.Environment
	if e.MaxDepth != 0 {
		result.Environment.MaxDepth = e.MaxDepth
	}
	if e.MaxContexts != 0 {
		result.Environment.MaxContexts = e.MaxContexts
	}
	if e.DefaultNCtx != 0 {
		result.Environment.DefaultNCtx = e.DefaultNCtx
	}
	if e.DefaultNBatch != 0 {
		result.Environment.DefaultNBatch = e.DefaultNBatch
	}
	if e.DefaultNThreads != 0 {
		result.Environment.DefaultNThreads = e.DefaultNThreads
	}
	if e.MailboxCapacity != 0 {
		result.Environment.MailboxCapacity = e.MailboxCapacity
	}
	if e.EnableMetrics {
		result.Environment.EnableMetrics = true
	}

	g := override.Generation
	if g.NPredict != 0 {
		result.Generation.NPredict = g.NPredict
	}
	if g.Temperature != 0 {
		result.Generation.Temperature = g.Temperature
	}
	if g.TopP != 0 {
		result.Generation.TopP = g.TopP
	}
	if g.TopK != 0 {
		result.Generation.TopK = g.TopK
	}
	if g.RepeatPenalty != 0 {
		result.Generation.RepeatPenalty = g.RepeatPenalty
	}
	if g.TimeoutMs != 0 {
		result.Generation.TimeoutMs = g.TimeoutMs
	}
	if len(g.Stop) != 0 {
		result.Generation.Stop = append([]string(nil), g.Stop...)
	}

	if override.Logging.ToFile {
		result.Logging.ToFile = true
	}

	return result
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("TOKENFORGE_MODEL_BACKEND")); v != "" {
		cfg.Model.Backend = v
	}
	if v := strings.TrimSpace(os.Getenv("TOKENFORGE_MODEL_PATH")); v != "" {
		cfg.Model.Path = v
	}
	if v := strings.TrimSpace(os.Getenv("TOKENFORGE_MODEL_VOCAB_SIZE")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Model.VocabSize = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("TOKENFORGE_EDITOR_READONLY")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Editor.Readonly = b
		}
	}
	if v := strings.TrimSpace(os.Getenv("TOKENFORGE_EDITOR_HISTORY_LIMIT")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Editor.HistoryLimit = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("TOKENFORGE_ENV_MAX_DEPTH")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Environment.MaxDepth = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("TOKENFORGE_ENV_MAX_CONTEXTS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Environment.MaxContexts = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("TOKENFORGE_ENV_N_CTX")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Environment.DefaultNCtx = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("TOKENFORGE_ENV_N_BATCH")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Environment.DefaultNBatch = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("TOKENFORGE_ENV_N_THREADS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Environment.DefaultNThreads = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("TOKENFORGE_ENV_MAILBOX_CAPACITY")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Environment.MailboxCapacity = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("TOKENFORGE_ENV_ENABLE_METRICS")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Environment.EnableMetrics = b
		}
	}
	if v := strings.TrimSpace(os.Getenv("TOKENFORGE_GEN_N_PREDICT")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Generation.NPredict = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("TOKENFORGE_GEN_TEMPERATURE")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			cfg.Generation.Temperature = f
		}
	}
	if v := strings.TrimSpace(os.Getenv("TOKENFORGE_GEN_TOP_P")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			cfg.Generation.TopP = f
		}
	}
	if v := strings.TrimSpace(os.Getenv("TOKENFORGE_GEN_TOP_K")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Generation.TopK = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("TOKENFORGE_GEN_REPEAT_PENALTY")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			cfg.Generation.RepeatPenalty = f
		}
	}
	if v := strings.TrimSpace(os.Getenv("TOKENFORGE_GEN_TIMEOUT_MS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Generation.TimeoutMs = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("TOKENFORGE_GEN_STOP")); v != "" {
		parts := strings.Split(v, ",")
		cfg.Generation.Stop = make([]string, 0, len(parts))
		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				cfg.Generation.Stop = append(cfg.Generation.Stop, trimmed)
			}
		}
	}
	if v := strings.TrimSpace(os.Getenv("TOKENFORGE_LOG_TO_FILE")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Logging.ToFile = b
		}
	}
}

// NativeBackend reports whether the configured model backend requires the
// native cgo adapter (and therefore a GGUF model file on disk).
func (c Config) NativeBackend() bool {
	return c.Model.Backend == "native"
}
