package spanz

import (
	"os"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Sampler and writer type names accepted in Config.
const (
	SamplerAll     = "all"
	SamplerRate    = "rate"
	SamplerService = "service"

	WriterLogging   = "logging"
	WriterCollector = "collector"
	WriterNoop      = "noop"
)

// Configuration errors.
var (
	ErrUnknownSampler = errors.New("unknown sampler type")
	ErrUnknownWriter  = errors.New("unknown writer type")
)

// SkipTagConfig drops traces whose root tag fully matches Pattern.
type SkipTagConfig struct {
	Tag     string `yaml:"tag"`
	Pattern string `yaml:"pattern"`
}

// SamplerConfig selects and parameterizes the sampler.
type SamplerConfig struct {
	ServiceRates map[string]float64 `yaml:"service_rates,omitempty"`
	Type         string             `yaml:"type"`
	Env          string             `yaml:"env,omitempty"`
	SkipTags     []SkipTagConfig    `yaml:"skip_tags,omitempty"`
	Rate         float64            `yaml:"rate,omitempty"`
	CacheSize    int                `yaml:"cache_size,omitempty"`
}

// WriterConfig selects the writer and its buffering.
type WriterConfig struct {
	Type         string `yaml:"type"`
	BufferSize   int    `yaml:"buffer_size,omitempty"`
	AsyncWorkers int    `yaml:"async_workers,omitempty"`
	QueueSize    int    `yaml:"queue_size,omitempty"`
}

// Config is the tracer configuration, usually loaded from YAML.
type Config struct {
	SpanTags    map[string]string `yaml:"span_tags,omitempty"`
	ServiceName string            `yaml:"service_name"`
	LogLevel    string            `yaml:"log_level"`
	Sampler     SamplerConfig     `yaml:"sampler"`
	Writer      WriterConfig      `yaml:"writer"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		ServiceName: DefaultServiceName,
		LogLevel:    "info",
		Sampler: SamplerConfig{
			Type:      SamplerAll,
			Rate:      1,
			CacheSize: 256,
		},
		Writer: WriterConfig{
			Type:       WriterLogging,
			BufferSize: 1000,
		},
	}
}

// ParseConfig decodes YAML on top of DefaultConfig.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrap(err, "parse tracer config")
	}
	return cfg, nil
}

// LoadConfig reads a YAML configuration file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "read tracer config %s", path)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return Config{}, errors.Wrapf(err, "load %s", path)
	}
	return cfg, nil
}

// Environment variables read by ApplyEnv.
const (
	EnvServiceName = "SPANZ_SERVICE_NAME"
	EnvSampleRate  = "SPANZ_SAMPLE_RATE"
	EnvWriter      = "SPANZ_WRITER"
	EnvLogLevel    = "SPANZ_LOG_LEVEL"
	EnvSpanTags    = "SPANZ_SPAN_TAGS"
)

// ApplyEnv overlays environment variables on cfg. A sample rate switches the
// sampler to the rate sampler.
func (cfg *Config) ApplyEnv() error {
	if v := os.Getenv(EnvServiceName); v != "" {
		cfg.ServiceName = v
	}
	if v := os.Getenv(EnvSampleRate); v != "" {
		rate, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return errors.Wrapf(err, "%s=%q", EnvSampleRate, v)
		}
		cfg.Sampler.Type = SamplerRate
		cfg.Sampler.Rate = rate
	}
	if v := os.Getenv(EnvWriter); v != "" {
		cfg.Writer.Type = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv(EnvSpanTags); v != "" {
		if cfg.SpanTags == nil {
			cfg.SpanTags = make(map[string]string)
		}
		for k, val := range parseTagList(v) {
			cfg.SpanTags[k] = val
		}
	}
	return nil
}

// ConfigFromEnv returns DefaultConfig with the environment applied.
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := cfg.ApplyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// parseTagList parses "k1:v1,k2:v2". Entries without a colon are ignored.
func parseTagList(s string) map[string]string {
	out := make(map[string]string)
	for _, part := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), ":")
		if !ok || k == "" {
			continue
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out
}

// Logger builds a production zap logger at the configured level.
func (cfg Config) Logger() (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return nil, errors.Wrapf(err, "log level %q", cfg.LogLevel)
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	logger, err := zc.Build()
	if err != nil {
		return nil, errors.Wrap(err, "build logger")
	}
	return logger, nil
}

// BuildSampler creates the configured sampler.
func (cfg Config) BuildSampler(logger *zap.Logger) (Sampler, error) {
	type skipper interface {
		Sampler
		AddSkipTagPattern(tag, pattern string) error
	}

	var s skipper
	switch cfg.Sampler.Type {
	case "", SamplerAll:
		s = NewAllSampler()
	case SamplerRate:
		s = NewRateSampler(cfg.Sampler.Rate, logger)
	case SamplerService:
		size := cfg.Sampler.CacheSize
		if size <= 0 {
			size = 256
		}
		srs, err := NewServiceRateSampler(cfg.Sampler.Env, cfg.Sampler.Rate, size, logger)
		if err != nil {
			return nil, err
		}
		if len(cfg.Sampler.ServiceRates) > 0 {
			srs.SetRates(cfg.Sampler.ServiceRates)
		}
		s = srs
	default:
		return nil, errors.Wrapf(ErrUnknownSampler, "%q", cfg.Sampler.Type)
	}

	for _, skip := range cfg.Sampler.SkipTags {
		if err := s.AddSkipTagPattern(skip.Tag, skip.Pattern); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// BuildWriter creates the configured writer, wrapped in an AsyncWriter when
// async workers are configured.
func (cfg Config) BuildWriter(logger *zap.Logger) (Writer, error) {
	var w Writer
	switch cfg.Writer.Type {
	case "", WriterLogging:
		w = NewLoggingWriter(logger)
	case WriterCollector:
		size := cfg.Writer.BufferSize
		if size <= 0 {
			size = 1000
		}
		w = NewCollector(cfg.ServiceName, size)
	case WriterNoop:
		w = NoopWriter{}
	default:
		return nil, errors.Wrapf(ErrUnknownWriter, "%q", cfg.Writer.Type)
	}

	if cfg.Writer.AsyncWorkers > 0 {
		queue := cfg.Writer.QueueSize
		if queue <= 0 {
			queue = 1000
		}
		aw, err := NewAsyncWriter(w, cfg.Writer.AsyncWorkers, queue, logger)
		if err != nil {
			return nil, err
		}
		w = aw
	}
	return w, nil
}

// SpanTagValues converts the configured span tags to string tag values.
func (cfg Config) SpanTagValues() map[string]Value {
	out := make(map[string]Value, len(cfg.SpanTags))
	for k, v := range cfg.SpanTags {
		out[k] = String(v)
	}
	return out
}

// NewFromConfig builds a tracer from cfg. Options are applied after the
// configured ones, so they win.
func NewFromConfig(cfg Config, opts ...Option) (*Tracer, error) {
	logger, err := cfg.Logger()
	if err != nil {
		return nil, err
	}
	sampler, err := cfg.BuildSampler(logger)
	if err != nil {
		return nil, errors.Wrap(err, "build sampler")
	}
	writer, err := cfg.BuildWriter(logger)
	if err != nil {
		return nil, errors.Wrap(err, "build writer")
	}

	base := []Option{
		WithServiceName(cfg.ServiceName),
		WithLogger(logger),
		WithSampler(sampler),
		WithWriter(writer),
		WithSpanTags(cfg.SpanTagValues()),
	}
	return New(append(base, opts...)...), nil
}

// String renders the configuration as YAML.
func (cfg Config) String() string {
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return "<invalid config: " + err.Error() + ">"
	}
	return string(out)
}
