package app

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/yungbote/bookgen-worker/internal/jobs/worker"
	"github.com/yungbote/bookgen-worker/internal/modules/bookgen/pipeline"
	"github.com/yungbote/bookgen-worker/internal/modules/bookgen/plan"
)

const EnvPrefix = "BOOKGEN"

type Config struct {
	Env     string        `mapstructure:"env"`
	Log     LogConfig     `mapstructure:"log"`
	Worker  WorkerConfig  `mapstructure:"worker"`
	DB      DBConfig      `mapstructure:"db"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Storage StorageConfig `mapstructure:"storage"`
	LLM     LLMConfig     `mapstructure:"llm"`
	Render  RenderConfig  `mapstructure:"render"`
	Plan    PlanConfig    `mapstructure:"plan"`
	Figures FiguresConfig `mapstructure:"figures"`
	Rewrite RewriteConfig `mapstructure:"rewrite"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Otel    OtelConfig    `mapstructure:"otel"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type LogConfig struct {
	Mode  string `mapstructure:"mode"`
	Level string `mapstructure:"level"`
}

type WorkerConfig struct {
	ID                string        `mapstructure:"id"`
	Concurrency       int           `mapstructure:"concurrency"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	LeaseTTL          time.Duration `mapstructure:"lease_ttl"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
	WorkRoot          string        `mapstructure:"work_root"`
	KeepWorkDir       bool          `mapstructure:"keep_work_dir"`
}

type DBConfig struct {
	Driver       string `mapstructure:"driver"`
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	AutoMigrate  bool   `mapstructure:"auto_migrate"`
}

// RedisConfig is optional. An empty Addr disables the event bus and the
// placement lock.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	Channel   string `mapstructure:"channel"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type StorageConfig struct {
	Mode         string `mapstructure:"mode"`
	EmulatorHost string `mapstructure:"emulator_host"`
	LocalDir     string `mapstructure:"local_dir"`
	Bucket       string `mapstructure:"bucket"`
	Credentials  string `mapstructure:"credentials"`
	SignerEmail  string `mapstructure:"signer_email"`
	SignerKey    string `mapstructure:"signer_key"`

	ArtifactPrefix string        `mapstructure:"artifact_prefix"`
	MaxDup         int           `mapstructure:"max_dup"`
	UploadAttempts int           `mapstructure:"upload_attempts"`
	BackoffBase    time.Duration `mapstructure:"backoff_base"`
	BackoffMax     time.Duration `mapstructure:"backoff_max"`
}

type LLMConfig struct {
	DefaultProvider string       `mapstructure:"default_provider"`
	OpenAI          OpenAIConfig `mapstructure:"openai"`
	Gemini          GeminiConfig `mapstructure:"gemini"`
}

type OpenAIConfig struct {
	APIKey              string        `mapstructure:"api_key"`
	BaseURL             string        `mapstructure:"base_url"`
	Model               string        `mapstructure:"model"`
	Timeout             time.Duration `mapstructure:"timeout"`
	MaxRetries          int           `mapstructure:"max_retries"`
	Temperature         *float64      `mapstructure:"temperature"`
	NoTemperatureModels string        `mapstructure:"no_temperature_models"`
	NoTemperatureTTL    time.Duration `mapstructure:"no_temperature_ttl"`
}

type GeminiConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxRetries  int           `mapstructure:"max_retries"`
	Temperature *float64      `mapstructure:"temperature"`
}

type RenderConfig struct {
	// Backend is "local" or "hosted".
	Backend         string        `mapstructure:"backend"`
	Binary          string        `mapstructure:"binary"`
	ExtraArgs       []string      `mapstructure:"extra_args"`
	Timeout         time.Duration `mapstructure:"timeout"`
	HostedEndpoint  string        `mapstructure:"hosted_endpoint"`
	HostedAPIKey    string        `mapstructure:"hosted_api_key"`
	HostedRetries   int           `mapstructure:"hosted_retries"`
	HostedRetryBase time.Duration `mapstructure:"hosted_retry_base"`

	PlaceholderWidth    int     `mapstructure:"placeholder_width"`
	PlaceholderHeight   int     `mapstructure:"placeholder_height"`
	PlaceholderFont     string  `mapstructure:"placeholder_font"`
	PlaceholderFontSize float64 `mapstructure:"placeholder_font_size"`
	MaxImagePx          int     `mapstructure:"max_image_px"`

	LeadInColon    bool `mapstructure:"lead_in_colon"`
	LeadInMaxWords int  `mapstructure:"lead_in_max_words"`
}

type PlanConfig struct {
	DeepeningMin      int        `mapstructure:"deepening_min"`
	DeepeningMax      int        `mapstructure:"deepening_max"`
	PraktijkMin       int        `mapstructure:"praktijk_min"`
	PraktijkMax       int        `mapstructure:"praktijk_max"`
	DeepeningRatio    [2]float64 `mapstructure:"deepening_ratio"`
	PraktijkRatio     [2]float64 `mapstructure:"praktijk_ratio"`
	HeadingRatio      float64    `mapstructure:"heading_ratio"`
	MinDeepeningWords int        `mapstructure:"min_deepening_words"`
	MinHeadingWords   int        `mapstructure:"min_heading_words"`
	PreviewRunes      int        `mapstructure:"preview_runes"`
}

type FiguresConfig struct {
	SparseThreshold int           `mapstructure:"sparse_threshold"`
	TopK            int           `mapstructure:"top_k"`
	BatchSize       int           `mapstructure:"batch_size"`
	PreviewRunes    int           `mapstructure:"preview_runes"`
	LockTTL         time.Duration `mapstructure:"lock_ttl"`
	LockWait        time.Duration `mapstructure:"lock_wait"`
}

type RewriteConfig struct {
	LongTokenRunes int     `mapstructure:"long_token_runes"`
	BatchSize      int     `mapstructure:"batch_size"`
	MaxEditRatio   float64 `mapstructure:"max_edit_ratio"`
}

type HTTPConfig struct {
	// Addr serves health, status and metrics. Empty disables the server.
	Addr        string   `mapstructure:"addr"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

type OtelConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	Endpoint    string  `mapstructure:"endpoint"`
	Protocol    string  `mapstructure:"protocol"`
	Headers     string  `mapstructure:"headers"`
	Insecure    bool    `mapstructure:"insecure"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

type MetricsConfig struct {
	CollectInterval time.Duration `mapstructure:"collect_interval"`
}

// LoadDotEnv reads .env files into the process environment. Variables that
// are already set win. A missing file is not an error.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// NewViper returns a viper instance bound to BOOKGEN_* variables with every
// default registered.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// LoadConfig merges the optional config file into v and decodes the result.
func LoadConfig(v *viper.Viper, configFile string) (Config, error) {
	if v == nil {
		v = NewViper()
	}
	if strings.TrimSpace(configFile) != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.Worker.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("worker.concurrency must be >= 1"))
	}
	switch strings.ToLower(c.Render.Backend) {
	case "local", "hosted":
	default:
		errs = append(errs, fmt.Errorf("render.backend %q must be local or hosted", c.Render.Backend))
	}
	if c.Plan.DeepeningRatio[0] > c.Plan.DeepeningRatio[1] {
		errs = append(errs, fmt.Errorf("plan.deepening_ratio lower bound exceeds upper"))
	}
	if c.Plan.PraktijkRatio[0] > c.Plan.PraktijkRatio[1] {
		errs = append(errs, fmt.Errorf("plan.praktijk_ratio lower bound exceeds upper"))
	}
	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "development")
	v.SetDefault("log.mode", "development")
	v.SetDefault("log.level", "info")

	v.SetDefault("worker.id", "")
	v.SetDefault("worker.concurrency", 1)
	v.SetDefault("worker.poll_interval", 2*time.Second)
	v.SetDefault("worker.heartbeat_interval", 15*time.Second)
	v.SetDefault("worker.lease_ttl", 5*time.Minute)
	v.SetDefault("worker.max_attempts", 3)
	v.SetDefault("worker.sweep_interval", time.Minute)
	v.SetDefault("worker.work_root", "")
	v.SetDefault("worker.keep_work_dir", false)

	v.SetDefault("db.driver", "postgres")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_open_conns", 10)
	v.SetDefault("db.auto_migrate", true)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel", "bookgen:jobs")
	v.SetDefault("redis.key_prefix", "bookgen")

	v.SetDefault("storage.mode", "")
	v.SetDefault("storage.emulator_host", "")
	v.SetDefault("storage.local_dir", "")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.credentials", "")
	v.SetDefault("storage.signer_email", "")
	v.SetDefault("storage.signer_key", "")
	v.SetDefault("storage.artifact_prefix", "artifacts")
	v.SetDefault("storage.max_dup", 50)
	v.SetDefault("storage.upload_attempts", 4)
	v.SetDefault("storage.backoff_base", 500*time.Millisecond)
	v.SetDefault("storage.backoff_max", 10*time.Second)

	v.SetDefault("llm.default_provider", "openai")
	v.SetDefault("llm.openai.api_key", "")
	v.SetDefault("llm.openai.base_url", "")
	v.SetDefault("llm.openai.model", "gpt-4o-mini")
	v.SetDefault("llm.openai.timeout", 2*time.Minute)
	v.SetDefault("llm.openai.max_retries", 3)
	v.SetDefault("llm.openai.no_temperature_models", "o1-*, o3-*, o4-*, gpt-5*")
	v.SetDefault("llm.openai.no_temperature_ttl", time.Hour)
	v.SetDefault("llm.gemini.api_key", "")
	v.SetDefault("llm.gemini.model", "gemini-1.5-pro")
	v.SetDefault("llm.gemini.timeout", 2*time.Minute)
	v.SetDefault("llm.gemini.max_retries", 3)
	// Temperatures stay nil unless set.
	_ = v.BindEnv("llm.openai.temperature")
	_ = v.BindEnv("llm.gemini.temperature")

	v.SetDefault("render.backend", "local")
	v.SetDefault("render.binary", "prince")
	v.SetDefault("render.extra_args", []string{})
	v.SetDefault("render.timeout", 10*time.Minute)
	v.SetDefault("render.hosted_endpoint", "")
	v.SetDefault("render.hosted_api_key", "")
	v.SetDefault("render.hosted_retries", 3)
	v.SetDefault("render.hosted_retry_base", time.Second)
	v.SetDefault("render.placeholder_width", 1200)
	v.SetDefault("render.placeholder_height", 800)
	v.SetDefault("render.placeholder_font", "")
	v.SetDefault("render.placeholder_font_size", 36.0)
	v.SetDefault("render.max_image_px", 0)

	lead := pipeline.DefaultConfig().LeadIn
	v.SetDefault("render.lead_in_colon", lead.ColonEnding)
	v.SetDefault("render.lead_in_max_words", lead.MaxWords)

	pc := plan.DefaultConfig()
	v.SetDefault("plan.deepening_min", 0)
	v.SetDefault("plan.deepening_max", 0)
	v.SetDefault("plan.praktijk_min", 0)
	v.SetDefault("plan.praktijk_max", 0)
	v.SetDefault("plan.deepening_ratio", pc.DeepeningRatio)
	v.SetDefault("plan.praktijk_ratio", pc.PraktijkRatio)
	v.SetDefault("plan.heading_ratio", pc.HeadingRatio)
	v.SetDefault("plan.min_deepening_words", pc.MinDeepeningWords)
	v.SetDefault("plan.min_heading_words", pc.MinHeadingWords)
	v.SetDefault("plan.preview_runes", pc.PreviewRunes)

	fc := pipeline.DefaultConfig().Figures
	v.SetDefault("figures.sparse_threshold", fc.SparseThreshold)
	v.SetDefault("figures.top_k", fc.TopK)
	v.SetDefault("figures.batch_size", fc.BatchSize)
	v.SetDefault("figures.preview_runes", fc.PreviewRunes)
	v.SetDefault("figures.lock_ttl", fc.LockTTL)
	v.SetDefault("figures.lock_wait", fc.LockWait)

	hc := pipeline.DefaultConfig().Hyphenation
	v.SetDefault("rewrite.long_token_runes", hc.LongTokenRunes)
	v.SetDefault("rewrite.batch_size", hc.BatchSize)
	v.SetDefault("rewrite.max_edit_ratio", hc.MaxEditRatio)

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.cors_origins", []string{})

	v.SetDefault("otel.enabled", false)
	v.SetDefault("otel.service_name", "bookgen-worker")
	v.SetDefault("otel.endpoint", "")
	v.SetDefault("otel.protocol", "http")
	v.SetDefault("otel.headers", "")
	v.SetDefault("otel.insecure", false)
	v.SetDefault("otel.sample_ratio", 1.0)

	v.SetDefault("metrics.collect_interval", 30*time.Second)
}

// PipelineConfig maps the flat settings onto the engine's knobs.
func (c Config) PipelineConfig() pipeline.Config {
	out := pipeline.DefaultConfig()
	out.LeadIn.ColonEnding = c.Render.LeadInColon
	if c.Render.LeadInMaxWords > 0 {
		out.LeadIn.MaxWords = c.Render.LeadInMaxWords
	}
	out.MaxImagePx = c.Render.MaxImagePx

	p := c.Plan
	if p.DeepeningMax > 0 {
		out.Plan.Deepening = &plan.Range{Min: p.DeepeningMin, Max: p.DeepeningMax}
	}
	if p.PraktijkMax > 0 {
		out.Plan.Praktijk = &plan.Range{Min: p.PraktijkMin, Max: p.PraktijkMax}
	}
	if p.DeepeningRatio[1] > 0 {
		out.Plan.DeepeningRatio = p.DeepeningRatio
	}
	if p.PraktijkRatio[1] > 0 {
		out.Plan.PraktijkRatio = p.PraktijkRatio
	}
	if p.HeadingRatio > 0 {
		out.Plan.HeadingRatio = p.HeadingRatio
	}
	if p.MinDeepeningWords > 0 {
		out.Plan.MinDeepeningWords = p.MinDeepeningWords
	}
	if p.MinHeadingWords > 0 {
		out.Plan.MinHeadingWords = p.MinHeadingWords
	}
	if p.PreviewRunes > 0 {
		out.Plan.PreviewRunes = p.PreviewRunes
	}

	f := c.Figures
	if f.SparseThreshold > 0 {
		out.Figures.SparseThreshold = f.SparseThreshold
	}
	if f.TopK > 0 {
		out.Figures.TopK = f.TopK
	}
	if f.BatchSize > 0 {
		out.Figures.BatchSize = f.BatchSize
	}
	if f.PreviewRunes > 0 {
		out.Figures.PreviewRunes = f.PreviewRunes
	}
	if f.LockTTL > 0 {
		out.Figures.LockTTL = f.LockTTL
	}
	if f.LockWait > 0 {
		out.Figures.LockWait = f.LockWait
	}

	r := c.Rewrite
	if r.LongTokenRunes > 0 {
		out.Hyphenation.LongTokenRunes = r.LongTokenRunes
	}
	if r.BatchSize > 0 {
		out.Hyphenation.BatchSize = r.BatchSize
	}
	if r.MaxEditRatio > 0 {
		out.Hyphenation.MaxEditRatio = r.MaxEditRatio
	}
	return out
}

func (c Config) WorkerConfig() worker.Config {
	w := c.Worker
	return worker.Config{
		WorkerID:          w.ID,
		Concurrency:       w.Concurrency,
		PollInterval:      w.PollInterval,
		HeartbeatInterval: w.HeartbeatInterval,
		LeaseTTL:          w.LeaseTTL,
		MaxAttempts:       w.MaxAttempts,
		SweepInterval:     w.SweepInterval,
	}
}
