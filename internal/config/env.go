package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
	Level      string `validate:"oneof=trace debug info warn error fatal panic disabled"`
	Pretty     bool
	File       string
	MaxSizeMB  int `validate:"gte=0"`
	MaxBackups int `validate:"gte=0"`
	MaxAgeDays int `validate:"gte=0"`
	Compress   bool
}

// AxiomConfig holds Axiom logging configuration.
type AxiomConfig struct {
	Send          bool
	APIKey        string
	OrgID         string
	Dataset       string
	FlushInterval time.Duration
}

// ServerConfig describes the HTTP surface.
type ServerConfig struct {
	Port            string `validate:"required,numeric"`
	APIToken        string `validate:"required"`
	APIPrefix       string
	CORSOrigins     []string
	ShutdownTimeout time.Duration `validate:"gt=0"`
	ProjectName     string
}

// OpenAIConfig holds the environment-level model credential and call settings.
// A caller may override APIKey per extraction.
type OpenAIConfig struct {
	APIKey  string
	Model   string        `validate:"required"`
	BaseURL string        `validate:"required,url"`
	Timeout time.Duration `validate:"gt=0"`
}

// FilesConfig covers uploads and prompts.
type FilesConfig struct {
	UploadDir     string `validate:"required"`
	MaxUploadSize int64  `validate:"gt=0"`
	PromptsFile   string `validate:"required"`
	TaskType      string `validate:"required"`
	UploadMaxAge  time.Duration
}

// ResultsConfig selects where result artifacts live.
type ResultsConfig struct {
	Backend    string `validate:"oneof=local s3"`
	Dir        string `validate:"required_if=Backend local"`
	Bucket     string `validate:"required_if=Backend s3"`
	Prefix     string
	Region     string
	Endpoint   string
	AccessKey  string
	SecretKey  string
	Passphrase string
}

// RenderConfig controls page rasterization.
type RenderConfig struct {
	DPI       int    `validate:"gte=36,lte=600"`
	Quality   int    `validate:"gte=1,lte=100"`
	ColorMode string `validate:"oneof=rgb gray"`
}

// RedisConfig configures the optional status mirror. Empty URL disables it.
type RedisConfig struct {
	URL       string
	StatusTTL time.Duration
}

// RegistryConfig configures in-memory task retention. Zero retention keeps
// every task for the life of the process.
type RegistryConfig struct {
	Retention     time.Duration `validate:"gte=0"`
	SweepInterval time.Duration `validate:"gt=0"`
}

// Config is the top-level configuration.
type Config struct {
	Logging  LoggingConfig
	Axiom    AxiomConfig
	Server   ServerConfig
	OpenAI   OpenAIConfig
	Files    FilesConfig
	Results  ResultsConfig
	Render   RenderConfig
	Redis    RedisConfig
	Registry RegistryConfig
}

// FromEnv loads configuration from environment with sensible defaults.
func FromEnv() Config {
	cfg := Config{}

	cfg.Logging = LoggingConfig{
		Level:      strings.ToLower(getEnv("LOG_LEVEL", "info")),
		Pretty:     parseBool(getEnv("LOG_PRETTY", devDefaultPretty())),
		File:       getEnv("LOG_FILE", "logs/questionextractor.log"),
		MaxSizeMB:  parseInt(getEnv("LOG_MAX_SIZE_MB", "100"), 100),
		MaxBackups: parseInt(getEnv("LOG_MAX_BACKUPS", "10"), 10),
		MaxAgeDays: parseInt(getEnv("LOG_MAX_AGE_DAYS", "30"), 30),
		Compress:   parseBool(getEnv("LOG_COMPRESS", "true")),
	}

	baseDataset := getEnv("AXIOM_DATASET", "dev")
	cfg.Axiom = AxiomConfig{
		Send:          parseBool(getEnv("SEND_LOGS_TO_AXIOM", "0")),
		APIKey:        getEnv("AXIOM_API_KEY", ""),
		OrgID:         getEnv("AXIOM_ORG_ID", ""),
		Dataset:       baseDataset + "_questionextractor",
		FlushInterval: parseDuration(getEnv("AXIOM_FLUSH_INTERVAL", "10s"), 10*time.Second),
	}

	cfg.Server = ServerConfig{
		Port:            getEnv("PORT", "8000"),
		APIToken:        getEnv("API_TOKEN", "your-api-token"),
		APIPrefix:       strings.TrimRight(getEnv("API_PREFIX", ""), "/"),
		CORSOrigins:     parseList(getEnv("BACKEND_CORS_ORIGINS", "*")),
		ShutdownTimeout: parseDuration(getEnv("SHUTDOWN_TIMEOUT", "30s"), 30*time.Second),
		ProjectName:     getEnv("PROJECT_NAME", "Question Extractor API"),
	}

	cfg.OpenAI = OpenAIConfig{
		APIKey:  getEnv("OPENAI_API_KEY", ""),
		Model:   getEnv("OPENAI_MODEL", "gpt-4o-2024-08-06"),
		BaseURL: getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		Timeout: parseDuration(getEnv("OPENAI_TIMEOUT", "120s"), 120*time.Second),
	}

	cfg.Files = FilesConfig{
		UploadDir:     getEnv("UPLOAD_DIR", "uploads"),
		MaxUploadSize: parseInt64(getEnv("MAX_UPLOAD_SIZE", ""), 20*1024*1024),
		PromptsFile:   getEnv("PROMPTS_FILE", "prompts/prompts.json"),
		TaskType:      getEnv("PROMPT_TASK_TYPE", "cuet-ug"),
		UploadMaxAge:  parseDuration(getEnv("UPLOAD_MAX_AGE", "24h"), 24*time.Hour),
	}

	cfg.Results = ResultsConfig{
		Backend:    strings.ToLower(getEnv("RESULT_BACKEND", "local")),
		Dir:        getEnv("OUTPUT_DIR", "outputs"),
		Bucket:     getEnv("AWS_S3_BUCKET", ""),
		Prefix:     getEnv("RESULT_S3_PREFIX", "extractions/"),
		Region:     getEnv("AWS_REGION", ""),
		Endpoint:   getEnv("AWS_S3_ENDPOINT", ""),
		AccessKey:  getEnv("AWS_ACCESS_KEY_ID", ""),
		SecretKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		Passphrase: getEnv("RESULT_PASSPHRASE", ""),
	}

	cfg.Render = RenderConfig{
		DPI:       parseInt(getEnv("RENDER_DPI", "150"), 150),
		Quality:   parseInt(getEnv("RENDER_JPEG_QUALITY", "85"), 85),
		ColorMode: strings.ToLower(getEnv("RENDER_COLOR_MODE", "rgb")),
	}

	cfg.Redis = RedisConfig{
		URL:       getEnv("REDIS_URL", ""),
		StatusTTL: parseDuration(getEnv("REDIS_STATUS_TTL", "24h"), 24*time.Hour),
	}

	cfg.Registry = RegistryConfig{
		Retention:     parseDuration(getEnv("REGISTRY_RETENTION", "0"), 0),
		SweepInterval: parseDuration(getEnv("REGISTRY_SWEEP_INTERVAL", "5m"), 5*time.Minute),
	}

	return cfg
}

// Validate checks the loaded configuration for values the service cannot start with.
func (c Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Helpers
func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

func parseInt64(s string, def int64) int64 {
	if s == "" {
		return def
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	return def
}

func parseBool(s string) bool {
	v := strings.ToLower(strings.TrimSpace(s))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	if s == "0" {
		return 0
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return def
}

func parseList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func devDefaultPretty() string {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))
	if env == "dev" || env == "development" || env == "local" {
		return "true"
	}
	return "false"
}
