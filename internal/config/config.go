// Package config reads the service settings from flags, FINANCE_TRACKER_*
// environment variables and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
)

// EnvPrefix is prepended to every flag name to form its environment variable
const EnvPrefix = "FINANCE_TRACKER"

var (
	DataBackends  = []string{"bolt", "sqlite", "postgres"}
	ImageBackends = []string{"local", "s3"}
	Recognizers   = []string{"gemini", "ollama"}
	Translators   = []string{"libre", "gemini", "none"}
	LogFormats    = []string{"text", "json"}
	LogLevels     = []string{"debug", "info", "warn", "error"}
)

// ErrHelp is returned by Load when usage was requested
var ErrHelp = ff.ErrHelp

type Config struct {
	// HTTP Server
	Port int

	// Logging
	LogLevel  string
	LogFormat string

	// Persistence
	DataBackend string
	BoltPath    string
	SQLitePath  string
	PostgresDSN string

	// Receipt images
	ImageBackend      string
	StoragePath       string
	S3Bucket          string
	S3Region          string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3UsePathStyle    bool
	S3PublicURL       string

	// Text recognition
	Recognizer  string
	GeminiKey   string
	GeminiModel string
	OllamaURL   string
	OllamaModel string
	Languages   []string

	// Language detection and translation
	TargetLanguage string
	DetectURL      string
	DetectKey      string
	Translator     string
	TranslateURL   string
	TranslateKey   string

	// Notifications
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Authentication
	JWTSecret string
	JWTIssuer string

	// Per-user state is dropped after this long without a request; 0 keeps it
	SessionIdle time.Duration

	// Stage timeouts
	RecognizeTimeout time.Duration
	DetectTimeout    time.Duration
	TranslateTimeout time.Duration
	PersistTimeout   time.Duration

	ShowVersion bool
}

// Load parses args on top of the environment. A .env file in the working
// directory is read first when present; real environment variables win.
func Load(args []string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	fs := ff.NewFlagSet("finance-tracker")
	fs.IntVar(&cfg.Port, 0, "port", 8080, "HTTP server port")
	fs.StringVar(&cfg.LogLevel, 0, "log-level", "info", "Log level: debug, info, warn or error")
	fs.StringVar(&cfg.LogFormat, 0, "log-format", "text", "Log format: text or json")

	fs.StringVar(&cfg.DataBackend, 0, "data-backend", "bolt", "Storage back-end: bolt, sqlite or postgres")
	fs.StringVar(&cfg.BoltPath, 0, "db", "finance-tracker.db", "BoltDB file path")
	fs.StringVar(&cfg.SQLitePath, 0, "sqlite-path", "./data/finance-tracker.sqlite", "SQLite database path")
	fs.StringVar(&cfg.PostgresDSN, 0, "postgres-dsn", "", "PostgreSQL connection string")

	fs.StringVar(&cfg.ImageBackend, 0, "image-backend", "local", "Receipt image storage: local or s3")
	fs.StringVar(&cfg.StoragePath, 0, "storage", "./receipts", "Local image storage directory")
	fs.StringVar(&cfg.S3Bucket, 0, "s3-bucket", "", "S3 bucket for receipt images")
	fs.StringVar(&cfg.S3Region, 0, "s3-region", "us-east-1", "S3 region")
	fs.StringVar(&cfg.S3Endpoint, 0, "s3-endpoint", "", "S3 endpoint override (MinIO, R2)")
	fs.StringVar(&cfg.S3AccessKeyID, 0, "s3-access-key-id", "", "S3 access key id (default credential chain when empty)")
	fs.StringVar(&cfg.S3SecretAccessKey, 0, "s3-secret-access-key", "", "S3 secret access key")
	fs.BoolVar(&cfg.S3UsePathStyle, 0, "s3-path-style", "Use path-style S3 addressing")
	fs.StringVar(&cfg.S3PublicURL, 0, "s3-public-url", "", "Public URL prefix of stored images")

	fs.StringVar(&cfg.Recognizer, 0, "recognizer", "gemini", "Text recognizer: gemini or ollama")
	fs.StringVar(&cfg.GeminiKey, 0, "gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
	fs.StringVar(&cfg.GeminiModel, 0, "gemini-model", "gemini-2.5-flash", "Google Gemini model name")
	fs.StringVar(&cfg.OllamaURL, 0, "ollama-url", "http://localhost:11434", "Ollama API base URL")
	fs.StringVar(&cfg.OllamaModel, 0, "ollama-model", "llava", "Ollama model name (e.g., llava, qwen2-vl)")
	languages := fs.StringLong("languages", "en,nl", "Comma separated language hints for recognition")

	fs.StringVar(&cfg.TargetLanguage, 0, "target-language", "en", "Language receipts are translated into")
	fs.StringVar(&cfg.DetectURL, 0, "detect-url", "", "LibreTranslate base URL used for language detection (detection is skipped when empty)")
	fs.StringVar(&cfg.DetectKey, 0, "detect-key", "", "API key for language detection")
	fs.StringVar(&cfg.Translator, 0, "translator", "libre", "Translator: libre, gemini or none")
	fs.StringVar(&cfg.TranslateURL, 0, "translate-url", "", "LibreTranslate base URL")
	fs.StringVar(&cfg.TranslateKey, 0, "translate-key", "", "LibreTranslate API key")

	fs.StringVar(&cfg.AMQPURL, 0, "amqp-url", "", "AMQP broker URL for processing notifications (optional)")
	fs.StringVar(&cfg.AMQPExchange, 0, "amqp-exchange", "finance-tracker", "AMQP exchange name")
	fs.StringVar(&cfg.AMQPQueue, 0, "amqp-queue", "receipt_notifications", "AMQP queue name")

	fs.StringVar(&cfg.JWTSecret, 0, "jwt-secret", "", "HS256 secret of bearer tokens")
	fs.StringVar(&cfg.JWTIssuer, 0, "jwt-issuer", "", "Required token issuer (optional)")
	fs.DurationVar(&cfg.SessionIdle, 0, "session-idle", 30*time.Minute, "Drop a user's loaded data after this long without requests (0 disables)")

	fs.DurationVar(&cfg.RecognizeTimeout, 0, "recognize-timeout", 2*time.Minute, "Bound on text recognition")
	fs.DurationVar(&cfg.DetectTimeout, 0, "detect-timeout", 10*time.Second, "Bound on language detection")
	fs.DurationVar(&cfg.TranslateTimeout, 0, "translate-timeout", 30*time.Second, "Bound on translation")
	fs.DurationVar(&cfg.PersistTimeout, 0, "persist-timeout", 15*time.Second, "Bound on saving a receipt")

	fs.BoolVar(&cfg.ShowVersion, 0, "version", "Show version information")

	if err := ff.Parse(fs, args, ff.WithEnvVarPrefix(EnvPrefix)); err != nil {
		if errors.Is(err, ff.ErrHelp) {
			fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		}
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	cfg.Languages = splitList(*languages)
	if cfg.GeminiKey == "" {
		cfg.GeminiKey = os.Getenv("GEMINI_API_KEY")
	}

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.ToLower(strings.TrimSpace(part)); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func oneOf(name, value string, valid []string) string {
	if slices.Contains(valid, value) {
		return ""
	}
	return fmt.Sprintf("invalid %s '%s': must be one of %v", name, value, valid)
}

func checkURL(name, raw string, schemes ...string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Sprintf("invalid %s '%s': %v", name, raw, err)
	}
	if !slices.Contains(schemes, u.Scheme) || u.Host == "" {
		return fmt.Sprintf("invalid %s '%s': must be an absolute %s URL", name, raw, strings.Join(schemes, " or "))
	}
	return ""
}

// Validate validates the configuration and returns an error listing every problem
func (c *Config) Validate() error {
	var problems []string
	add := func(msg string) {
		if msg != "" {
			problems = append(problems, msg)
		}
	}

	if c.Port < 1 || c.Port > 65535 {
		add(fmt.Sprintf("invalid port %d: must be between 1 and 65535", c.Port))
	}
	add(oneOf("log level", c.LogLevel, LogLevels))
	add(oneOf("log format", c.LogFormat, LogFormats))

	add(oneOf("data backend", c.DataBackend, DataBackends))
	switch c.DataBackend {
	case "bolt":
		if c.BoltPath == "" {
			add("BoltDB path cannot be empty when using bolt backend")
		}
	case "sqlite":
		if c.SQLitePath == "" {
			add("SQLite database path cannot be empty when using sqlite backend")
		}
	case "postgres":
		if c.PostgresDSN == "" {
			add("PostgreSQL DSN is required when using postgres backend")
		}
	}

	add(oneOf("image backend", c.ImageBackend, ImageBackends))
	switch c.ImageBackend {
	case "local":
		if c.StoragePath == "" {
			add("storage directory cannot be empty when using local image backend")
		}
	case "s3":
		if c.S3Bucket == "" {
			add("S3 bucket is required when using s3 image backend")
		}
		if c.S3Region == "" {
			add("S3 region is required when using s3 image backend")
		}
		if (c.S3AccessKeyID == "") != (c.S3SecretAccessKey == "") {
			add("S3 access key id and secret access key must be set together")
		}
		if c.S3Endpoint != "" {
			add(checkURL("S3 endpoint", c.S3Endpoint, "http", "https"))
		}
	}

	add(oneOf("recognizer", c.Recognizer, Recognizers))
	switch c.Recognizer {
	case "gemini":
		if c.GeminiKey == "" {
			add("Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
		}
	case "ollama":
		add(checkURL("Ollama URL", c.OllamaURL, "http", "https"))
	}
	if len(c.Languages) == 0 {
		add("at least one recognition language is required")
	}

	if len(c.TargetLanguage) != 2 {
		add(fmt.Sprintf("invalid target language '%s': must be a two-letter code", c.TargetLanguage))
	}
	if c.DetectURL != "" {
		add(checkURL("detect URL", c.DetectURL, "http", "https"))
		if c.Translator == "none" {
			add("a translator is required when a detect URL is set")
		}
	}
	add(oneOf("translator", c.Translator, Translators))
	switch c.Translator {
	case "libre":
		if c.TranslateURL == "" {
			add("translate URL is required when using libre translator")
		} else {
			add(checkURL("translate URL", c.TranslateURL, "http", "https"))
		}
		if c.TranslateKey == "" {
			add("translate key is required when using libre translator")
		}
	case "gemini":
		if c.GeminiKey == "" {
			add("Gemini API key is required when using gemini translator")
		}
	}

	if c.AMQPURL != "" {
		add(checkURL("AMQP URL", c.AMQPURL, "amqp", "amqps"))
		if c.AMQPExchange == "" {
			add("AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			add("AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.JWTSecret == "" {
		add("JWT secret is required")
	}
	if c.SessionIdle < 0 {
		add(fmt.Sprintf("invalid session idle %v: must not be negative", c.SessionIdle))
	}

	for name, d := range map[string]time.Duration{
		"recognize timeout": c.RecognizeTimeout,
		"detect timeout":    c.DetectTimeout,
		"translate timeout": c.TranslateTimeout,
		"persist timeout":   c.PersistTimeout,
	} {
		if d <= 0 {
			add(fmt.Sprintf("invalid %s %v: must be positive", name, d))
		}
	}

	if len(problems) > 0 {
		slices.Sort(problems)
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(problems, "\n- "))
	}
	return nil
}
