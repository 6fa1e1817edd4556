package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
	"go.uber.org/zap/zapcore"
)

// DefaultConfigFile читается, если CONFIG_FILE не задан и файл существует.
const DefaultConfigFile = "assistant-chat.toml"

type Config struct {
	DebugMode bool   `env:"DEBUG_MODE" toml:"debug_mode"` // Режим дебага, включает debug-логи
	LogLevel  string `env:"LOG_LEVEL" toml:"log_level"`   // debug|info|warn|error; пусто: уровень по умолчанию команды
	Markdown  bool   `env:"MARKDOWN" toml:"markdown"`     // Рендерить ответы ассистента как markdown

	OpenAI    OpenAIConfig    `toml:"openai"`
	Assistant AssistantConfig `toml:"assistant"`
	Image     ImageConfig     `toml:"image"`
	Web       WebConfig       `toml:"web"`
}

// OpenAIConfig параметры подключения к API.
type OpenAIConfig struct {
	APIKey         string        `env:"OPENAI_API_KEY" toml:"api_key"`                 // Ключ; если пуст, чат спросит его при старте
	BaseURL        string        `env:"OPENAI_BASE_URL" toml:"base_url"`               // Пусто: api.openai.com
	MaxRetries     int           `env:"OPENAI_MAX_RETRIES" toml:"max_retries"`         // Повторы SDK, по умолчанию 0
	RequestTimeout time.Duration `env:"OPENAI_REQUEST_TIMEOUT" toml:"request_timeout"` // Таймаут одного HTTP-запроса, 0: без таймаута
}

// AssistantConfig параметры ассистента и ожидания запуска.
type AssistantConfig struct {
	AssistantID         string        `env:"ASSISTANT_ID" toml:"assistant_id"`                 // ID ассистента, с которым создаются запуски
	LanguageInstruction string        `env:"LANGUAGE_INSTRUCTION" toml:"language_instruction"` // Дописывается к каждой реплике пользователя
	PollInterval        time.Duration `env:"POLL_INTERVAL" toml:"poll_interval"`               // Интервал опроса статуса запуска
	RunTimeout          time.Duration `env:"RUN_TIMEOUT" toml:"run_timeout"`                   // Сколько максимум ждать запуск
	MaxPollAttempts     int           `env:"MAX_POLL_ATTEMPTS" toml:"max_poll_attempts"`       // 0: без ограничения
}

// ImageConfig лимиты для прикреплённых изображений.
type ImageConfig struct {
	MaxWidth int `env:"IMAGE_MAX_WIDTH" toml:"max_width"`
	MaxBytes int `env:"IMAGE_MAX_BYTES" toml:"max_bytes"`
}

// WebConfig параметры веб-интерфейса.
type WebConfig struct {
	BindAddr       string `env:"WEB_BIND_ADDR" toml:"bind_addr"`               // Адрес слушателя, напр. 127.0.0.1:8501
	MaxUploadBytes int64  `env:"WEB_MAX_UPLOAD_BYTES" toml:"max_upload_bytes"` // Лимит тела POST /api/messages
}

// Defaults возвращает конфигурацию с предустановленными значениями по умолчанию.
// Эти значения перекрываются TOML-файлом, .env, переменными окружения и флагами CLI.
func Defaults() *Config {
	return &Config{
		DebugMode: false,
		Markdown:  true,
		OpenAI: OpenAIConfig{
			MaxRetries: 0, // повторы только через повторную отправку пользователем
		},
		Assistant: AssistantConfig{
			AssistantID:         "asst_hXtJTncZyNmwB1AwgB2eZylS",
			LanguageInstruction: "Responda em português do Brasil.",
			PollInterval:        time.Second,
			RunTimeout:          5 * time.Minute,
			MaxPollAttempts:     0,
		},
		Image: ImageConfig{
			MaxWidth: 1280,
			MaxBytes: 1 * 1024 * 1024,
		},
		Web: WebConfig{
			BindAddr:       "127.0.0.1:8501",
			MaxUploadBytes: 20 * 1024 * 1024,
		},
	}
}

// Load собирает конфигурацию: дефолты → TOML → .env → окружение → флаги из args.
func Load(name string, args []string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Defaults()
	if err := loadFile(cfg); err != nil {
		return nil, err
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.BoolVar(&cfg.DebugMode, "debug-mode", cfg.DebugMode, "включить режим дебага")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "уровень логов: debug|info|warn|error")
	fs.BoolVar(&cfg.Markdown, "markdown", cfg.Markdown, "рендерить ответы ассистента как markdown")
	// OpenAI
	fs.StringVar(&cfg.OpenAI.APIKey, "openai-api-key", cfg.OpenAI.APIKey, "ключ OpenAI API (перекрывает ENV)")
	fs.StringVar(&cfg.OpenAI.BaseURL, "openai-base-url", cfg.OpenAI.BaseURL, "базовый URL API, пусто: api.openai.com")
	fs.IntVar(&cfg.OpenAI.MaxRetries, "openai-max-retries", cfg.OpenAI.MaxRetries, "число повторов HTTP-запросов на уровне SDK")
	fs.DurationVar(&cfg.OpenAI.RequestTimeout, "openai-request-timeout", cfg.OpenAI.RequestTimeout, "таймаут одного HTTP-запроса, напр. 30s")
	// Ассистент
	fs.StringVar(&cfg.Assistant.AssistantID, "assistant-id", cfg.Assistant.AssistantID, "ID ассистента")
	fs.StringVar(&cfg.Assistant.LanguageInstruction, "language-instruction", cfg.Assistant.LanguageInstruction, "инструкция о языке ответа, дописывается к каждой реплике")
	fs.DurationVar(&cfg.Assistant.PollInterval, "poll-interval", cfg.Assistant.PollInterval, "интервал опроса статуса запуска")
	fs.DurationVar(&cfg.Assistant.RunTimeout, "run-timeout", cfg.Assistant.RunTimeout, "максимальное время ожидания запуска")
	fs.IntVar(&cfg.Assistant.MaxPollAttempts, "max-poll-attempts", cfg.Assistant.MaxPollAttempts, "максимум опросов статуса, 0 без ограничения")
	// Изображения
	fs.IntVar(&cfg.Image.MaxWidth, "image-max-width", cfg.Image.MaxWidth, "максимальная ширина изображения перед загрузкой")
	fs.IntVar(&cfg.Image.MaxBytes, "image-max-bytes", cfg.Image.MaxBytes, "максимальный размер изображения перед загрузкой, байт")
	// Веб
	fs.StringVar(&cfg.Web.BindAddr, "web-bind-addr", cfg.Web.BindAddr, "адрес веб-интерфейса (напр. 127.0.0.1:8501)")
	fs.Int64Var(&cfg.Web.MaxUploadBytes, "web-max-upload-bytes", cfg.Web.MaxUploadBytes, "лимит тела запроса с изображением, байт")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg.OpenAI.APIKey = strings.TrimSpace(cfg.OpenAI.APIKey)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// NewConfig загружает конфигурацию приложения из os.Args и паникует при ошибке.
func NewConfig() *Config {
	cfg, err := Load(os.Args[0], os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		panic(err)
	}
	return cfg
}

// Validate проверяет значения, с которыми приложение не сможет работать.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Assistant.AssistantID) == "" {
		errs = append(errs, errors.New("assistant id is empty"))
	}
	if c.Assistant.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll interval must be positive, got %s", c.Assistant.PollInterval))
	}
	if c.Assistant.RunTimeout < 0 {
		errs = append(errs, fmt.Errorf("run timeout must not be negative, got %s", c.Assistant.RunTimeout))
	}
	if c.Assistant.MaxPollAttempts < 0 {
		errs = append(errs, fmt.Errorf("max poll attempts must not be negative, got %d", c.Assistant.MaxPollAttempts))
	}
	if c.OpenAI.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("openai max retries must not be negative, got %d", c.OpenAI.MaxRetries))
	}
	if c.Image.MaxWidth <= 0 || c.Image.MaxBytes <= 0 {
		errs = append(errs, fmt.Errorf("image limits must be positive, got width %d bytes %d", c.Image.MaxWidth, c.Image.MaxBytes))
	}
	if c.Web.MaxUploadBytes <= 0 {
		errs = append(errs, fmt.Errorf("web max upload bytes must be positive, got %d", c.Web.MaxUploadBytes))
	}
	if c.LogLevel != "" {
		if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
			errs = append(errs, fmt.Errorf("log level: %w", err))
		}
	}
	return errors.Join(errs...)
}

// loadFile читает TOML из CONFIG_FILE. Явно указанный файл обязан существовать,
// файл по умолчанию читается только если он есть.
func loadFile(cfg *Config) error {
	path := strings.TrimSpace(os.Getenv("CONFIG_FILE"))
	explicit := path != ""
	if !explicit {
		path = DefaultConfigFile
	}
	if _, err := os.Stat(path); err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config file: %w", err)
	}
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("config file %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return fmt.Errorf("config file %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	return nil
}
