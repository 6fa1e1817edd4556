package main

import (
	"cmp"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"AssistantChat/internal/ai"
	"AssistantChat/internal/app/repl"
	"AssistantChat/internal/app/requester"
	"AssistantChat/internal/config"
	"AssistantChat/internal/logger"
	"AssistantChat/internal/service/companion"
	"AssistantChat/internal/service/image"
)

// Терминальный чат с ассистентом OpenAI.
func main() {
	if err := run(config.NewConfig()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// run держит все defer, чтобы они отработали до os.Exit в main.
func run(cfg *config.Config) error {
	// логи в stderr, по умолчанию только предупреждения, чтобы не мешать диалогу
	zl, err := logger.New(cmp.Or(cfg.LogLevel, "warn"), cfg.DebugMode)
	if err != nil {
		return err
	}
	sugar := zl.Sugar()
	//сброс буфера логгера
	defer func() { _ = zl.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	line := repl.NewLiner()
	defer line.Close()

	client, err := newClient(cfg.OpenAI, func() (string, error) { return repl.AskAPIKey(line) }, sugar)
	if err != nil {
		return err
	}

	sugar.Infow("Запуск чата", "assistant_id", cfg.Assistant.AssistantID, "debug", cfg.DebugMode)

	comp := companion.NewCompanion(client, companion.Options{
		AssistantID:     cfg.Assistant.AssistantID,
		Instruction:     cfg.Assistant.LanguageInstruction,
		PollInterval:    cfg.Assistant.PollInterval,
		RunTimeout:      cfg.Assistant.RunTimeout,
		MaxPollAttempts: cfg.Assistant.MaxPollAttempts,
	}, nil, sugar)
	req := requester.New(comp, image.NewProcessor(cfg.Image.MaxWidth, cfg.Image.MaxBytes), nil, sugar)

	r := repl.New(req, line, repl.NewRenderer(os.Stdout, cfg.Markdown), sugar)
	if err := r.Run(ctx); err != nil {
		sugar.Errorw("Чат завершился с ошибкой", "error", err)
		return err
	}
	return nil
}

// newClient создаёт клиента OpenAI. Пустой ключ спрашивается через askKey.
func newClient(cfg config.OpenAIConfig, askKey func() (string, error), sugar *zap.SugaredLogger) (*ai.AssistantsClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		key, err := askKey()
		if err != nil {
			return nil, err
		}
		cfg.APIKey = key
	}
	return ai.NewAssistantsClient(ai.ClientOptions{
		APIKey:         cfg.APIKey,
		BaseURL:        cfg.BaseURL,
		MaxRetries:     cfg.MaxRetries,
		RequestTimeout: cfg.RequestTimeout,
	}, sugar)
}
