package main

import (
	"cmp"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"AssistantChat/internal/ai"
	"AssistantChat/internal/app/requester"
	"AssistantChat/internal/app/web"
	"AssistantChat/internal/config"
	"AssistantChat/internal/logger"
	"AssistantChat/internal/service/companion"
	"AssistantChat/internal/service/image"
)

// Веб-интерфейс чата: страница, REST и websocket с прогрессом запуска.
func main() {
	if err := run(config.NewConfig()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// run держит все defer, чтобы они отработали до os.Exit в main.
func run(cfg *config.Config) error {
	zl, err := logger.New(cmp.Or(cfg.LogLevel, "info"), cfg.DebugMode)
	if err != nil {
		return err
	}
	sugar := zl.Sugar()
	//сброс буфера логгера
	defer func() { _ = zl.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := ai.NewAssistantsClient(ai.ClientOptions{
		APIKey:         cfg.OpenAI.APIKey,
		BaseURL:        cfg.OpenAI.BaseURL,
		MaxRetries:     cfg.OpenAI.MaxRetries,
		RequestTimeout: cfg.OpenAI.RequestTimeout,
	}, sugar)
	if err != nil {
		sugar.Errorw("Не удалось создать клиента OpenAI", "error", err)
		return err
	}

	hub := web.NewHub(sugar)
	comp := companion.NewCompanion(client, companion.Options{
		AssistantID:     cfg.Assistant.AssistantID,
		Instruction:     cfg.Assistant.LanguageInstruction,
		PollInterval:    cfg.Assistant.PollInterval,
		RunTimeout:      cfg.Assistant.RunTimeout,
		MaxPollAttempts: cfg.Assistant.MaxPollAttempts,
	}, hub, sugar)
	req := requester.New(comp, image.NewProcessor(cfg.Image.MaxWidth, cfg.Image.MaxBytes), hub, sugar)

	// сервер останавливаем сами, чтобы дождаться graceful shutdown
	srvCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv := web.NewServer(cfg.Web, req, hub, sugar)
	if err := srv.Start(srvCtx); err != nil {
		sugar.Errorw("Не удалось запустить веб-сервер", "error", err)
		return err
	}
	sugar.Infow("Запуск веб-интерфейса", "addr", srv.Addr(), "assistant_id", cfg.Assistant.AssistantID, "debug", cfg.DebugMode)

	<-ctx.Done()
	if err := srv.Stop(context.Background()); err != nil {
		sugar.Warnw("Ошибка остановки веб-сервера", "error", err)
	}
	sugar.Infow("Веб-интерфейс остановлен")
	return nil
}
