package companion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"AssistantChat/internal/adapter/localconversation"
	"AssistantChat/internal/ai"
	"AssistantChat/internal/service/chat"
	"AssistantChat/internal/service/events"

	"go.uber.org/zap"
)

var (
	ErrEmptyText    = errors.New("message text is empty")
	ErrNoThread     = errors.New("conversation has no thread yet")
	ErrRunTimeout   = errors.New("run did not reach a terminal status in time")
	ErrRunCancelled = errors.New("run wait cancelled")
)

// Options: неизменяемые на время жизни Companion параметры.
type Options struct {
	AssistantID     string
	Instruction     string        // дописывается к тексту пользователя через перевод строки
	PollInterval    time.Duration // по умолчанию 1s
	RunTimeout      time.Duration // 0: ждать, пока не отменят контекст
	MaxPollAttempts int           // 0: без ограничения
}

// Companion ведёт сессию: тред, отправка реплики, ожидание запуска и пересборка истории.
type Companion struct {
	client ai.ThreadsClient
	opts   Options
	sink   events.Sink
	logger *zap.SugaredLogger
}

// NewCompanion создаёт сервис оркестрации.
func NewCompanion(client ai.ThreadsClient, opts Options, sink events.Sink, logger *zap.SugaredLogger) *Companion {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if sink == nil {
		sink = events.Discard
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Companion{client: client, opts: opts, sink: sink, logger: logger}
}

// Instruction возвращает языковую инструкцию, с которой работает сервис.
func (c *Companion) Instruction() string { return c.opts.Instruction }

// EnsureThread возвращает тред диалога, создавая его при первом обращении.
// При ошибке ID треда остаётся пустым, следующий вызов попробует снова.
func (c *Companion) EnsureThread(ctx context.Context, state *localconversation.State) (string, error) {
	if id := state.ThreadID(); id != "" {
		return id, nil
	}
	id, err := c.client.CreateThread(ctx)
	if err != nil {
		return "", err
	}
	if err := state.SetThreadID(id); err != nil {
		return "", err
	}
	c.logger.Infow("Создан тред", "thread_id", id, "cycle_id", events.CycleID(ctx))
	c.publish(ctx, events.Event{Kind: events.KindThreadCreated, ThreadID: id})
	return id, nil
}

// SubmitTurn отправляет реплику пользователя в тред. Изображение, если есть, загружается первым;
// при ошибке загрузки сообщение не отправляется.
func (c *Companion) SubmitTurn(ctx context.Context, threadID string, text string, image *ai.File) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}
	content := text
	if c.opts.Instruction != "" {
		content += "\n" + c.opts.Instruction
	}
	blocks := []ai.ContentBlock{ai.TextBlock(content)}

	if image != nil {
		fileID, err := c.client.UploadFile(ctx, *image)
		if err != nil {
			return err
		}
		c.publish(ctx, events.Event{Kind: events.KindImageUploaded, ThreadID: threadID, FileID: fileID})
		blocks = append(blocks, ai.ImageFileBlock(fileID))
	}

	msg, err := c.client.CreateMessage(ctx, threadID, ai.RoleUser, blocks)
	if err != nil {
		return err
	}
	c.publish(ctx, events.Event{Kind: events.KindMessageSent, ThreadID: threadID, Data: map[string]string{"message_id": msg.ID}})
	return nil
}

// RunToCompletion запускает ассистента и опрашивает запуск с фиксированным интервалом,
// пока статус не станет терминальным.
//
// Отмена ctx даёт ErrRunCancelled, истечение RunTimeout или MaxPollAttempts: ErrRunTimeout.
// Ошибка опроса возвращается сразу, без повторов.
func (c *Companion) RunToCompletion(ctx context.Context, threadID string) (ai.RunStatus, error) {
	run, err := c.client.CreateRun(ctx, threadID, c.opts.AssistantID)
	if err != nil {
		return "", err
	}
	c.publish(ctx, events.Event{Kind: events.KindRunStarted, ThreadID: threadID, RunID: run.ID, Status: string(run.Status)})
	if run.Status.Terminal() {
		return run.Status, nil
	}

	waitCtx, cancel := ctx, context.CancelFunc(func() {})
	if c.opts.RunTimeout > 0 {
		waitCtx, cancel = context.WithTimeoutCause(ctx, c.opts.RunTimeout, ErrRunTimeout)
	}
	defer cancel()

	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	last := run.Status
	for attempt := 1; ; attempt++ {
		select {
		case <-waitCtx.Done():
			return last, c.waitError(ctx, waitCtx)
		case <-ticker.C:
		}

		r, err := c.client.GetRun(waitCtx, threadID, run.ID)
		if err != nil {
			if waitCtx.Err() != nil {
				return last, c.waitError(ctx, waitCtx)
			}
			return last, err
		}
		if r.Status != last {
			c.logger.Debugw("Статус запуска", "run_id", run.ID, "status", r.Status, "attempt", attempt)
			c.publish(ctx, events.Event{Kind: events.KindRunStatus, ThreadID: threadID, RunID: run.ID, Status: string(r.Status), Error: r.LastError})
		}
		last = r.Status
		if last.Terminal() {
			if last != ai.RunStatusCompleted {
				c.logger.Warnw("Запуск завершился неуспешно", "run_id", run.ID, "status", last, "last_error", r.LastError)
			}
			return last, nil
		}
		if c.opts.MaxPollAttempts > 0 && attempt >= c.opts.MaxPollAttempts {
			return last, fmt.Errorf("%w: %d poll attempts, last status %s", ErrRunTimeout, attempt, last)
		}
	}
}

func (c *Companion) waitError(parent, waitCtx context.Context) error {
	if parent.Err() != nil {
		return fmt.Errorf("%w: %w", ErrRunCancelled, context.Cause(parent))
	}
	return fmt.Errorf("%w: %s", context.Cause(waitCtx), c.opts.RunTimeout)
}

// Refresh перечитывает сообщения треда и целиком заменяет историю.
// При ошибке история не меняется.
func (c *Companion) Refresh(ctx context.Context, state *localconversation.State) ([]chat.Turn, error) {
	threadID := state.ThreadID()
	if threadID == "" {
		return nil, ErrNoThread
	}
	msgs, err := c.client.ListMessages(ctx, threadID)
	if err != nil {
		return nil, err
	}
	turns := chat.RebuildHistory(msgs, c.opts.Instruction)
	state.ReplaceHistory(turns)
	c.publish(ctx, events.Event{Kind: events.KindHistoryUpdated, ThreadID: threadID, Data: turns})
	return turns, nil
}

// Send выполняет полный цикл: тред, реплика, запуск, история.
// Любая ошибка прерывает цикл; история обновляется только после терминального статуса.
func (c *Companion) Send(ctx context.Context, state *localconversation.State, text string, image *ai.File) (ai.RunStatus, error) {
	status, err := c.send(ctx, state, text, image)
	// отмена на любом шаге, не только в ожидании запуска
	if err != nil && ctx.Err() != nil && !errors.Is(err, ErrRunCancelled) {
		err = fmt.Errorf("%w: %w", ErrRunCancelled, err)
	}
	if err != nil {
		c.publish(ctx, events.Event{Kind: events.KindCycleFailed, ThreadID: state.ThreadID(), Status: string(status), Error: err.Error()})
	}
	return status, err
}

func (c *Companion) send(ctx context.Context, state *localconversation.State, text string, image *ai.File) (ai.RunStatus, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyText
	}
	threadID, err := c.EnsureThread(ctx, state)
	if err != nil {
		return "", fmt.Errorf("ensure thread: %w", err)
	}
	if err := c.SubmitTurn(ctx, threadID, text, image); err != nil {
		return "", fmt.Errorf("submit turn: %w", err)
	}
	status, err := c.RunToCompletion(ctx, threadID)
	if err != nil {
		return status, fmt.Errorf("run: %w", err)
	}
	if _, err := c.Refresh(ctx, state); err != nil {
		return status, fmt.Errorf("refresh history: %w", err)
	}
	return status, nil
}

func (c *Companion) publish(ctx context.Context, e events.Event) {
	e.Time = time.Now()
	if e.CycleID == "" {
		e.CycleID = events.CycleID(ctx)
	}
	c.sink.Publish(ctx, e)
}
