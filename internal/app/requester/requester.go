package requester

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"AssistantChat/internal/adapter/localconversation"
	"AssistantChat/internal/ai"
	"AssistantChat/internal/service/chat"
	"AssistantChat/internal/service/companion"
	"AssistantChat/internal/service/events"
	"AssistantChat/internal/service/image"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrBusy: предыдущий цикл отправки ещё не завершён (политика наложения skip).
var ErrBusy = errors.New("another submission is in progress")

// Sender выполняет полный цикл отправки реплики.
type Sender interface {
	Send(ctx context.Context, state *localconversation.State, text string, image *ai.File) (ai.RunStatus, error)
}

// Attachment: изображение, прикреплённое к реплике, как его передал интерфейс.
type Attachment struct {
	Name string
	Data []byte
}

// Result: итог цикла.
type Result struct {
	CycleID  string
	ThreadID string
	Status   ai.RunStatus
	Turns    []chat.Turn
}

type Requester struct {
	sender    Sender
	processor *image.Processor
	sink      events.Sink
	logger    *zap.SugaredLogger

	state   atomic.Pointer[localconversation.State]
	running atomic.Bool
}

func New(sender Sender, processor *image.Processor, sink events.Sink, logger *zap.SugaredLogger) *Requester {
	if sink == nil {
		sink = events.Discard
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	r := &Requester{sender: sender, processor: processor, sink: sink, logger: logger}
	r.state.Store(localconversation.New())
	return r
}

// Submit выполняет один цикл отправки. Пока цикл идёт, новые вызовы получают ErrBusy.
func (r *Requester) Submit(ctx context.Context, text string, att *Attachment) (Result, error) {
	if !r.running.CompareAndSwap(false, true) {
		r.logger.Warnw("Предыдущий цикл ещё выполняется, пропускаем")
		return Result{}, ErrBusy
	}
	defer r.running.Store(false)

	res := Result{CycleID: uuid.NewString()}
	ctx = events.WithCycleID(ctx, res.CycleID)
	state := r.state.Load()
	res.ThreadID = state.ThreadID()

	if strings.TrimSpace(text) == "" {
		return res, companion.ErrEmptyText
	}

	var file *ai.File
	if att != nil {
		img, err := r.processor.Process(att.Name, att.Data)
		if err != nil {
			r.logger.Warnw("Не удалось обработать изображение", "cycle_id", res.CycleID, "name", att.Name, "error", err)
			return res, fmt.Errorf("prepare image: %w", err)
		}
		if img.Resized {
			r.logger.Infow("Изображение уменьшено", "cycle_id", res.CycleID, "name", img.Name,
				"width", img.Width, "height", img.Height, "bytes", img.SizeBytes)
		}
		f := img.File()
		file = &f
	}

	r.sink.Publish(ctx, events.Event{Kind: events.KindCycleStarted, Time: time.Now(), CycleID: res.CycleID, ThreadID: res.ThreadID})
	r.logger.Infow("Отправка..", "cycle_id", res.CycleID, "thread_id", res.ThreadID, "chars", len(text), "image", file != nil)

	start := time.Now()
	status, err := r.sender.Send(ctx, state, text, file)
	res.Status = status
	res.ThreadID = state.ThreadID()
	if err != nil {
		r.logger.Errorw("Цикл отправки не удался", "cycle_id", res.CycleID, "thread_id", res.ThreadID,
			"status", status, "duration", time.Since(start).String(), "error", err)
		return res, err
	}
	if status != ai.RunStatusCompleted {
		r.logger.Warnw("Запуск завершился не со статусом completed", "cycle_id", res.CycleID, "status", status)
	}
	res.Turns = state.History()
	r.logger.Infow("Цикл завершён", "cycle_id", res.CycleID, "thread_id", res.ThreadID,
		"status", status, "turns", len(res.Turns), "duration", time.Since(start).String())
	return res, nil
}

// History возвращает копию текущей истории.
func (r *Requester) History() []chat.Turn { return r.state.Load().History() }

// ThreadID возвращает тред текущего диалога, если он уже создан.
func (r *Requester) ThreadID() string { return r.state.Load().ThreadID() }

// Snapshot возвращает тред и историю текущего диалога.
func (r *Requester) Snapshot() (string, []chat.Turn) { return r.state.Load().Snapshot() }

// Busy сообщает, что сейчас идёт цикл отправки.
func (r *Requester) Busy() bool { return r.running.Load() }

// Reset начинает новый диалог. Во время цикла отправки возвращает ErrBusy.
func (r *Requester) Reset(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer r.running.Store(false)

	prev := r.state.Swap(localconversation.New())
	r.logger.Infow("Новый диалог", "previous_thread_id", prev.ThreadID())
	r.sink.Publish(ctx, events.Event{Kind: events.KindReset, Time: time.Now()})
	return nil
}
