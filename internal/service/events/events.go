package events

import (
	"context"
	"time"
)

// Kind: тип события цикла отправки.
type Kind string

const (
	KindSnapshot       Kind = "snapshot"
	KindCycleStarted   Kind = "cycle_started"
	KindThreadCreated  Kind = "thread_created"
	KindImageUploaded  Kind = "image_uploaded"
	KindMessageSent    Kind = "message_sent"
	KindRunStarted     Kind = "run_started"
	KindRunStatus      Kind = "run_status"
	KindHistoryUpdated Kind = "history_updated"
	KindCycleFailed    Kind = "cycle_failed"
	KindReset          Kind = "reset"
)

// Event: событие прогресса. Незаполненные поля не сериализуются.
type Event struct {
	Kind     Kind      `json:"kind"`
	Time     time.Time `json:"time"`
	CycleID  string    `json:"cycle_id,omitempty"`
	ThreadID string    `json:"thread_id,omitempty"`
	RunID    string    `json:"run_id,omitempty"`
	FileID   string    `json:"file_id,omitempty"`
	Status   string    `json:"status,omitempty"`
	Error    string    `json:"error,omitempty"`
	Data     any       `json:"data,omitempty"`
}

// Sink принимает события. Publish не должен блокироваться надолго: его вызывают из цикла отправки.
type Sink interface {
	Publish(ctx context.Context, e Event)
}

// SinkFunc: адаптер функции к Sink.
type SinkFunc func(ctx context.Context, e Event)

func (f SinkFunc) Publish(ctx context.Context, e Event) { f(ctx, e) }

// Discard игнорирует все события.
var Discard Sink = SinkFunc(func(context.Context, Event) {})

type cycleKey struct{}

// WithCycleID кладёт ID цикла в контекст; Publish в companion проставит его в событие.
func WithCycleID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, cycleKey{}, id)
}

// CycleID достаёт ID цикла из контекста.
func CycleID(ctx context.Context) string {
	id, _ := ctx.Value(cycleKey{}).(string)
	return id
}

// Multi рассылает событие во все приёмники по очереди.
func Multi(sinks ...Sink) Sink {
	return SinkFunc(func(ctx context.Context, e Event) {
		for _, s := range sinks {
			if s != nil {
				s.Publish(ctx, e)
			}
		}
	})
}

// EventServer описывает сервер, который отдаёт события наружу (веб-интерфейс).
type EventServer interface {
	// Start запускает сервер в отдельной горутине и немедленно возвращается.
	// Должен реагировать на отмену контекста и завершать работу.
	Start(ctx context.Context) error

	// Stop инициирует graceful shutdown с использованием контекста.
	Stop(ctx context.Context) error

	// Addr возвращает адрес, на котором слушает сервер.
	Addr() string
}
