package repl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"

	"github.com/peterh/liner"
	"go.uber.org/zap"

	"AssistantChat/internal/ai"
	"AssistantChat/internal/app/requester"
	"AssistantChat/internal/service/chat"
	"AssistantChat/internal/service/companion"
	"AssistantChat/internal/service/image"
)

const helpText = `commands:
  /image <path>  attach an image to the next message
  /image         drop the pending image
  /history       print the whole conversation
  /new           start a new conversation
  /help          show this help
  /quit          exit (Ctrl+D works too)
Ctrl+C while waiting cancels the current run.`

// Submitter: то, что REPL требует от requester.
type Submitter interface {
	Submit(ctx context.Context, text string, att *requester.Attachment) (requester.Result, error)
	History() []chat.Turn
	ThreadID() string
	Reset(ctx context.Context) error
}

// LineReader читает строку ввода. *liner.State подходит как есть.
type LineReader interface {
	Prompt(prompt string) (string, error)
	AppendHistory(item string)
}

type REPL struct {
	sub    Submitter
	in     LineReader
	render *Renderer
	logger *zap.SugaredLogger

	readFile func(name string) ([]byte, error)

	pending *requester.Attachment
	shown   []chat.Turn

	mu     sync.Mutex
	cancel context.CancelFunc
}

func New(sub Submitter, in LineReader, render *Renderer, logger *zap.SugaredLogger) *REPL {
	return &REPL{sub: sub, in: in, render: render, logger: logger, readFile: os.ReadFile}
}

// NewLiner создаёт редактор строки: Ctrl+C в приглашении прерывает ввод.
func NewLiner() *liner.State {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	return line
}

// AskAPIKey спрашивает ключ скрытым вводом. Пустой ответ: ai.ErrMissingAPIKey.
func AskAPIKey(line *liner.State) (string, error) {
	key, err := line.PasswordPrompt("OpenAI API key: ")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ai.ErrMissingAPIKey, err)
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", ai.ErrMissingAPIKey
	}
	return key, nil
}

// Run читает строки до /quit, Ctrl+D или Ctrl+C в приглашении.
func (r *REPL) Run(ctx context.Context) error {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	defer signal.Stop(sig)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-sig:
				if r.Interrupt() {
					r.render.Warn("[cancelled]")
				}
			}
		}
	}()

	r.render.Info("GPT-4o Assistant Chat. /help for commands.")
	if len(r.sub.History()) > 0 {
		r.printAll()
	}
	for {
		input, err := r.in.Prompt(promptStyle.Render("> "))
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if !r.Handle(ctx, input) {
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// Interrupt отменяет текущий цикл отправки, если он идёт.
func (r *REPL) Interrupt() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel == nil {
		return false
	}
	r.cancel()
	r.cancel = nil
	return true
}

// Handle обрабатывает одну строку ввода. false: пора выходить.
func (r *REPL) Handle(ctx context.Context, input string) bool {
	input = strings.TrimSpace(input)
	if input == "" {
		return true
	}
	r.in.AppendHistory(input)

	if !strings.HasPrefix(input, "/") {
		r.submit(ctx, input)
		return true
	}

	cmd, arg, _ := strings.Cut(input, " ")
	arg = strings.TrimSpace(arg)
	r.logger.Debugw("Команда", "cmd", cmd, "arg", arg)
	switch cmd {
	case "/quit", "/exit":
		return false
	case "/help":
		r.render.Info(helpText)
	case "/history":
		r.printAll()
	case "/new":
		if err := r.sub.Reset(ctx); err != nil {
			r.render.Error(err)
			return true
		}
		r.pending = nil
		r.shown = nil
		r.render.Info("new conversation")
	case "/image":
		r.attach(arg)
	default:
		r.render.Warn("unknown command %s, see /help", cmd)
	}
	return true
}

func (r *REPL) attach(path string) {
	if path == "" {
		if r.pending != nil {
			r.render.Info("dropped %s", r.pending.Name)
		}
		r.pending = nil
		return
	}
	data, err := r.readFile(path)
	if err != nil {
		r.render.Error(err)
		return
	}
	r.pending = &requester.Attachment{Name: filepath.Base(path), Data: data}
	r.render.Info("attached %s (%d bytes), it goes with the next message", r.pending.Name, len(data))
}

func (r *REPL) submit(ctx context.Context, text string) {
	cycleCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.cancel = nil
		r.mu.Unlock()
		cancel()
	}()

	r.render.Info("processando...")
	res, err := r.sub.Submit(cycleCtx, text, r.pending)
	if err != nil {
		r.render.Error(err)
		switch {
		case errors.Is(err, image.ErrUnsupportedImage), errors.Is(err, image.ErrEmptyImage), errors.Is(err, image.ErrImageTooLarge):
			r.pending = nil
			r.render.Info("image dropped")
		case errors.Is(err, companion.ErrRunCancelled), errors.Is(err, companion.ErrRunTimeout):
			r.render.Info("the assistant may still answer, it shows up with the next message")
		case r.pending != nil && !errors.Is(err, requester.ErrBusy):
			r.render.Info("%s stays attached, send again to retry", r.pending.Name)
		}
		return
	}
	r.pending = nil
	if res.Status != ai.RunStatusCompleted {
		r.render.Warn("run finished with status %s", res.Status)
	}
	r.printNew(res.Turns)
}

// printNew печатает только реплики после уже показанного префикса.
// Если префикс не совпал, печатается вся история.
func (r *REPL) printNew(turns []chat.Turn) {
	start := len(r.shown)
	if !chat.HasPrefix(turns, r.shown) {
		r.render.Info("--- conversation ---")
		start = 0
	}
	for _, t := range turns[start:] {
		r.render.Turn(t)
	}
	r.shown = turns
}

func (r *REPL) printAll() {
	turns := r.sub.History()
	if len(turns) == 0 {
		r.render.Info("no messages yet")
	}
	for _, t := range turns {
		r.render.Turn(t)
	}
	r.shown = turns
}
