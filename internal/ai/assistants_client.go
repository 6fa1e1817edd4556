package ai

import (
	"bytes"
	"context"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"go.uber.org/zap"
)

// ClientOptions: параметры подключения к OpenAI.
type ClientOptions struct {
	APIKey         string
	BaseURL        string        // пусто: api.openai.com
	MaxRetries     int           // повторы на уровне SDK; по умолчанию выключены
	RequestTimeout time.Duration // 0: без ограничения на отдельный запрос
}

// AssistantsClient реализует ThreadsClient через OpenAI Assistants (Threads, Runs, Files).
type AssistantsClient struct {
	client *openai.Client
	logger *zap.SugaredLogger
}

// NewAssistantsClient создаёт клиента. Без ключа возвращает ErrMissingAPIKey и не создаёт ничего.
func NewAssistantsClient(opts ClientOptions, logger *zap.SugaredLogger) (*AssistantsClient, error) {
	key := strings.TrimSpace(opts.APIKey)
	if key == "" {
		return nil, ErrMissingAPIKey
	}
	reqOpts := []option.RequestOption{
		option.WithAPIKey(key),
		option.WithMaxRetries(max(0, opts.MaxRetries)),
	}
	if u := strings.TrimSpace(opts.BaseURL); u != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(u))
	}
	if opts.RequestTimeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(opts.RequestTimeout))
	}
	c := openai.NewClient(reqOpts...)
	return &AssistantsClient{client: &c, logger: logger}, nil
}

// CreateThread создаёт пустой тред.
func (c *AssistantsClient) CreateThread(ctx context.Context) (string, error) {
	start := time.Now()
	th, err := c.client.Beta.Threads.New(ctx, openai.BetaThreadNewParams{})
	c.trace(OpCreateThread, start, err)
	if err != nil {
		return "", NewRemoteError(OpCreateThread, err)
	}
	return th.ID, nil
}

// UploadFile загружает файл для использования ассистентом и возвращает его ID.
func (c *AssistantsClient) UploadFile(ctx context.Context, f File) (string, error) {
	start := time.Now()
	obj, err := c.client.Files.New(ctx, openai.FileNewParams{
		File:    openai.File(bytes.NewReader(f.Data), f.Name, f.ContentType),
		Purpose: openai.FilePurposeAssistants,
	})
	c.trace(OpUploadFile, start, err, "name", f.Name, "bytes", len(f.Data))
	if err != nil {
		return "", NewRemoteError(OpUploadFile, err)
	}
	return obj.ID, nil
}

// CreateMessage добавляет сообщение в тред. Блоки отправляются в исходном порядке.
func (c *AssistantsClient) CreateMessage(ctx context.Context, threadID string, role Role, content []ContentBlock) (Message, error) {
	parts := make([]openai.MessageContentPartParamUnion, 0, len(content))
	for _, b := range content {
		switch b.Type {
		case BlockImageFile:
			parts = append(parts, openai.MessageContentPartParamUnion{
				OfImageFile: &openai.ImageFileContentBlockParam{
					ImageFile: openai.ImageFileParam{FileID: b.FileID},
				},
			})
		case BlockImageURL:
			parts = append(parts, openai.MessageContentPartParamUnion{
				OfImageURL: &openai.ImageURLContentBlockParam{
					ImageURL: openai.ImageURLParam{URL: b.URL},
				},
			})
		default:
			parts = append(parts, openai.MessageContentPartParamUnion{
				OfText: &openai.TextContentBlockParam{Text: b.Text},
			})
		}
	}

	start := time.Now()
	msg, err := c.client.Beta.Threads.Messages.New(ctx, threadID, openai.BetaThreadMessageNewParams{
		Role:    openai.BetaThreadMessageNewParamsRole(role),
		Content: openai.BetaThreadMessageNewParamsContentUnion{OfArrayOfContentParts: parts},
	})
	c.trace(OpCreateMessage, start, err, "thread_id", threadID, "blocks", len(parts))
	if err != nil {
		return Message{}, NewRemoteError(OpCreateMessage, err)
	}
	return convertMessage(*msg), nil
}

// ListMessages возвращает все сообщения треда, проходя по всем страницам.
func (c *AssistantsClient) ListMessages(ctx context.Context, threadID string) ([]Message, error) {
	start := time.Now()
	iter := c.client.Beta.Threads.Messages.ListAutoPaging(ctx, threadID, openai.BetaThreadMessageListParams{
		Order: openai.BetaThreadMessageListParamsOrderAsc,
		Limit: openai.Int(100),
	})
	var out []Message
	for iter.Next() {
		out = append(out, convertMessage(iter.Current()))
	}
	err := iter.Err()
	c.trace(OpListMessages, start, err, "thread_id", threadID, "count", len(out))
	if err != nil {
		return nil, NewRemoteError(OpListMessages, err)
	}
	return out, nil
}

// CreateRun запускает ассистента на треде.
func (c *AssistantsClient) CreateRun(ctx context.Context, threadID string, assistantID string) (Run, error) {
	start := time.Now()
	run, err := c.client.Beta.Threads.Runs.New(ctx, threadID, openai.BetaThreadRunNewParams{
		AssistantID: assistantID,
	})
	c.trace(OpCreateRun, start, err, "thread_id", threadID, "assistant_id", assistantID)
	if err != nil {
		return Run{}, NewRemoteError(OpCreateRun, err)
	}
	return convertRun(*run), nil
}

// GetRun читает текущий статус запуска.
func (c *AssistantsClient) GetRun(ctx context.Context, threadID string, runID string) (Run, error) {
	run, err := c.client.Beta.Threads.Runs.Get(ctx, threadID, runID)
	if err != nil {
		return Run{}, NewRemoteError(OpGetRun, err)
	}
	return convertRun(*run), nil
}

func (c *AssistantsClient) trace(op Op, start time.Time, err error, kv ...any) {
	if c.logger == nil {
		return
	}
	kv = append([]any{"op", op, "duration", time.Since(start).String()}, kv...)
	if err != nil {
		c.logger.Errorw("OpenAI request failed", append(kv, "error", err)...)
		return
	}
	c.logger.Debugw("OpenAI request done", kv...)
}

func convertMessage(m openai.Message) Message {
	out := Message{
		ID:        m.ID,
		Role:      Role(m.Role),
		CreatedAt: time.Unix(m.CreatedAt, 0),
		Content:   make([]ContentBlock, 0, len(m.Content)),
	}
	for _, c := range m.Content {
		switch BlockType(c.Type) {
		case BlockText:
			out.Content = append(out.Content, ContentBlock{Type: BlockText, Text: c.Text.Value})
		case BlockImageFile:
			out.Content = append(out.Content, ContentBlock{Type: BlockImageFile, FileID: c.ImageFile.FileID})
		case BlockImageURL:
			out.Content = append(out.Content, ContentBlock{Type: BlockImageURL, URL: c.ImageURL.URL})
		case BlockRefusal:
			out.Content = append(out.Content, ContentBlock{Type: BlockRefusal, Text: c.Refusal})
		}
	}
	return out
}

func convertRun(r openai.Run) Run {
	return Run{ID: r.ID, Status: RunStatus(r.Status), LastError: r.LastError.Message}
}
