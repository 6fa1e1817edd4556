package ai

import (
	"context"
	"time"
)

// Role: автор сообщения в треде.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// BlockType: тип блока содержимого сообщения.
type BlockType string

const (
	BlockText      BlockType = "text"
	BlockImageFile BlockType = "image_file"
	BlockImageURL  BlockType = "image_url"
	BlockRefusal   BlockType = "refusal"
)

// ContentBlock: один блок содержимого сообщения. Для BlockText и BlockRefusal заполнен Text,
// для BlockImageFile: FileID, для BlockImageURL: URL.
type ContentBlock struct {
	Type   BlockType
	Text   string
	FileID string
	URL    string
}

// TextBlock создаёт текстовый блок.
func TextBlock(text string) ContentBlock { return ContentBlock{Type: BlockText, Text: text} }

// ImageFileBlock создаёт ссылку на ранее загруженный файл.
func ImageFileBlock(fileID string) ContentBlock {
	return ContentBlock{Type: BlockImageFile, FileID: fileID}
}

// IsImage сообщает, что блок ссылается на изображение (файл или URL).
func (b ContentBlock) IsImage() bool {
	return b.Type == BlockImageFile || b.Type == BlockImageURL
}

// Message: сообщение треда в том виде, в каком его отдаёт сервер.
type Message struct {
	ID        string
	Role      Role
	CreatedAt time.Time
	Content   []ContentBlock
}

// RunStatus: статус запуска ассистента.
type RunStatus string

const (
	RunStatusQueued         RunStatus = "queued"
	RunStatusInProgress     RunStatus = "in_progress"
	RunStatusRequiresAction RunStatus = "requires_action"
	RunStatusCancelling     RunStatus = "cancelling"
	RunStatusCompleted      RunStatus = "completed"
	RunStatusFailed         RunStatus = "failed"
	RunStatusCancelled      RunStatus = "cancelled"
	RunStatusExpired        RunStatus = "expired"
	RunStatusIncomplete     RunStatus = "incomplete"
)

// Terminal сообщает, что запуск завершён и больше не изменится.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled, RunStatusExpired, RunStatusIncomplete:
		return true
	default:
		return false
	}
}

// Run: состояние запуска.
type Run struct {
	ID        string
	Status    RunStatus
	LastError string
}

// File: файл для загрузки с purpose=assistants.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// ThreadsClient описывает операции Assistants API, нужные чату. Все реализации взаимозаменяемы.
type ThreadsClient interface {
	CreateThread(ctx context.Context) (string, error)
	UploadFile(ctx context.Context, f File) (string, error)
	CreateMessage(ctx context.Context, threadID string, role Role, content []ContentBlock) (Message, error)
	ListMessages(ctx context.Context, threadID string) ([]Message, error)
	CreateRun(ctx context.Context, threadID string, assistantID string) (Run, error)
	GetRun(ctx context.Context, threadID string, runID string) (Run, error)
}
