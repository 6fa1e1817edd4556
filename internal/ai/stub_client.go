package ai

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// StubReply: ответ заглушки ассистента по последнему сообщению пользователя.
const StubReply = "запрос получен"

// StubClient заглушка, которая не делает реальных запросов: держит треды в памяти,
// считает вызовы и умеет отдавать заданные ошибки и последовательности статусов.
type StubClient struct {
	mu       sync.Mutex
	seq      int
	clock    time.Time
	threads  map[string][]Message
	files    map[string]File
	runs     map[string]*stubRun
	statuses []RunStatus
	reply    func(last Message) string
	fail     map[Op]error
	calls    map[Op]int
}

type stubRun struct {
	threadID string
	polls    int
	replied  bool
}

func NewStubClient() *StubClient {
	return &StubClient{
		clock:    time.Unix(1_700_000_000, 0),
		threads:  map[string][]Message{},
		files:    map[string]File{},
		runs:     map[string]*stubRun{},
		statuses: []RunStatus{RunStatusCompleted},
		reply:    func(Message) string { return StubReply },
		fail:     map[Op]error{},
		calls:    map[Op]int{},
	}
}

// SetRunStatuses задаёт статусы, которые вернут последовательные GetRun одного запуска.
// Последний статус повторяется.
func (s *StubClient) SetRunStatuses(statuses ...RunStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(statuses) == 0 {
		statuses = []RunStatus{RunStatusCompleted}
	}
	s.statuses = statuses
}

// SetReply задаёт генератор ответа ассистента.
func (s *StubClient) SetReply(fn func(last Message) string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reply = fn
}

// FailOn заставляет операцию op возвращать err. nil снимает ошибку.
func (s *StubClient) FailOn(op Op, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.fail, op)
		return
	}
	s.fail[op] = err
}

// Calls возвращает число вызовов операции.
func (s *StubClient) Calls(op Op) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// Messages возвращает копию сообщений треда.
func (s *StubClient) Messages(threadID string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.threads[threadID]...)
}

// File возвращает загруженный файл по ID.
func (s *StubClient) File(id string) (File, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[id]
	return f, ok
}

func (s *StubClient) CreateThread(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, OpCreateThread); err != nil {
		return "", err
	}
	id := s.nextID("thread")
	s.threads[id] = nil
	return id, nil
}

func (s *StubClient) UploadFile(ctx context.Context, f File) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, OpUploadFile); err != nil {
		return "", err
	}
	id := s.nextID("file")
	s.files[id] = f
	return id, nil
}

func (s *StubClient) CreateMessage(ctx context.Context, threadID string, role Role, content []ContentBlock) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, OpCreateMessage); err != nil {
		return Message{}, err
	}
	if _, ok := s.threads[threadID]; !ok {
		return Message{}, s.notFound(OpCreateMessage, "thread", threadID)
	}
	return s.appendMessage(threadID, role, append([]ContentBlock(nil), content...)), nil
}

func (s *StubClient) ListMessages(ctx context.Context, threadID string) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, OpListMessages); err != nil {
		return nil, err
	}
	msgs, ok := s.threads[threadID]
	if !ok {
		return nil, s.notFound(OpListMessages, "thread", threadID)
	}
	return append([]Message(nil), msgs...), nil
}

func (s *StubClient) CreateRun(ctx context.Context, threadID string, assistantID string) (Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, OpCreateRun); err != nil {
		return Run{}, err
	}
	if _, ok := s.threads[threadID]; !ok {
		return Run{}, s.notFound(OpCreateRun, "thread", threadID)
	}
	if assistantID == "" {
		return Run{}, &RemoteError{Op: OpCreateRun, StatusCode: 400, Err: errors.New("assistant_id is required")}
	}
	id := s.nextID("run")
	s.runs[id] = &stubRun{threadID: threadID}
	return Run{ID: id, Status: RunStatusQueued}, nil
}

func (s *StubClient) GetRun(ctx context.Context, threadID string, runID string) (Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, OpGetRun); err != nil {
		return Run{}, err
	}
	r, ok := s.runs[runID]
	if !ok || r.threadID != threadID {
		return Run{}, s.notFound(OpGetRun, "run", runID)
	}
	status := s.statuses[min(r.polls, len(s.statuses)-1)]
	r.polls++
	if status == RunStatusCompleted && !r.replied {
		r.replied = true
		var last Message
		for _, m := range s.threads[threadID] {
			if m.Role == RoleUser {
				last = m
			}
		}
		s.appendMessage(threadID, RoleAssistant, []ContentBlock{TextBlock(s.reply(last))})
	}
	return Run{ID: runID, Status: status}, nil
}

func (s *StubClient) enter(ctx context.Context, op Op) error {
	s.calls[op]++
	if err := ctx.Err(); err != nil {
		return &RemoteError{Op: op, Err: err}
	}
	if err, ok := s.fail[op]; ok {
		if IsRemote(err) {
			return err
		}
		return &RemoteError{Op: op, StatusCode: 500, Err: err}
	}
	return nil
}

func (s *StubClient) appendMessage(threadID string, role Role, content []ContentBlock) Message {
	s.clock = s.clock.Add(time.Second)
	m := Message{ID: s.nextID("msg"), Role: role, CreatedAt: s.clock, Content: content}
	s.threads[threadID] = append(s.threads[threadID], m)
	return m
}

func (s *StubClient) nextID(prefix string) string {
	s.seq++
	return fmt.Sprintf("%s_%d", prefix, s.seq)
}

func (s *StubClient) notFound(op Op, kind, id string) error {
	return &RemoteError{Op: op, StatusCode: 404, Err: fmt.Errorf("no %s found with id '%s'", kind, id)}
}
