package localconversation

import (
	"errors"
	"slices"
	"sync"

	"AssistantChat/internal/service/chat"
)

// ErrThreadAlreadySet: попытка сменить тред у уже начатого диалога.
var ErrThreadAlreadySet = errors.New("thread id already set")

// State хранит состояние одного диалога на стороне приложения: ID треда и историю.
// Тред задаётся один раз, история заменяется целиком. Читать можно из нескольких горутин.
type State struct {
	mu       sync.RWMutex
	threadID string
	history  []chat.Turn
}

// New создаёт пустой диалог.
func New() *State {
	return &State{}
}

// ThreadID возвращает ID треда или пустую строку, если тред ещё не создан.
func (s *State) ThreadID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.threadID
}

// SetThreadID запоминает тред. Повторная установка того же ID допустима, другого: нет.
func (s *State) SetThreadID(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.threadID != "" && s.threadID != id {
		return ErrThreadAlreadySet
	}
	s.threadID = id
	return nil
}

// History возвращает копию истории.
func (s *State) History() []chat.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.history)
}

// ReplaceHistory заменяет историю целиком.
func (s *State) ReplaceHistory(turns []chat.Turn) {
	s.mu.Lock()
	s.history = slices.Clone(turns)
	s.mu.Unlock()
}

// Snapshot возвращает ID треда и копию истории, снятые атомарно.
func (s *State) Snapshot() (string, []chat.Turn) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.threadID, slices.Clone(s.history)
}
