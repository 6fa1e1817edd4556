package localconversation

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AssistantChat/internal/ai"
	"AssistantChat/internal/service/chat"
)

func TestState_ThreadSetOnce(t *testing.T) {
	s := New()
	assert.Empty(t, s.ThreadID())

	require.NoError(t, s.SetThreadID("thread_1"))
	require.NoError(t, s.SetThreadID("thread_1"))
	assert.ErrorIs(t, s.SetThreadID("thread_2"), ErrThreadAlreadySet)
	assert.Equal(t, "thread_1", s.ThreadID())
}

func TestState_HistoryIsCopied(t *testing.T) {
	s := New()
	in := []chat.Turn{{Role: ai.RoleUser, Content: "oi"}}
	s.ReplaceHistory(in)
	in[0].Content = "changed"

	got := s.History()
	assert.Equal(t, "oi", got[0].Content)
	got[0].Content = "changed again"
	assert.Equal(t, "oi", s.History()[0].Content)

	s.ReplaceHistory(nil)
	assert.Empty(t, s.History())
}

func TestState_ConcurrentReaders(t *testing.T) {
	s := New()
	require.NoError(t, s.SetThreadID("thread_1"))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				id, h := s.Snapshot()
				assert.Equal(t, "thread_1", id)
				assert.LessOrEqual(t, len(h), 2)
			}
		}()
	}
	for j := 0; j < 100; j++ {
		s.ReplaceHistory([]chat.Turn{{Role: ai.RoleUser, Content: "a"}, {Role: ai.RoleAssistant, Content: "b"}})
	}
	wg.Wait()
}
