package companion

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"AssistantChat/internal/adapter/localconversation"
	"AssistantChat/internal/ai"
	"AssistantChat/internal/service/chat"
	"AssistantChat/internal/service/events"
)

const instruction = "Responda em português do Brasil."

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(_ context.Context, e events.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) kinds() []events.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Kind, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

func newCompanion(t *testing.T, stub *ai.StubClient, sink events.Sink, mod func(*Options)) *Companion {
	t.Helper()
	opts := Options{
		AssistantID:  "asst_test",
		Instruction:  instruction,
		PollInterval: time.Millisecond,
		RunTimeout:   5 * time.Second,
	}
	if mod != nil {
		mod(&opts)
	}
	return NewCompanion(stub, opts, sink, zaptest.NewLogger(t).Sugar())
}

func TestEnsureThread_CreatesOnce(t *testing.T) {
	stub := ai.NewStubClient()
	c := newCompanion(t, stub, nil, nil)
	state := localconversation.New()

	first, err := c.EnsureThread(context.Background(), state)
	require.NoError(t, err)
	second, err := c.EnsureThread(context.Background(), state)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, first, state.ThreadID())
	assert.Equal(t, 1, stub.Calls(ai.OpCreateThread))
}

func TestEnsureThread_FailureLeavesThreadEmpty(t *testing.T) {
	stub := ai.NewStubClient()
	stub.FailOn(ai.OpCreateThread, errors.New("boom"))
	c := newCompanion(t, stub, nil, nil)
	state := localconversation.New()

	_, err := c.EnsureThread(context.Background(), state)
	require.Error(t, err)
	assert.True(t, ai.IsRemote(err))
	assert.Empty(t, state.ThreadID())

	stub.FailOn(ai.OpCreateThread, nil)
	id, err := c.EnsureThread(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, id, state.ThreadID())
	assert.Equal(t, 2, stub.Calls(ai.OpCreateThread))
}

func TestSubmitTurn_UploadFailureSendsNothing(t *testing.T) {
	stub := ai.NewStubClient()
	stub.FailOn(ai.OpUploadFile, errors.New("too large"))
	c := newCompanion(t, stub, nil, nil)
	th, err := stub.CreateThread(context.Background())
	require.NoError(t, err)

	err = c.SubmitTurn(context.Background(), th, "veja", &ai.File{Name: "a.png", Data: []byte{1}})
	var re *ai.RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, ai.OpUploadFile, re.Op)
	assert.Equal(t, 0, stub.Calls(ai.OpCreateMessage))
	assert.Empty(t, stub.Messages(th))
}

func TestSubmitTurn_TextThenImage(t *testing.T) {
	stub := ai.NewStubClient()
	c := newCompanion(t, stub, nil, nil)
	th, err := stub.CreateThread(context.Background())
	require.NoError(t, err)

	img := &ai.File{Name: "cat.png", ContentType: "image/png", Data: []byte("png")}
	require.NoError(t, c.SubmitTurn(context.Background(), th, "o que é isso?", img))

	msgs := stub.Messages(th)
	require.Len(t, msgs, 1)
	require.Len(t, msgs[0].Content, 2)
	assert.Equal(t, ai.TextBlock("o que é isso?\n"+instruction), msgs[0].Content[0])
	assert.Equal(t, ai.BlockImageFile, msgs[0].Content[1].Type)

	f, ok := stub.File(msgs[0].Content[1].FileID)
	require.True(t, ok)
	assert.Equal(t, img.Data, f.Data)
}

func TestSubmitTurn_EmptyInstruction(t *testing.T) {
	stub := ai.NewStubClient()
	c := newCompanion(t, stub, nil, func(o *Options) { o.Instruction = "" })
	th, err := stub.CreateThread(context.Background())
	require.NoError(t, err)

	require.NoError(t, c.SubmitTurn(context.Background(), th, "hi", nil))
	assert.Equal(t, "hi", stub.Messages(th)[0].Content[0].Text)
}

func TestSend_EndToEnd(t *testing.T) {
	stub := ai.NewStubClient()
	stub.SetRunStatuses(ai.RunStatusQueued, ai.RunStatusInProgress, ai.RunStatusCompleted)
	stub.SetReply(func(ai.Message) string { return "4" })
	rec := &recorder{}
	c := newCompanion(t, stub, rec, nil)
	state := localconversation.New()

	status, err := c.Send(context.Background(), state, "What is 2+2?", nil)
	require.NoError(t, err)
	assert.Equal(t, ai.RunStatusCompleted, status)

	msgs := stub.Messages(state.ThreadID())
	require.Len(t, msgs, 2)
	assert.Equal(t, "What is 2+2?\n"+instruction, msgs[0].Content[0].Text)

	assert.Equal(t, []chat.Turn{
		{Role: ai.RoleUser, Content: "What is 2+2?"},
		{Role: ai.RoleAssistant, Content: "4"},
	}, state.History())

	assert.Equal(t, []events.Kind{
		events.KindThreadCreated,
		events.KindMessageSent,
		events.KindRunStarted,
		events.KindRunStatus, // in_progress
		events.KindRunStatus, // completed
		events.KindHistoryUpdated,
	}, rec.kinds())
}

func TestSend_SecondTurnReusesThread(t *testing.T) {
	stub := ai.NewStubClient()
	c := newCompanion(t, stub, nil, nil)
	state := localconversation.New()

	_, err := c.Send(context.Background(), state, "um", nil)
	require.NoError(t, err)
	_, err = c.Send(context.Background(), state, "dois", &ai.File{Name: "a.png", Data: []byte{1}})
	require.NoError(t, err)

	assert.Equal(t, 1, stub.Calls(ai.OpCreateThread))
	assert.Equal(t, []chat.Turn{
		{Role: ai.RoleUser, Content: "um"},
		{Role: ai.RoleAssistant, Content: ai.StubReply},
		{Role: ai.RoleUser, Content: "dois"},
		{Role: ai.RoleUser, Content: chat.ImagePlaceholder},
		{Role: ai.RoleAssistant, Content: ai.StubReply},
	}, state.History())
}

func TestSend_EmptyTextMakesNoCalls(t *testing.T) {
	stub := ai.NewStubClient()
	c := newCompanion(t, stub, nil, nil)

	_, err := c.Send(context.Background(), localconversation.New(), "   ", nil)
	require.ErrorIs(t, err, ErrEmptyText)
	assert.Equal(t, 0, stub.Calls(ai.OpCreateThread))
}

func TestSend_FailedRunStillRefreshes(t *testing.T) {
	stub := ai.NewStubClient()
	stub.SetRunStatuses(ai.RunStatusFailed)
	c := newCompanion(t, stub, nil, nil)
	state := localconversation.New()

	status, err := c.Send(context.Background(), state, "oi", nil)
	require.NoError(t, err)
	assert.Equal(t, ai.RunStatusFailed, status)
	assert.Equal(t, []chat.Turn{{Role: ai.RoleUser, Content: "oi"}}, state.History())
}

func TestSend_PollErrorKeepsHistory(t *testing.T) {
	stub := ai.NewStubClient()
	c := newCompanion(t, stub, nil, nil)
	state := localconversation.New()
	_, err := c.Send(context.Background(), state, "um", nil)
	require.NoError(t, err)
	before := state.History()

	stub.FailOn(ai.OpGetRun, errors.New("bad gateway"))
	_, err = c.Send(context.Background(), state, "dois", nil)
	var re *ai.RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, ai.OpGetRun, re.Op)
	assert.Equal(t, 2, stub.Calls(ai.OpGetRun), "poll errors are not retried")
	assert.Equal(t, before, state.History())
	assert.NotEmpty(t, state.ThreadID())
}

func TestRunToCompletion_Timeout(t *testing.T) {
	stub := ai.NewStubClient()
	stub.SetRunStatuses(ai.RunStatusInProgress)
	c := newCompanion(t, stub, nil, func(o *Options) { o.RunTimeout = 30 * time.Millisecond })
	state := localconversation.New()
	state.ReplaceHistory([]chat.Turn{{Role: ai.RoleUser, Content: "antes"}})

	status, err := c.Send(context.Background(), state, "oi", nil)
	require.ErrorIs(t, err, ErrRunTimeout)
	assert.NotErrorIs(t, err, ErrRunCancelled)
	assert.Equal(t, ai.RunStatusInProgress, status)
	assert.Equal(t, []chat.Turn{{Role: ai.RoleUser, Content: "antes"}}, state.History())
	assert.Equal(t, 0, stub.Calls(ai.OpListMessages))
}

func TestRunToCompletion_MaxPollAttempts(t *testing.T) {
	stub := ai.NewStubClient()
	stub.SetRunStatuses(ai.RunStatusRequiresAction)
	c := newCompanion(t, stub, nil, func(o *Options) { o.MaxPollAttempts = 3 })
	th, err := stub.CreateThread(context.Background())
	require.NoError(t, err)

	_, err = c.RunToCompletion(context.Background(), th)
	require.ErrorIs(t, err, ErrRunTimeout)
	assert.Equal(t, 3, stub.Calls(ai.OpGetRun))
}

func TestRunToCompletion_Cancelled(t *testing.T) {
	stub := ai.NewStubClient()
	stub.SetRunStatuses(ai.RunStatusQueued, ai.RunStatusInProgress)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink := events.SinkFunc(func(_ context.Context, e events.Event) {
		if e.Kind == events.KindRunStatus {
			cancel()
		}
	})
	c := newCompanion(t, stub, sink, nil)
	th, err := stub.CreateThread(context.Background())
	require.NoError(t, err)

	_, err = c.RunToCompletion(ctx, th)
	require.ErrorIs(t, err, ErrRunCancelled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrRunTimeout)
}

func TestRefresh_NoThread(t *testing.T) {
	c := newCompanion(t, ai.NewStubClient(), nil, nil)
	_, err := c.Refresh(context.Background(), localconversation.New())
	assert.ErrorIs(t, err, ErrNoThread)
}

func TestSend_PublishesCycleFailed(t *testing.T) {
	stub := ai.NewStubClient()
	stub.FailOn(ai.OpCreateRun, errors.New("nope"))
	rec := &recorder{}
	c := newCompanion(t, stub, rec, nil)

	_, err := c.Send(events.WithCycleID(context.Background(), "cycle-1"), localconversation.New(), "oi", nil)
	require.Error(t, err)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	last := rec.events[len(rec.events)-1]
	assert.Equal(t, events.KindCycleFailed, last.Kind)
	assert.Equal(t, "cycle-1", last.CycleID)
	assert.Contains(t, last.Error, "create_run")
}

func TestSend_CancelledOutsidePolling(t *testing.T) {
	t.Run("before thread", func(t *testing.T) {
		stub := ai.NewStubClient()
		c := newCompanion(t, stub, nil, nil)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := c.Send(ctx, localconversation.New(), "oi", nil)
		require.ErrorIs(t, err, ErrRunCancelled)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("after thread created", func(t *testing.T) {
		stub := ai.NewStubClient()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		sink := events.SinkFunc(func(_ context.Context, e events.Event) {
			if e.Kind == events.KindThreadCreated {
				cancel()
			}
		})
		c := newCompanion(t, stub, sink, nil)
		state := localconversation.New()

		_, err := c.Send(ctx, state, "oi", nil)
		require.ErrorIs(t, err, ErrRunCancelled)
		assert.NotErrorIs(t, err, ErrRunTimeout)
		assert.NotEmpty(t, state.ThreadID())
		assert.Empty(t, state.History())
		assert.Equal(t, 0, stub.Calls(ai.OpCreateRun))
	})
}

func TestSend_RemoteFailureIsNotCancellation(t *testing.T) {
	stub := ai.NewStubClient()
	stub.FailOn(ai.OpCreateRun, errors.New("nope"))
	c := newCompanion(t, stub, nil, nil)

	_, err := c.Send(context.Background(), localconversation.New(), "oi", nil)
	require.Error(t, err)
	assert.True(t, ai.IsRemote(err))
	assert.NotErrorIs(t, err, ErrRunCancelled)
}

func TestSend_CreateMessageFailureKeepsThread(t *testing.T) {
	stub := ai.NewStubClient()
	stub.FailOn(ai.OpCreateMessage, errors.New("bad request"))
	c := newCompanion(t, stub, nil, nil)
	state := localconversation.New()

	_, err := c.Send(context.Background(), state, "um", nil)
	var re *ai.RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, ai.OpCreateMessage, re.Op)
	threadID := state.ThreadID()
	assert.NotEmpty(t, threadID)
	assert.Empty(t, state.History())
	assert.Equal(t, 0, stub.Calls(ai.OpCreateRun))

	stub.FailOn(ai.OpCreateMessage, nil)
	_, err = c.Send(context.Background(), state, "dois", nil)
	require.NoError(t, err)
	assert.Equal(t, threadID, state.ThreadID())
	assert.Equal(t, 1, stub.Calls(ai.OpCreateThread))
	assert.Equal(t, []chat.Turn{
		{Role: ai.RoleUser, Content: "dois"},
		{Role: ai.RoleAssistant, Content: ai.StubReply},
	}, state.History())
}

func TestSend_ListMessagesFailureKeepsHistory(t *testing.T) {
	stub := ai.NewStubClient()
	c := newCompanion(t, stub, nil, nil)
	state := localconversation.New()
	_, err := c.Send(context.Background(), state, "um", nil)
	require.NoError(t, err)
	before := state.History()

	stub.FailOn(ai.OpListMessages, errors.New("unavailable"))
	status, err := c.Send(context.Background(), state, "dois", nil)
	var re *ai.RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, ai.OpListMessages, re.Op)
	assert.Equal(t, ai.RunStatusCompleted, status)
	assert.Equal(t, before, state.History())
}

func TestSend_TerminalStatusesRefresh(t *testing.T) {
	for _, st := range []ai.RunStatus{
		ai.RunStatusFailed,
		ai.RunStatusCancelled,
		ai.RunStatusExpired,
		ai.RunStatusIncomplete,
	} {
		t.Run(string(st), func(t *testing.T) {
			stub := ai.NewStubClient()
			stub.SetRunStatuses(st)
			rec := &recorder{}
			c := newCompanion(t, stub, rec, nil)
			state := localconversation.New()

			status, err := c.Send(context.Background(), state, "oi", nil)
			require.NoError(t, err)
			assert.Equal(t, st, status)
			assert.Equal(t, 1, stub.Calls(ai.OpListMessages))
			assert.Equal(t, []chat.Turn{{Role: ai.RoleUser, Content: "oi"}}, state.History())
			assert.Contains(t, rec.kinds(), events.KindHistoryUpdated)
		})
	}
}
