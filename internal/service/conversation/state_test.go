package conversation

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/eray/backend/internal/model/chat"
)

func testEnv() Env {
	ids := 0
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	return Env{
		Now: func() time.Time {
			now = now.Add(time.Second)
			return now
		},
		NewID: func() string {
			ids++
			return fmt.Sprintf("n%d", ids)
		},
	}
}

func TestSendTransitionCreatesSession(t *testing.T) {
	state := ConversationState{SystemPrompt: "p", ModelKey: "m"}

	next, effect, err := state.Send(testEnv(), "hello", nil)
	require.NoError(t, err)

	assert.Nil(t, state.Session, "input state must not change")
	require.NotNil(t, next.Session)
	assert.Equal(t, chat.DefaultTitle, next.Session.Title)
	assert.True(t, effect.CreateSession)
	assert.Equal(t, next.Session.ID, effect.SessionID)
	assert.Equal(t, "p", effect.SystemPrompt)
	assert.True(t, next.Generating)

	require.Len(t, next.Messages, 2)
	assert.Equal(t, chat.RoleUser, next.Messages[0].Role)
	assert.Equal(t, effect.Placeholder, next.Messages[1])
	assert.Equal(t, next.PendingID, effect.Placeholder.ID)
	assert.Empty(t, effect.Placeholder.Content)
	assert.Len(t, effect.History, 1)
}

func TestSendTransitionRequiresModel(t *testing.T) {
	_, _, err := ConversationState{}.Send(testEnv(), "hello", nil)
	assert.ErrorIs(t, err, ErrNoModel)
}

func TestSendTransitionAcceptsAttachmentsOnly(t *testing.T) {
	state := ConversationState{ModelKey: "m"}
	next, _, err := state.Send(testEnv(), "", []chat.ArticleRef{{Title: "A"}})
	require.NoError(t, err)
	assert.Contains(t, next.Messages[0].Content, "标题：A")
}

func TestSendTransitionDropsPendingPlaceholder(t *testing.T) {
	env := testEnv()
	state := ConversationState{ModelKey: "m"}

	first, _, err := state.Send(env, "one", nil)
	require.NoError(t, err)
	first.Messages[1].Content = "partial"

	second, effect, err := first.Send(env, "two", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"user:one", "user:two", "assistant:"}, contents(second.Messages))
	assert.Equal(t, []string{"user:one", "user:two"}, contents(effect.History))
	assert.False(t, effect.CreateSession)
	assert.Equal(t, "partial", first.Messages[1].Content)
}

func TestRegenerateTransitionWithoutSession(t *testing.T) {
	_, _, err := ConversationState{ModelKey: "m"}.Regenerate(testEnv(), 1)
	assert.ErrorIs(t, err, ErrNoActiveSession)

	_, _, err = ConversationState{ModelKey: "m"}.Edit(testEnv(), "x", "y", EditInput{})
	assert.ErrorIs(t, err, ErrNoActiveSession)
}

func TestRegenerateTransitionKeepsInputIntact(t *testing.T) {
	state := ConversationState{
		Session:  &chat.Session{ID: "s"},
		ModelKey: "m",
		Messages: []chat.Message{
			{ID: "u1", Role: chat.RoleUser, Content: "U1"},
			{ID: "a1", Role: chat.RoleAssistant, Content: "A1"},
		},
	}

	next, effect, err := state.Regenerate(testEnv(), 1)
	require.NoError(t, err)
	assert.Equal(t, "A1", state.Messages[1].Content)
	assert.Equal(t, "s", effect.SessionID)
	assert.Equal(t, []string{"user:U1"}, contents(effect.History))
	assert.Equal(t, []string{"user:U1", "assistant:"}, contents(next.Messages))
}
