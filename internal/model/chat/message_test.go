package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckSequence(t *testing.T) {
	user := Message{ID: "u", Role: RoleUser}
	assistant := Message{ID: "a", Role: RoleAssistant}

	require.NoError(t, CheckSequence(nil))
	require.NoError(t, CheckSequence([]Message{user, assistant, user, assistant}))
	require.NoError(t, CheckSequence([]Message{user, user, assistant}))

	err := CheckSequence([]Message{assistant})
	assert.ErrorIs(t, err, ErrInvalidSequence)

	err = CheckSequence([]Message{user, assistant, assistant})
	assert.ErrorIs(t, err, ErrInvalidSequence)

	err = CheckSequence([]Message{user, {ID: "s", Role: "system"}})
	assert.ErrorIs(t, err, ErrInvalidSequence)
}

func TestCloneMessagesIsIndependent(t *testing.T) {
	original := []Message{{ID: "1", Role: RoleUser, Content: "hi"}}
	copied := CloneMessages(original)
	copied[0].Content = "changed"

	assert.Equal(t, "hi", original[0].Content)
	assert.Nil(t, CloneMessages(nil))
}

func TestSessionPlaceholderTitle(t *testing.T) {
	assert.True(t, Session{}.HasPlaceholderTitle())
	assert.True(t, Session{Title: DefaultTitle}.HasPlaceholderTitle())
	assert.False(t, Session{Title: "递归讲解"}.HasPlaceholderTitle())
}
