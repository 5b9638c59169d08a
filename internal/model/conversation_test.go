package model

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveTitle(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{name: "first line only", content: "Hello\nworld", want: "Hello"},
		{name: "short verbatim", content: "What is Go?", want: "What is Go?"},
		{name: "exactly the cap", content: strings.Repeat("b", 30), want: strings.Repeat("b", 30)},
		{name: "truncated with ellipsis", content: strings.Repeat("a", 45), want: strings.Repeat("a", 30) + "..."},
		{name: "counts characters not bytes", content: strings.Repeat("я", 31), want: strings.Repeat("я", 30) + "..."},
		{name: "empty first line", content: "\nsecond", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveTitle(tt.content))
		})
	}
}

func TestDeriveTitle_LongContentLength(t *testing.T) {
	title := DeriveTitle(strings.Repeat("a", 45))
	assert.Len(t, title, 33)
}

func TestConversation_History(t *testing.T) {
	chat := Conversation{
		Messages: []Message{
			{Role: RoleUser, Content: "hi"},
			{Role: RoleAssistant, Content: "hello"},
			{Role: RoleUser, Content: "again"},
			{Role: RoleAssistant, Content: ""},
		},
	}

	history := chat.History()
	assert.Equal(t, chat.Messages[:3], history)

	history[0].Content = "changed"
	assert.Equal(t, "hi", chat.Messages[0].Content)
}

func TestConversation_HasUserMessage(t *testing.T) {
	assert.False(t, Conversation{}.HasUserMessage())
	assert.False(t, Conversation{Messages: []Message{{Role: RoleAssistant}}}.HasUserMessage())
	assert.True(t, Conversation{Messages: []Message{{Role: RoleUser, Content: "x"}}}.HasUserMessage())
}

func TestParseRole(t *testing.T) {
	role, ok := ParseRole("user")
	assert.True(t, ok)
	assert.Equal(t, RoleUser, role)

	_, ok = ParseRole("system")
	assert.False(t, ok)
	assert.True(t, RoleAssistant.Valid())
}
