package model

import (
	"strings"
	"time"
	"unicode/utf8"
)

const (
	DefaultTitle   = "New Chat"
	TitleMaxLength = 30
	TitleEllipsis  = "..."
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// DeriveTitle returns the first line of content, cut to TitleMaxLength
// characters with TitleEllipsis appended when it is longer.
func DeriveTitle(content string) string {
	firstLine, _, _ := strings.Cut(content, "\n")
	if utf8.RuneCountInString(firstLine) <= TitleMaxLength {
		return firstLine
	}
	runes := []rune(firstLine)
	return string(runes[:TitleMaxLength]) + TitleEllipsis
}

// HasUserMessage reports whether a user-role message was already appended,
// which means the title is frozen.
func (c Conversation) HasUserMessage() bool {
	for _, message := range c.Messages {
		if message.Role == RoleUser {
			return true
		}
	}
	return false
}

// History returns role and content pairs in order. A trailing empty assistant
// placeholder is left out since it carries nothing for the model yet.
func (c Conversation) History() []Message {
	messages := c.Messages
	if n := len(messages); n > 0 && messages[n-1].Role == RoleAssistant && messages[n-1].Content == "" {
		messages = messages[:n-1]
	}
	history := make([]Message, len(messages))
	copy(history, messages)
	return history
}

// Clone returns a copy that does not share the message slice.
func (c Conversation) Clone() Conversation {
	messages := make([]Message, len(c.Messages))
	copy(messages, c.Messages)
	c.Messages = messages
	return c
}
