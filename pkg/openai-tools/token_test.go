package openai_tools

import (
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountToken(t *testing.T) {
	if testing.Short() {
		t.Skip("encodings are fetched on first use")
	}
	short := []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: "Hi"}}
	long := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleUser, Content: "Hi"},
		{Role: openai.ChatMessageRoleAssistant, Content: "Hello! How can I help you today?"},
	}

	shortCount, err := CountToken(short, "llama3.2")
	if err != nil {
		t.Skipf("encoding unavailable: %v", err)
	}
	longCount, err := CountToken(long, "llama3.2")
	require.NoError(t, err)

	assert.Greater(t, shortCount, tokensPerReply+tokensPerMessage)
	assert.Greater(t, longCount, shortCount)

	_, ok := encodings.Load("llama3.2")
	assert.True(t, ok)
}
