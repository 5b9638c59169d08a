package openai_tools

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"github.com/sashabaranov/go-openai"
)

const (
	tokensPerMessage = 3
	tokensPerReply   = 3
)

var encodings sync.Map

// CountToken estimates prompt tokens the way OpenAI chat models bill them.
// Models tiktoken does not know are counted with cl100k_base.
func CountToken(messages []openai.ChatCompletionMessage, model string) (int, error) {
	tkm, err := encodingFor(model)
	if err != nil {
		return 0, err
	}

	count := tokensPerReply
	for _, message := range messages {
		count += tokensPerMessage
		count += len(tkm.Encode(message.Role, nil, nil))
		count += len(tkm.Encode(message.Content, nil, nil))
		if message.Name != "" {
			count += len(tkm.Encode(message.Name, nil, nil)) + 1
		}
	}
	return count, nil
}

func encodingFor(model string) (*tiktoken.Tiktoken, error) {
	if cached, ok := encodings.Load(model); ok {
		return cached.(*tiktoken.Tiktoken), nil
	}
	tkm, err := tiktoken.EncodingForModel(model)
	if err != nil {
		tkm, err = tiktoken.GetEncoding(tiktoken.MODEL_CL100K_BASE)
		if err != nil {
			return nil, fmt.Errorf("failed to get encoding for model %s: %w", model, err)
		}
	}
	encodings.Store(model, tkm)
	return tkm, nil
}
