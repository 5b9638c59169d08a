package usecase

import (
	"encoding/json"
	"strings"

	"github.com/sashabaranov/go-openai"
)

const (
	framePrefix   = "data:"
	frameSentinel = "[DONE]"
)

type FrameKind int

const (
	// FrameIgnored covers blank separators, comments and non-data fields.
	FrameIgnored FrameKind = iota
	FrameDelta
	FrameDone
	FrameMalformed
)

func (k FrameKind) String() string {
	switch k {
	case FrameDelta:
		return "delta"
	case FrameDone:
		return "done"
	case FrameMalformed:
		return "malformed"
	default:
		return "ignored"
	}
}

type Frame struct {
	Kind    FrameKind
	Content string
	Err     error
}

// DecodeFrame classifies one line of an upstream event stream. A delta frame
// may carry empty content, for example the opening role-only frame.
func DecodeFrame(line string) Frame {
	line = strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(line, framePrefix) {
		return Frame{Kind: FrameIgnored}
	}
	data := strings.TrimSpace(strings.TrimPrefix(line, framePrefix))
	if data == frameSentinel {
		return Frame{Kind: FrameDone}
	}

	var chunk openai.ChatCompletionStreamResponse
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		return Frame{Kind: FrameMalformed, Err: err}
	}
	if len(chunk.Choices) == 0 {
		return Frame{Kind: FrameDelta}
	}
	return Frame{Kind: FrameDelta, Content: chunk.Choices[0].Delta.Content}
}
