package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/iamvkosarev/llm-chat-relay/config"
	"github.com/iamvkosarev/llm-chat-relay/internal/model"
	"github.com/iamvkosarev/llm-chat-relay/pkg/local"
	"github.com/sourcegraph/conc"
)

const readBufferSize = 4096

var FallbackMessage = local.NewSet(
	"Sorry, something went wrong. Please try again.",
	local.NewTrans(local.Rus, "Извините, что-то пошло не так. Попробуйте еще раз."),
)

// Relay turns a message history into a plain text stream of the answer.
type Relay interface {
	Chat(ctx context.Context, messages []model.Message, chatModel string) (io.ReadCloser, error)
}

type SubmissionState int32

const (
	StateIdle SubmissionState = iota
	StateAwaitingConversation
	StateMessageAppended
	StateStreamOpen
	StateStreaming
	StateCompleted
	StateFailed
)

func (s SubmissionState) String() string {
	switch s {
	case StateAwaitingConversation:
		return "awaiting_conversation"
	case StateMessageAppended:
		return "message_appended"
	case StateStreamOpen:
		return "stream_open"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "idle"
	}
}

type ChatUsecaseDeps struct {
	Store  *ChatStore
	Relay  Relay
	Logger *slog.Logger
	// Observer sees the conversation after every write made by a submission.
	Observer func(chat model.Conversation)
}

// ChatUsecase runs one submission at a time: user message, assistant
// placeholder, then the streamed answer folded into the placeholder.
type ChatUsecase struct {
	ChatUsecaseDeps
	fallback string
	submitMu sync.Mutex
	state    atomic.Int32
}

func NewChatUsecase(deps ChatUsecaseDeps, cfg config.Chat) *ChatUsecase {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &ChatUsecase{
		ChatUsecaseDeps: deps,
		fallback:        FallbackMessage.Text(local.Language(cfg.Language)),
	}
}

func (c *ChatUsecase) State() SubmissionState {
	return SubmissionState(c.state.Load())
}

// Submit sends input in the current chat, creating one when none is selected.
// Once the user message is stored every failure ends with the fallback
// assistant message; the cause is still returned.
func (c *ChatUsecase) Submit(ctx context.Context, input string) (model.Conversation, error) {
	text := strings.TrimSpace(input)
	if text == "" {
		return model.Conversation{}, model.ErrEmptyInput
	}
	if !c.submitMu.TryLock() {
		return model.Conversation{}, model.ErrSubmissionInProgress
	}
	defer func() {
		c.setState(StateIdle)
		c.submitMu.Unlock()
	}()

	c.setState(StateAwaitingConversation)
	chat, err := c.currentOrNewChat()
	if err != nil {
		c.setState(StateFailed)
		return model.Conversation{}, err
	}

	chat, ok, err := c.Store.Append(chat.ID, model.Message{Role: model.RoleUser, Content: text})
	if err != nil {
		c.setState(StateFailed)
		return model.Conversation{}, fmt.Errorf("failed to add user message: %w", err)
	}
	if !ok {
		c.setState(StateFailed)
		return model.Conversation{}, model.ErrChatDoesNotExist
	}
	c.notify(chat)
	c.setState(StateMessageAppended)

	chatID := chat.ID
	history := chat.History()
	chatModel := c.Store.SelectedModel()

	chat, ok, err = c.Store.Append(chatID, model.Message{Role: model.RoleAssistant})
	if err != nil || !ok {
		if err == nil {
			err = model.ErrChatDoesNotExist
		}
		return c.fail(chatID, false, fmt.Errorf("failed to add assistant placeholder: %w", err))
	}
	c.notify(chat)

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.setState(StateStreamOpen)
	stream, err := c.Relay.Chat(streamCtx, history, chatModel)
	if err != nil {
		return c.fail(chatID, true, fmt.Errorf("failed to open relay stream: %w", err))
	}
	defer stream.Close()

	c.setState(StateStreaming)
	started := time.Now()
	chat, err = c.consume(streamCtx, cancel, chatID, stream)
	if err != nil {
		return c.fail(chatID, true, err)
	}

	c.setState(StateCompleted)
	c.Logger.Info("submission completed", "chat_id", chatID, "model", chatModel, "duration", time.Since(started))
	return chat, nil
}

// consume reads the stream in arrival order on one goroutine and folds the
// accumulated text into the placeholder on the caller's goroutine. Every
// update is a full replacement of the answer so far.
func (c *ChatUsecase) consume(
	ctx context.Context, cancel context.CancelFunc, chatID string, stream io.Reader,
) (model.Conversation, error) {
	chunks := make(chan []byte)
	var readErr error

	wg := conc.NewWaitGroup()
	wg.Go(
		func() {
			defer close(chunks)
			buf := make([]byte, readBufferSize)
			for {
				n, err := stream.Read(buf)
				if n > 0 {
					chunk := make([]byte, n)
					copy(chunk, buf[:n])
					select {
					case chunks <- chunk:
					case <-ctx.Done():
						readErr = ctx.Err()
						return
					}
				}
				if err != nil {
					if !errors.Is(err, io.EOF) {
						readErr = err
					}
					return
				}
			}
		},
	)

	var (
		answer  []byte
		chat    model.Conversation
		foldErr error
	)
	for chunk := range chunks {
		if foldErr != nil {
			continue
		}
		answer = append(answer, chunk...)
		updated, ok, err := c.Store.ReplaceLastContent(chatID, string(answer[:completeRunes(answer)]))
		switch {
		case err != nil:
			foldErr = fmt.Errorf("failed to update answer: %w", err)
		case !ok:
			foldErr = model.ErrChatDoesNotExist
		default:
			chat = updated
			c.notify(chat)
			continue
		}
		cancel()
	}
	wg.Wait()

	if foldErr != nil {
		return model.Conversation{}, foldErr
	}
	if readErr != nil {
		return model.Conversation{}, fmt.Errorf("failed to read relay stream: %w", readErr)
	}
	if complete := completeRunes(answer); complete < len(answer) || chat.ID == "" {
		// Flush a dangling partial rune, or load the chat for an empty answer.
		updated, ok, err := c.Store.ReplaceLastContent(chatID, string(answer))
		if err != nil {
			return model.Conversation{}, fmt.Errorf("failed to update answer: %w", err)
		}
		if !ok {
			return model.Conversation{}, model.ErrChatDoesNotExist
		}
		chat = updated
		c.notify(chat)
	}
	return chat, nil
}

// fail leaves exactly one assistant message holding the fallback text,
// replacing the placeholder when it was already appended.
func (c *ChatUsecase) fail(chatID string, hasPlaceholder bool, cause error) (model.Conversation, error) {
	c.setState(StateFailed)
	c.Logger.Error("submission failed", "chat_id", chatID, "error", cause)

	var (
		chat model.Conversation
		ok   bool
		err  error
	)
	if hasPlaceholder {
		chat, ok, err = c.Store.ReplaceLastContent(chatID, c.fallback)
	} else {
		chat, ok, err = c.Store.Append(chatID, model.Message{Role: model.RoleAssistant, Content: c.fallback})
	}
	if err != nil || !ok {
		c.Logger.Error("failed to store fallback message", "chat_id", chatID, "found", ok, "error", err)
		return model.Conversation{}, cause
	}
	c.notify(chat)
	return chat, cause
}

func (c *ChatUsecase) currentOrNewChat() (model.Conversation, error) {
	if id, ok := c.Store.CurrentChatID(); ok {
		if chat, found := c.Store.Get(id); found {
			return chat, nil
		}
	}
	chat, err := c.Store.Create(c.Store.SelectedModel())
	if err != nil {
		return model.Conversation{}, fmt.Errorf("failed to create chat: %w", err)
	}
	c.notify(chat)
	return chat, nil
}

func (c *ChatUsecase) NewChat() (model.Conversation, error) {
	return c.Store.Create(c.Store.SelectedModel())
}

func (c *ChatUsecase) SelectChat(id string) (model.Conversation, bool, error) {
	return c.Store.Select(id)
}

func (c *ChatUsecase) DeleteChat(id string) error {
	return c.Store.Delete(id)
}

func (c *ChatUsecase) SwitchModel(chatModel string) error {
	return c.Store.SetSelectedModel(chatModel)
}

func (c *ChatUsecase) Chats() []model.Conversation {
	return c.Store.List()
}

func (c *ChatUsecase) Groups(now time.Time) model.RecencyGroups {
	return model.GroupByRecency(c.Store.List(), now)
}

func (c *ChatUsecase) CurrentChat() (model.Conversation, bool) {
	id, ok := c.Store.CurrentChatID()
	if !ok {
		return model.Conversation{}, false
	}
	return c.Store.Get(id)
}

func (c *ChatUsecase) setState(state SubmissionState) {
	c.state.Store(int32(state))
}

func (c *ChatUsecase) notify(chat model.Conversation) {
	if c.Observer != nil {
		c.Observer(chat.Clone())
	}
}

// completeRunes returns the length of the longest prefix of b that does not
// end inside a multi-byte character.
func completeRunes(b []byte) int {
	n := len(b)
	start := n - 1
	for start >= 0 && n-start < utf8.UTFMax && !utf8.RuneStart(b[start]) {
		start--
	}
	if start < 0 || utf8.FullRune(b[start:]) {
		return n
	}
	return start
}
