package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/iamvkosarev/llm-chat-relay/internal/console"
	"github.com/iamvkosarev/llm-chat-relay/internal/model"
)

const (
	MessageWelcome         = "Write something to start a conversation. Type /help for commands."
	MessageCommandHelp     = "Commands:\n  /new              start a new chat\n  /chats            list chats by recency\n  /open N           open chat N from /chats\n  /delete N         delete chat N from /chats\n  /model [NAME]     show or switch the model\n  /models           list upstream models\n  /prompts          list suggested prompts\n  /prompt N         send suggested prompt N\n  /quit             exit"
	MessageCommandUnknown  = "I don't know that command"
	MessageNoChats         = "You have no chats yet"
	MessageNoChatSelected  = "No chat selected, your next message starts one"
	MessageChatNotFound    = "There is no chat with that number"
	MessageNewChatFormat   = "Started new chat with %s model"
	MessageModelFormat     = "Current model: %s"
	MessageModelSetFormat  = "Switched to %s model"
	MessageChatDeleted     = "Chat deleted"
	MessageFailedToGetList = "Failed to fetch models"
	MessageServerError     = "Something went wrong. Try later"
	MessageBusy            = "Still answering the previous message"

	CommandHelp    = "help"
	CommandNew     = "new"
	CommandChats   = "chats"
	CommandOpen    = "open"
	CommandDelete  = "delete"
	CommandModel   = "model"
	CommandModels  = "models"
	CommandPrompts = "prompts"
	CommandPrompt  = "prompt"
	CommandQuit    = "quit"

	commandPrefix = "/"
	inputPrompt   = "> "
)

var errQuit = errors.New("quit")

type LineReader interface {
	ReadLine(prompt string) (string, error)
}

type Renderer interface {
	Render(markdown string) (string, error)
}

type ModelCatalog interface {
	ListModels(ctx context.Context) ([]model.ModelInfo, error)
}

type TerminalUsecaseDeps struct {
	Chat     *ChatUsecase
	Models   ModelCatalog
	Renderer Renderer
	Logger   *slog.Logger
}

// TerminalUsecase is a line-oriented chat client. Answers are printed as
// they stream in; /open re-renders a whole chat as markdown.
type TerminalUsecase struct {
	TerminalUsecaseDeps
	out     io.Writer
	now     func() time.Time
	mu      sync.Mutex
	chatID  string
	length  int
	printed string
}

func NewTerminalUsecase(deps TerminalUsecaseDeps, out io.Writer) *TerminalUsecase {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &TerminalUsecase{
		TerminalUsecaseDeps: deps,
		out:                 out,
		now:                 time.Now,
	}
}

// Observe prints the growth of the streamed answer. Wire it as the
// ChatUsecase observer.
func (t *TerminalUsecase) Observe(chat model.Conversation) {
	if len(chat.Messages) == 0 {
		return
	}
	last := chat.Messages[len(chat.Messages)-1]
	if last.Role != model.RoleAssistant {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if chat.ID != t.chatID || len(chat.Messages) != t.length {
		t.chatID = chat.ID
		t.length = len(chat.Messages)
		t.printed = ""
	}
	switch {
	case strings.HasPrefix(last.Content, t.printed):
		t.write(last.Content[len(t.printed):])
	default:
		// The answer was replaced, e.g. by the fallback text.
		t.write("\n" + last.Content)
	}
	t.printed = last.Content
}

func (t *TerminalUsecase) Run(ctx context.Context, input LineReader) error {
	t.println(MessageWelcome)
	for ctx.Err() == nil {
		line, err := input.ReadLine(inputPrompt)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, console.ErrAborted) {
				return nil
			}
			return fmt.Errorf("failed to read input: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err = t.handleLine(ctx, line); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			t.Logger.Error("failed to handle input", "error", err)
		}
	}
	return nil
}

func (t *TerminalUsecase) handleLine(ctx context.Context, line string) error {
	if !strings.HasPrefix(line, commandPrefix) {
		return t.submit(ctx, line)
	}
	command, arg, _ := strings.Cut(strings.TrimPrefix(line, commandPrefix), " ")
	arg = strings.TrimSpace(arg)

	switch command {
	case CommandHelp:
		t.println(MessageCommandHelp)
	case CommandNew:
		chat, err := t.Chat.NewChat()
		if err != nil {
			t.println(MessageServerError)
			return fmt.Errorf("failed to create chat: %w", err)
		}
		t.println(fmt.Sprintf(MessageNewChatFormat, chat.Model))
	case CommandChats:
		t.println(prepareChatList(model.GroupByRecency(t.Chat.Chats(), t.now())))
	case CommandOpen:
		return t.openChat(arg)
	case CommandDelete:
		return t.deleteChat(arg)
	case CommandModel:
		return t.switchModel(arg)
	case CommandModels:
		return t.listModels(ctx)
	case CommandPrompts:
		t.println(preparePrompts(model.SuggestedPrompts))
	case CommandPrompt:
		n, ok := parseIndex(arg, len(model.SuggestedPrompts))
		if !ok {
			t.println(MessageCommandUnknown)
			return nil
		}
		p := model.SuggestedPrompts[n]
		t.println(p.Prompt)
		return t.submit(ctx, p.Prompt)
	case CommandQuit:
		return errQuit
	default:
		t.println(MessageCommandUnknown)
	}
	return nil
}

func (t *TerminalUsecase) submit(ctx context.Context, text string) error {
	_, err := t.Chat.Submit(ctx, text)
	t.write("\n")
	switch {
	case err == nil:
		return nil
	case errors.Is(err, model.ErrSubmissionInProgress):
		t.println(MessageBusy)
		return nil
	default:
		// The fallback answer is already on screen through Observe.
		return err
	}
}

func (t *TerminalUsecase) openChat(arg string) error {
	chat, ok := t.numberedChat(arg)
	if !ok {
		t.println(MessageChatNotFound)
		return nil
	}
	chat, ok, err := t.Chat.SelectChat(chat.ID)
	if err != nil {
		t.println(MessageServerError)
		return fmt.Errorf("failed to select chat: %w", err)
	}
	if !ok {
		t.println(MessageChatNotFound)
		return nil
	}
	t.println(t.render(prepareTranscript(chat)))
	return nil
}

func (t *TerminalUsecase) deleteChat(arg string) error {
	chat, ok := t.numberedChat(arg)
	if !ok {
		t.println(MessageChatNotFound)
		return nil
	}
	if err := t.Chat.DeleteChat(chat.ID); err != nil {
		t.println(MessageServerError)
		return fmt.Errorf("failed to delete chat: %w", err)
	}
	t.println(MessageChatDeleted)
	if _, ok = t.Chat.CurrentChat(); !ok {
		t.println(MessageNoChatSelected)
	}
	return nil
}

func (t *TerminalUsecase) switchModel(arg string) error {
	if arg == "" {
		t.println(fmt.Sprintf(MessageModelFormat, t.Chat.Store.SelectedModel()))
		return nil
	}
	if err := t.Chat.SwitchModel(arg); err != nil {
		t.println(MessageServerError)
		return fmt.Errorf("failed to switch model: %w", err)
	}
	t.println(fmt.Sprintf(MessageModelSetFormat, arg))
	return nil
}

func (t *TerminalUsecase) listModels(ctx context.Context) error {
	if t.Models == nil {
		t.println(MessageFailedToGetList)
		return nil
	}
	models, err := t.Models.ListModels(ctx)
	if err != nil {
		t.println(MessageFailedToGetList)
		return fmt.Errorf("failed to list models: %w", err)
	}
	selected := t.Chat.Store.SelectedModel()
	var result strings.Builder
	for _, m := range models {
		marker := " "
		if m.ID == selected {
			marker = "*"
		}
		result.WriteString(fmt.Sprintf("%s %s", marker, m.ID))
		if m.OwnedBy != "" {
			result.WriteString(fmt.Sprintf(" (%s)", m.OwnedBy))
		}
		result.WriteString("\n")
	}
	t.write(result.String())
	return nil
}

// numberedChat resolves the 1-based position shown by /chats.
func (t *TerminalUsecase) numberedChat(arg string) (model.Conversation, bool) {
	var chats []model.Conversation
	for _, bucket := range model.GroupByRecency(t.Chat.Chats(), t.now()).Buckets() {
		chats = append(chats, bucket.Conversations...)
	}
	n, ok := parseIndex(arg, len(chats))
	if !ok {
		return model.Conversation{}, false
	}
	return chats[n], true
}

func (t *TerminalUsecase) render(markdown string) string {
	if t.Renderer == nil {
		return markdown
	}
	rendered, err := t.Renderer.Render(markdown)
	if err != nil {
		t.Logger.Warn("failed to render markdown", "error", err)
		return markdown
	}
	return rendered
}

func (t *TerminalUsecase) println(s string) {
	t.write(s + "\n")
}

func (t *TerminalUsecase) write(s string) {
	if _, err := io.WriteString(t.out, s); err != nil {
		t.Logger.Debug("failed to write output", "error", err)
	}
}

func prepareChatList(groups model.RecencyGroups) string {
	if groups.Len() == 0 {
		return MessageNoChats
	}
	result := strings.Builder{}
	result.WriteString(fmt.Sprintf("Now you have %v chats.\n", groups.Len()))
	i := 0
	for _, bucket := range groups.Buckets() {
		if len(bucket.Conversations) == 0 {
			continue
		}
		result.WriteString(bucket.Label + "\n")
		for _, chat := range bucket.Conversations {
			i++
			result.WriteString(
				fmt.Sprintf("%v) %s  Messages: %v, Model: %s\n", i, chat.Title, len(chat.Messages), chat.Model),
			)
		}
	}
	return strings.TrimSuffix(result.String(), "\n")
}

func prepareTranscript(chat model.Conversation) string {
	result := strings.Builder{}
	result.WriteString("# " + chat.Title + "\n\n")
	for _, message := range chat.Messages {
		switch message.Role {
		case model.RoleUser:
			result.WriteString("**You:** ")
		default:
			result.WriteString("**Assistant:** ")
		}
		result.WriteString(message.Content + "\n\n")
	}
	return result.String()
}

func preparePrompts(prompts []model.SuggestedPrompt) string {
	result := strings.Builder{}
	for i, p := range prompts {
		result.WriteString(fmt.Sprintf("%v) %s %s\n", i+1, p.Title, p.Description))
	}
	return strings.TrimSuffix(result.String(), "\n")
}

func parseIndex(arg string, length int) (int, bool) {
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 || n > length {
		return 0, false
	}
	return n - 1, true
}
