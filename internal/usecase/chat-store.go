package usecase

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/iamvkosarev/llm-chat-relay/config"
	"github.com/iamvkosarev/llm-chat-relay/internal/model"
)

const (
	ChatsKey         = "chatbot-chats"
	CurrentChatKey   = "chatbot-current-chat"
	SelectedModelKey = "chatbot-selected-model"
)

// KeyValueStorage is a synchronous string-keyed store.
type KeyValueStorage interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Remove(key string) error
}

type ChatStoreDeps struct {
	Storage KeyValueStorage
	Logger  *slog.Logger
}

// ChatStore keeps every conversation in one serialized blob and rewrites it
// whole on each mutation. The mutex makes each read-modify-write atomic for
// this process.
type ChatStore struct {
	ChatStoreDeps
	cfg config.Chat
	now func() time.Time
	mu  sync.Mutex
}

func NewChatStore(deps ChatStoreDeps, cfg config.Chat) *ChatStore {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &ChatStore{
		ChatStoreDeps: deps,
		cfg:           cfg,
		now:           time.Now,
	}
}

// WithClock replaces the time source.
func (s *ChatStore) WithClock(now func() time.Time) *ChatStore {
	s.now = now
	return s
}

func (s *ChatStore) List() []model.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadChats()
}

func (s *ChatStore) Get(id string) (model.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chats := s.loadChats()
	if i := indexOf(chats, id); i >= 0 {
		return chats[i], true
	}
	return model.Conversation{}, false
}

func (s *ChatStore) Create(chatModel string) (model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	chat := model.Conversation{
		ID:        uuid.NewString(),
		Title:     model.DefaultTitle,
		Messages:  make([]model.Message, 0),
		Model:     chatModel,
		CreatedAt: now,
		UpdatedAt: now,
	}
	chats := append([]model.Conversation{chat}, s.loadChats()...)
	if err := s.saveChats(chats); err != nil {
		return model.Conversation{}, err
	}
	if err := s.Storage.Set(CurrentChatKey, chat.ID); err != nil {
		return model.Conversation{}, fmt.Errorf("failed to select chat %s: %w", chat.ID, err)
	}
	return chat, nil
}

// Append adds message to the end of the chat. The first user message fixes
// the title.
func (s *ChatStore) Append(id string, message model.Message) (model.Conversation, bool, error) {
	if !message.Role.Valid() {
		return model.Conversation{}, false, fmt.Errorf("%w: %q", model.ErrInvalidRole, message.Role)
	}
	return s.mutate(id, func(chat *model.Conversation) bool {
		if message.Role == model.RoleUser && !chat.HasUserMessage() {
			chat.Title = model.DeriveTitle(message.Content)
		}
		chat.Messages = append(chat.Messages, message)
		return true
	})
}

// ReplaceLastContent overwrites the content of the final message in place.
// It reports false for an unknown id or a chat without messages.
func (s *ChatStore) ReplaceLastContent(id, content string) (model.Conversation, bool, error) {
	return s.mutate(id, func(chat *model.Conversation) bool {
		if len(chat.Messages) == 0 {
			return false
		}
		chat.Messages[len(chat.Messages)-1].Content = content
		return true
	})
}

// Delete removes the chat and clears the selection when it pointed at it.
// The selection goes first so a failed rewrite never leaves a deleted chat
// selected.
func (s *ChatStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	chats := s.loadChats()
	i := indexOf(chats, id)
	if i < 0 {
		return nil
	}

	current, selected := s.currentChatID()
	wasCurrent := selected && current == id
	if wasCurrent {
		if err := s.Storage.Remove(CurrentChatKey); err != nil {
			return fmt.Errorf("failed to clear current chat: %w", err)
		}
	}

	chats = append(chats[:i], chats[i+1:]...)
	if err := s.saveChats(chats); err != nil {
		if wasCurrent {
			if restoreErr := s.Storage.Set(CurrentChatKey, id); restoreErr != nil {
				s.Logger.Error("failed to restore current chat", "chat_id", id, "error", restoreErr)
			}
		}
		return err
	}
	return nil
}

func (s *ChatStore) CurrentChatID() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentChatID()
}

// SetCurrentChatID stores the selection; an empty id clears it.
func (s *ChatStore) SetCurrentChatID(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == "" {
		if err := s.Storage.Remove(CurrentChatKey); err != nil {
			return fmt.Errorf("failed to clear current chat: %w", err)
		}
		return nil
	}
	if err := s.Storage.Set(CurrentChatKey, id); err != nil {
		return fmt.Errorf("failed to set current chat: %w", err)
	}
	return nil
}

// Select makes an existing chat current.
func (s *ChatStore) Select(id string) (model.Conversation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chats := s.loadChats()
	i := indexOf(chats, id)
	if i < 0 {
		return model.Conversation{}, false, nil
	}
	if err := s.Storage.Set(CurrentChatKey, id); err != nil {
		return model.Conversation{}, false, fmt.Errorf("failed to set current chat: %w", err)
	}
	return chats[i], true, nil
}

func (s *ChatStore) SelectedModel() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	selected, ok, err := s.Storage.Get(SelectedModelKey)
	if err != nil {
		s.Logger.Warn("failed to read selected model", "error", err)
	}
	if !ok || selected == "" {
		return s.cfg.DefaultModel
	}
	return selected
}

func (s *ChatStore) SetSelectedModel(chatModel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.Storage.Set(SelectedModelKey, chatModel); err != nil {
		return fmt.Errorf("failed to set selected model: %w", err)
	}
	return nil
}

func (s *ChatStore) mutate(id string, apply func(chat *model.Conversation) bool) (model.Conversation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	chats := s.loadChats()
	i := indexOf(chats, id)
	if i < 0 {
		return model.Conversation{}, false, nil
	}
	chat := chats[i].Clone()
	if !apply(&chat) {
		return model.Conversation{}, false, nil
	}
	if now := s.now(); now.After(chat.UpdatedAt) {
		chat.UpdatedAt = now
	}
	chats[i] = chat
	if err := s.saveChats(chats); err != nil {
		return model.Conversation{}, false, err
	}
	return chat, true, nil
}

func (s *ChatStore) currentChatID() (string, bool) {
	id, ok, err := s.Storage.Get(CurrentChatKey)
	if err != nil {
		s.Logger.Warn("failed to read current chat", "error", err)
		return "", false
	}
	return id, ok && id != ""
}

// loadChats never fails: a missing, unreadable or corrupted blob reads as
// an empty collection.
func (s *ChatStore) loadChats() []model.Conversation {
	raw, ok, err := s.Storage.Get(ChatsKey)
	if err != nil {
		s.Logger.Warn("failed to read chats", "error", err)
		return []model.Conversation{}
	}
	if !ok || raw == "" {
		return []model.Conversation{}
	}
	var chats []model.Conversation
	if err = json.Unmarshal([]byte(raw), &chats); err != nil {
		s.Logger.Warn("stored chats are corrupted, starting empty", "error", err)
		return []model.Conversation{}
	}
	if chats == nil {
		return []model.Conversation{}
	}
	return chats
}

func (s *ChatStore) saveChats(chats []model.Conversation) error {
	raw, err := json.Marshal(chats)
	if err != nil {
		return fmt.Errorf("failed to marshal chats: %w", err)
	}
	if err = s.Storage.Set(ChatsKey, string(raw)); err != nil {
		return fmt.Errorf("failed to save chats: %w", err)
	}
	return nil
}

func indexOf(chats []model.Conversation, id string) int {
	for i := range chats {
		if chats[i].ID == id {
			return i
		}
	}
	return -1
}
