package core

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ezbot/ezbot/internal/store"
	"go.uber.org/zap"
)

type SpeakerRole string

const (
	RoleSystem    SpeakerRole = "system"
	RoleUser      SpeakerRole = "user"
	RoleAssistant SpeakerRole = "assistant"
)

// Message is one transcript entry, stored as JSON in the list store.
type Message struct {
	Role    SpeakerRole `json:"role"`
	Content string      `json:"content"`
}

// ConversationKey identifies one transcript.
type ConversationKey struct {
	Username string
	Persona  string
	ThreadID int
}

func (k ConversationKey) String() string {
	return fmt.Sprintf("chat_history:%s:%s:%d", k.Username, k.Persona, k.ThreadID)
}

type HistoryOptions struct {
	MaxHistoryMessages int           // read window handed to the model
	MaxStoredMessages  int           // write-time cap
	TTL                time.Duration // refreshed on every append
}

// HistoryService owns per-conversation transcripts and system-prompt injection.
type HistoryService struct {
	store   store.ListStore
	prompts PersonaPrompts
	opts    HistoryOptions
	logger  *zap.Logger
}

func NewHistoryService(listStore store.ListStore, prompts PersonaPrompts, opts HistoryOptions, logger *zap.Logger) *HistoryService {
	if prompts == nil {
		prompts = DefaultPersonaPrompts()
	}
	return &HistoryService{
		store:   listStore,
		prompts: prompts,
		opts:    opts,
		logger:  logger,
	}
}

// Append adds one message to the tail of the transcript, trimming the
// stored list and refreshing its expiry. Content is not validated here.
func (s *HistoryService) Append(ctx context.Context, key ConversationKey, role SpeakerRole, content string) error {
	entry, err := json.Marshal(Message{Role: role, Content: content})
	if err != nil {
		return fmt.Errorf("%w: failed to encode message: %w", ErrHistoryStore, err)
	}
	if err := s.store.Append(ctx, key.String(), entry, s.opts.MaxStoredMessages, s.opts.TTL); err != nil {
		return fmt.Errorf("%w: %w", ErrHistoryStore, err)
	}
	s.logger.Debug("Appended history message",
		zap.String("conversation", key.String()),
		zap.String("speaker", string(role)),
		zap.Int("length", len(content)))
	return nil
}

// RecentHistory returns the last MaxHistoryMessages messages, oldest first.
// A system message built from the persona prompt is prepended unless the
// window already holds one.
func (s *HistoryService) RecentHistory(ctx context.Context, key ConversationKey) ([]Message, error) {
	raw, err := s.store.Tail(ctx, key.String(), s.opts.MaxHistoryMessages)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHistoryStore, err)
	}

	messages := make([]Message, 0, len(raw)+1)
	systemAt := -1
	for _, item := range raw {
		var msg Message
		if err := json.Unmarshal(item, &msg); err != nil {
			return nil, fmt.Errorf("%w: failed to decode message in %s: %w", ErrHistoryStore, key, err)
		}
		if msg.Role == RoleSystem && systemAt < 0 {
			systemAt = len(messages)
		}
		messages = append(messages, msg)
	}

	switch {
	case systemAt < 0:
		system := Message{Role: RoleSystem, Content: s.prompts.Prompt(key.Persona)}
		messages = append([]Message{system}, messages...)
	case systemAt > 0:
		// The window was cut after the stored system message; lead with it anyway.
		system := messages[systemAt]
		copy(messages[1:systemAt+1], messages[:systemAt])
		messages[0] = system
	}
	return messages, nil
}

// Reset deletes the whole transcript. Missing transcripts are fine.
func (s *HistoryService) Reset(ctx context.Context, key ConversationKey) error {
	if err := s.store.Delete(ctx, key.String()); err != nil {
		return fmt.Errorf("%w: %w", ErrHistoryStore, err)
	}
	s.logger.Info("History reset", zap.String("conversation", key.String()))
	return nil
}
