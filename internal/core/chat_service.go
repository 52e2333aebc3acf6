package core

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/ezbot/ezbot/internal/store"
	"github.com/ezbot/ezbot/internal/utils"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	AdminRole    = "admin"
	PromoteRole  = "user"
	MainThreadID = 0
)

// User-visible replies.
const (
	EmptyMessageReply  = "I need the text of your request. I can't send an empty one."
	DeniedMessageReply = "⛔ You have no access to message the assistant in this bot."
	DeniedResetReply   = "⛔ You have no access to /reset in this bot."
	DeniedAddReply     = "⛔ You have no access to /add in this bot."
	AddUsageReply      = "❗ Usage: /add <telegram_id>\nExample: /add 123456789"
)

type ChatService struct {
	access     AccessChecker
	roles      RoleStore
	history    History
	completion CompletionProvider
	chunkSize  int
	logger     *zap.Logger
}

func NewChatService(access AccessChecker, roles RoleStore, history History, completion CompletionProvider, chunkSize int, logger *zap.Logger) *ChatService {
	return &ChatService{
		access:     access,
		roles:      roles,
		history:    history,
		completion: completion,
		chunkSize:  chunkSize,
		logger:     logger,
	}
}

// conversationKey is the only conversation the bot currently exposes.
func conversationKey(user store.TelegramUser) ConversationKey {
	return ConversationKey{Username: user.Username, Persona: DefaultPersona, ThreadID: MainThreadID}
}

// HandleMessage runs one user message through the assistant and returns the
// reply chunks in order. Validation and access denials come back as a single
// reply with a nil error. Store and provider failures are returned as errors;
// a failed completion leaves the user's turn in history.
func (s *ChatService) HandleMessage(ctx context.Context, user store.TelegramUser, text string) ([]string, error) {
	logger := s.logger.With(
		zap.String("run_id", uuid.NewString()),
		zap.Int64("tg_id", user.TgID),
		zap.String("username", user.Username))

	if strings.TrimSpace(text) == "" {
		return []string{EmptyMessageReply}, nil
	}

	allowed, err := s.access.IsAllowed(ctx, user)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return []string{DeniedMessageReply}, nil
	}
	logger.Info("Got message from user")

	key := conversationKey(user)
	if err := s.history.Append(ctx, key, RoleUser, text); err != nil {
		return nil, fmt.Errorf("failed to store user message: %w", err)
	}

	prompt, err := s.history.RecentHistory(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	answer, err := s.completion.Complete(ctx, prompt)
	if err != nil {
		logger.Warn("Completion failed, user turn kept in history", zap.Error(err))
		return nil, fmt.Errorf("failed to get completion: %w", err)
	}

	if err := s.history.Append(ctx, key, RoleAssistant, answer); err != nil {
		return nil, fmt.Errorf("failed to store assistant message: %w", err)
	}

	chunks := utils.SplitChunks(answer, s.chunkSize)
	logger.Info("Answer ready",
		zap.Int("context_messages", len(prompt)),
		zap.Int("answer_length", len(answer)),
		zap.Int("chunks", len(chunks)))
	return chunks, nil
}

// Welcome registers the user and describes who they are to the bot.
func (s *ChatService) Welcome(ctx context.Context, user store.TelegramUser) (string, error) {
	role, err := s.access.ResolveRole(ctx, user)
	if err != nil {
		return "", err
	}
	s.logger.Info("start", zap.String("username", user.Username), zap.Int64("tg_id", user.TgID), zap.String("role", role))

	return fmt.Sprintf("Hello, I'm ezBot!\n\n"+
		"I can send requests to the assistant and return responses.\n\n"+
		"Your username is: %s\n"+
		"Your telegram_id is: %d\n"+
		"Your role is: %s\n", user.Username, user.TgID, role), nil
}

// ResetHistory clears the user's conversation if they are allowed to use the bot.
func (s *ChatService) ResetHistory(ctx context.Context, user store.TelegramUser) (string, error) {
	allowed, err := s.access.IsAllowed(ctx, user)
	if err != nil {
		return "", err
	}
	if !allowed {
		s.logger.Info("User was restricted from using /reset", zap.String("username", user.Username))
		return DeniedResetReply, nil
	}

	key := conversationKey(user)
	if err := s.history.Reset(ctx, key); err != nil {
		return "", fmt.Errorf("failed to reset history: %w", err)
	}

	return fmt.Sprintf("Your chat history has been deleted.\n\n"+
		"User = %s\n"+
		"Persona = %s\n"+
		"Thread_id = %d\n", user.Username, key.Persona, key.ThreadID), nil
}

// PromoteUser implements "/add <telegram_id>": an admin grants the user role.
// args are the command arguments without the command itself.
func (s *ChatService) PromoteUser(ctx context.Context, caller store.TelegramUser, args []string) (string, error) {
	role, _, err := s.roles.GetRole(ctx, caller.TgID)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrIdentityStore, err)
	}
	if role != AdminRole {
		s.logger.Info("User was restricted from using /add",
			zap.String("username", caller.Username), zap.String("role", role))
		return DeniedAddReply, nil
	}

	if len(args) != 1 {
		return AddUsageReply, nil
	}
	targetID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Sprintf("❗ '%s' is not a valid telegram_id (must be integer).", args[0]), nil
	}

	if err := s.roles.SetRole(ctx, targetID, PromoteRole); err != nil {
		return "", fmt.Errorf("%w: %w", ErrIdentityStore, err)
	}
	s.logger.Info("Admin granted role",
		zap.String("admin", caller.Username),
		zap.Int64("admin_tg_id", caller.TgID),
		zap.Int64("target_tg_id", targetID),
		zap.String("role", PromoteRole))

	return fmt.Sprintf("✅ User with telegram_id=%d has now role '%s'.", targetID, PromoteRole), nil
}

// UserRole returns the role of an active user.
func (s *ChatService) UserRole(ctx context.Context, tgID int64) (string, bool, error) {
	role, found, err := s.roles.GetRole(ctx, tgID)
	if err != nil {
		return "", false, fmt.Errorf("%w: %w", ErrIdentityStore, err)
	}
	return role, found, nil
}

// UserProfile returns the stored identity row, or nil for unknown users.
func (s *ChatService) UserProfile(ctx context.Context, tgID int64) (*store.User, error) {
	user, err := s.roles.GetUser(ctx, tgID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIdentityStore, err)
	}
	return user, nil
}

// GrantUserRole gives tgID the regular user role, creating the row if needed.
func (s *ChatService) GrantUserRole(ctx context.Context, tgID int64) error {
	if err := s.roles.SetRole(ctx, tgID, PromoteRole); err != nil {
		return fmt.Errorf("%w: %w", ErrIdentityStore, err)
	}
	s.logger.Info("Role granted via admin API", zap.Int64("target_tg_id", tgID), zap.String("role", PromoteRole))
	return nil
}

// ResetHistoryFor clears username's main conversation without an access check.
func (s *ChatService) ResetHistoryFor(ctx context.Context, username string) error {
	return s.history.Reset(ctx, ConversationKey{Username: username, Persona: DefaultPersona, ThreadID: MainThreadID})
}
