package core

import (
	"context"

	"github.com/ezbot/ezbot/internal/store"
)

// RoleStore is the identity persistence the services depend on.
// *store.UserRepo satisfies it.
type RoleStore interface {
	UpsertAndGetRole(ctx context.Context, user store.TelegramUser, defaultRole string) (string, error)
	SetRole(ctx context.Context, tgID int64, role string) error
	GetRole(ctx context.Context, tgID int64) (role string, found bool, err error)
	GetUser(ctx context.Context, tgID int64) (*store.User, error)
}

// History is the conversation transcript contract used by the chat pipeline.
type History interface {
	Append(ctx context.Context, key ConversationKey, role SpeakerRole, content string) error
	RecentHistory(ctx context.Context, key ConversationKey) ([]Message, error)
	Reset(ctx context.Context, key ConversationKey) error
}

// CompletionProvider turns an ordered message list into one completion.
type CompletionProvider interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

// AccessChecker decides whether a user may talk to the assistant.
// *AccessPolicy implements it.
type AccessChecker interface {
	IsAllowed(ctx context.Context, user store.TelegramUser) (bool, error)
	ResolveRole(ctx context.Context, user store.TelegramUser) (string, error)
}
