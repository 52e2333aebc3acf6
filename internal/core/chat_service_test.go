package core

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ezbot/ezbot/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	adminID int64 = 100
	userID  int64 = 200
	guestID int64 = 300
)

type chatFixture struct {
	svc        *ChatService
	roles      *fakeRoleStore
	history    *recordingHistory
	lists      *store.MemoryListStore
	completion *fakeCompletion
}

func newChatFixture(t *testing.T, chunkSize int) *chatFixture {
	t.Helper()
	roles := newFakeRoleStore(map[int64]string{adminID: "admin", userID: "user", guestID: "guest"})
	lists := store.NewMemoryListStore()
	history := &recordingHistory{History: NewHistoryService(lists, DefaultPersonaPrompts(), HistoryOptions{
		MaxHistoryMessages: 20,
		MaxStoredMessages:  40,
		TTL:                time.Hour,
	}, zap.NewNop())}
	completion := &fakeCompletion{answer: "hello back"}
	access := NewAccessPolicy(roles, []string{"admin", "user"}, "guest", zap.NewNop())

	return &chatFixture{
		svc:        NewChatService(access, roles, history, completion, chunkSize, zap.NewNop()),
		roles:      roles,
		history:    history,
		lists:      lists,
		completion: completion,
	}
}

func tgUser(id int64, name string) store.TelegramUser {
	return store.TelegramUser{TgID: id, Username: name}
}

func (f *chatFixture) transcript(t *testing.T, username string) []Message {
	t.Helper()
	msgs, err := f.history.History.RecentHistory(context.Background(), ConversationKey{Username: username, Persona: DefaultPersona})
	require.NoError(t, err)
	return msgs
}

func TestHandleMessage_AllowedUser(t *testing.T) {
	f := newChatFixture(t, 4000)

	chunks, err := f.svc.HandleMessage(context.Background(), tgUser(userID, "alice"), "hello")
	require.NoError(t, err)
	assert.Equal(t, []string{"hello back"}, chunks)

	require.Len(t, f.completion.received, 1)
	prompt := f.completion.received[0]
	require.Len(t, prompt, 2)
	assert.Equal(t, RoleSystem, prompt[0].Role)
	assert.Equal(t, Message{Role: RoleUser, Content: "hello"}, prompt[1])

	assert.Equal(t, []Message{
		{Role: RoleUser, Content: "hello"},
		{Role: RoleAssistant, Content: "hello back"},
	}, f.transcript(t, "alice")[1:])
}

func TestHandleMessage_GuestIsDenied(t *testing.T) {
	f := newChatFixture(t, 4000)

	chunks, err := f.svc.HandleMessage(context.Background(), tgUser(guestID, "mallory"), "hello")
	require.NoError(t, err)
	assert.Equal(t, []string{DeniedMessageReply}, chunks)
	assert.Zero(t, f.history.calls())
	assert.Empty(t, f.completion.received)
}

func TestHandleMessage_UnknownUserIsRegisteredAsGuest(t *testing.T) {
	f := newChatFixture(t, 4000)

	chunks, err := f.svc.HandleMessage(context.Background(), tgUser(555, "stranger"), "hi")
	require.NoError(t, err)
	assert.Equal(t, []string{DeniedMessageReply}, chunks)
	assert.Equal(t, "guest", f.roles.roles[555])
}

func TestHandleMessage_EmptyText(t *testing.T) {
	f := newChatFixture(t, 4000)

	for _, text := range []string{"", "   ", "\n\t"} {
		chunks, err := f.svc.HandleMessage(context.Background(), tgUser(userID, "alice"), text)
		require.NoError(t, err)
		assert.Equal(t, []string{EmptyMessageReply}, chunks)
	}
	assert.Zero(t, f.history.calls())
	assert.Zero(t, f.roles.upserts)
	assert.Empty(t, f.completion.received)
}

func TestHandleMessage_LongAnswerIsChunked(t *testing.T) {
	f := newChatFixture(t, 10)
	f.completion.answer = strings.Repeat("a", 25)

	chunks, err := f.svc.HandleMessage(context.Background(), tgUser(userID, "alice"), "long please")
	require.NoError(t, err)
	assert.Equal(t, []string{strings.Repeat("a", 10), strings.Repeat("a", 10), strings.Repeat("a", 5)}, chunks)

	msgs := f.transcript(t, "alice")
	assert.Equal(t, f.completion.answer, msgs[len(msgs)-1].Content, "history keeps the whole answer")
}

func TestHandleMessage_EmptyCompletion(t *testing.T) {
	f := newChatFixture(t, 4000)
	f.completion.answer = ""

	chunks, err := f.svc.HandleMessage(context.Background(), tgUser(userID, "alice"), "say nothing")
	require.NoError(t, err)
	assert.Empty(t, chunks)

	assert.Equal(t, []Message{
		{Role: RoleUser, Content: "say nothing"},
		{Role: RoleAssistant, Content: ""},
	}, f.transcript(t, "alice")[1:])
}

func TestHandleMessage_CompletionFailureKeepsUserTurn(t *testing.T) {
	f := newChatFixture(t, 4000)
	f.completion.err = errors.New("quota exceeded")

	chunks, err := f.svc.HandleMessage(context.Background(), tgUser(userID, "alice"), "are you there?")
	assert.Nil(t, chunks)
	require.Error(t, err)
	assert.ErrorContains(t, err, "quota exceeded")

	assert.Equal(t, []Message{{Role: RoleUser, Content: "are you there?"}}, f.transcript(t, "alice")[1:])
}

func TestHandleMessage_ConversationAccumulates(t *testing.T) {
	f := newChatFixture(t, 4000)
	ctx := context.Background()

	_, err := f.svc.HandleMessage(ctx, tgUser(userID, "alice"), "first")
	require.NoError(t, err)
	f.completion.answer = "second answer"
	_, err = f.svc.HandleMessage(ctx, tgUser(userID, "alice"), "second")
	require.NoError(t, err)

	require.Len(t, f.completion.received, 2)
	assert.Equal(t, []Message{
		{Role: RoleUser, Content: "first"},
		{Role: RoleAssistant, Content: "hello back"},
		{Role: RoleUser, Content: "second"},
	}, f.completion.received[1][1:])
}

func TestHandleMessage_IdentityStoreFailure(t *testing.T) {
	f := newChatFixture(t, 4000)
	f.roles.err = errors.New("db down")

	_, err := f.svc.HandleMessage(context.Background(), tgUser(userID, "alice"), "hello")
	assert.ErrorIs(t, err, ErrIdentityStore)
	assert.Zero(t, f.history.calls())
}

func TestWelcome(t *testing.T) {
	f := newChatFixture(t, 4000)

	reply, err := f.svc.Welcome(context.Background(), tgUser(777, "newcomer"))
	require.NoError(t, err)
	assert.Contains(t, reply, "Your username is: newcomer")
	assert.Contains(t, reply, "Your telegram_id is: 777")
	assert.Contains(t, reply, "Your role is: guest")
	assert.Equal(t, "guest", f.roles.roles[777])
}

func TestResetHistory(t *testing.T) {
	f := newChatFixture(t, 4000)
	ctx := context.Background()
	_, err := f.svc.HandleMessage(ctx, tgUser(userID, "alice"), "remember me")
	require.NoError(t, err)

	reply, err := f.svc.ResetHistory(ctx, tgUser(userID, "alice"))
	require.NoError(t, err)
	assert.Contains(t, reply, "User = alice")
	assert.Contains(t, reply, "Persona = default")
	assert.Contains(t, reply, "Thread_id = 0")
	assert.Len(t, f.transcript(t, "alice"), 1)
}

func TestResetHistory_GuestIsDenied(t *testing.T) {
	f := newChatFixture(t, 4000)

	reply, err := f.svc.ResetHistory(context.Background(), tgUser(guestID, "mallory"))
	require.NoError(t, err)
	assert.Equal(t, DeniedResetReply, reply)
	assert.Zero(t, f.history.resets)
}

func TestPromoteUser(t *testing.T) {
	f := newChatFixture(t, 4000)

	reply, err := f.svc.PromoteUser(context.Background(), tgUser(adminID, "root"), []string{"42"})
	require.NoError(t, err)
	assert.Equal(t, "✅ User with telegram_id=42 has now role 'user'.", reply)
	assert.Equal(t, []int64{42}, f.roles.setCalls)
	assert.Equal(t, "user", f.roles.roles[42])
}

func TestPromoteUser_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		caller store.TelegramUser
		args   []string
		want   string
	}{
		{"non admin", tgUser(userID, "alice"), []string{"42"}, DeniedAddReply},
		{"unknown caller", tgUser(999, "ghost"), []string{"42"}, DeniedAddReply},
		{"missing argument", tgUser(adminID, "root"), nil, AddUsageReply},
		{"too many arguments", tgUser(adminID, "root"), []string{"1", "2"}, AddUsageReply},
		{"not an integer", tgUser(adminID, "root"), []string{"abc"}, "❗ 'abc' is not a valid telegram_id (must be integer)."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newChatFixture(t, 4000)

			reply, err := f.svc.PromoteUser(context.Background(), tt.caller, tt.args)
			require.NoError(t, err)
			assert.Equal(t, tt.want, reply)
			assert.Empty(t, f.roles.setCalls)
		})
	}
}

func TestPromoteUser_StoreFailure(t *testing.T) {
	f := newChatFixture(t, 4000)
	f.roles.err = errors.New("locked")

	_, err := f.svc.PromoteUser(context.Background(), tgUser(adminID, "root"), []string{"42"})
	assert.ErrorIs(t, err, ErrIdentityStore)
}

func TestAdminHelpers(t *testing.T) {
	f := newChatFixture(t, 4000)
	ctx := context.Background()

	role, found, err := f.svc.UserRole(ctx, adminID)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "admin", role)

	_, found, err = f.svc.UserRole(ctx, 4242)
	require.NoError(t, err)
	assert.False(t, found)

	profile, err := f.svc.UserProfile(ctx, adminID)
	require.NoError(t, err)
	require.NotNil(t, profile)
	assert.Equal(t, "admin", profile.Role)

	profile, err = f.svc.UserProfile(ctx, 4242)
	require.NoError(t, err)
	assert.Nil(t, profile)

	require.NoError(t, f.svc.GrantUserRole(ctx, 4242))
	assert.Equal(t, "user", f.roles.roles[4242])

	_, err = f.svc.HandleMessage(ctx, tgUser(userID, "alice"), "hi")
	require.NoError(t, err)
	require.NoError(t, f.svc.ResetHistoryFor(ctx, "alice"))
	assert.Equal(t, 0, f.lists.Len("chat_history:alice:default:0"))
}

var _ AccessChecker = (*AccessPolicy)(nil)

type staticAccess struct {
	allowed bool
	role    string
	checks  int
}

func (a *staticAccess) IsAllowed(context.Context, store.TelegramUser) (bool, error) {
	a.checks++
	return a.allowed, nil
}

func (a *staticAccess) ResolveRole(context.Context, store.TelegramUser) (string, error) {
	return a.role, nil
}

func TestChatService_UsesAccessChecker(t *testing.T) {
	f := newChatFixture(t, 4000)
	access := &staticAccess{allowed: false, role: "banned"}
	svc := NewChatService(access, f.roles, f.history, f.completion, 4000, zap.NewNop())
	ctx := context.Background()

	chunks, err := svc.HandleMessage(ctx, tgUser(adminID, "root"), "hello")
	require.NoError(t, err)
	assert.Equal(t, []string{DeniedMessageReply}, chunks)
	assert.Equal(t, 1, access.checks)
	assert.Zero(t, f.history.calls())

	reply, err := svc.Welcome(ctx, tgUser(adminID, "root"))
	require.NoError(t, err)
	assert.Contains(t, reply, "Your role is: banned")
}

func TestUserProfile_StoreFailure(t *testing.T) {
	f := newChatFixture(t, 4000)
	f.roles.err = errors.New("db down")

	_, err := f.svc.UserProfile(context.Background(), adminID)
	assert.ErrorIs(t, err, ErrIdentityStore)
}
