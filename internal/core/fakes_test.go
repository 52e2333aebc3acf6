package core

import (
	"context"
	"sync"

	"github.com/ezbot/ezbot/internal/store"
)

type fakeRoleStore struct {
	mu       sync.Mutex
	roles    map[int64]string
	err      error
	upserts  int
	setCalls []int64
	getCalls int
}

func newFakeRoleStore(roles map[int64]string) *fakeRoleStore {
	if roles == nil {
		roles = map[int64]string{}
	}
	return &fakeRoleStore{roles: roles}
}

func (f *fakeRoleStore) UpsertAndGetRole(_ context.Context, user store.TelegramUser, defaultRole string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts++
	if f.err != nil {
		return "", f.err
	}
	role, ok := f.roles[user.TgID]
	if !ok {
		role = defaultRole
		f.roles[user.TgID] = role
	}
	return role, nil
}

func (f *fakeRoleStore) SetRole(_ context.Context, tgID int64, role string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setCalls = append(f.setCalls, tgID)
	if f.err != nil {
		return f.err
	}
	f.roles[tgID] = role
	return nil
}

func (f *fakeRoleStore) GetRole(_ context.Context, tgID int64) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if f.err != nil {
		return "", false, f.err
	}
	role, ok := f.roles[tgID]
	return role, ok, nil
}

func (f *fakeRoleStore) GetUser(_ context.Context, tgID int64) (*store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	role, ok := f.roles[tgID]
	if !ok {
		return nil, nil
	}
	return &store.User{TgID: tgID, Role: role, IsActive: true}, nil
}

// recordingHistory wraps a real HistoryService and counts calls.
type recordingHistory struct {
	History
	appends int
	reads   int
	resets  int
}

func (h *recordingHistory) Append(ctx context.Context, key ConversationKey, role SpeakerRole, content string) error {
	h.appends++
	return h.History.Append(ctx, key, role, content)
}

func (h *recordingHistory) RecentHistory(ctx context.Context, key ConversationKey) ([]Message, error) {
	h.reads++
	return h.History.RecentHistory(ctx, key)
}

func (h *recordingHistory) Reset(ctx context.Context, key ConversationKey) error {
	h.resets++
	return h.History.Reset(ctx, key)
}

func (h *recordingHistory) calls() int {
	return h.appends + h.reads + h.resets
}

type fakeCompletion struct {
	answer   string
	err      error
	received [][]Message
}

func (f *fakeCompletion) Complete(_ context.Context, messages []Message) (string, error) {
	f.received = append(f.received, append([]Message(nil), messages...))
	if f.err != nil {
		return "", f.err
	}
	return f.answer, nil
}
