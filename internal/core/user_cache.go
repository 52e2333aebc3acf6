package core

import (
	"fmt"
	"time"

	"github.com/ezbot/ezbot/internal/store"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// UserCache keeps the latest known Telegram identity per user id.
// Entries are evicted least-recently-used once size is reached, and after ttl.
type UserCache struct {
	users *expirable.LRU[int64, store.TelegramUser]
}

func NewUserCache(size int, ttl time.Duration) *UserCache {
	return &UserCache{users: expirable.NewLRU[int64, store.TelegramUser](size, nil, ttl)}
}

// Resolve refreshes the cached identity for tgID with the latest sighting and
// returns it. A missing username falls back to "user_<id>".
func (c *UserCache) Resolve(tgID int64, username, firstName, lastName string) store.TelegramUser {
	if username == "" {
		username = fmt.Sprintf("user_%d", tgID)
	}

	user, ok := c.users.Get(tgID)
	if !ok {
		user = store.TelegramUser{TgID: tgID}
	}
	user.Username = username
	user.FirstName = firstName
	user.LastName = lastName
	c.users.Add(tgID, user)
	return user
}
