package store

import "time"

// TelegramUser is what the gateway knows about a sender at the time of a message.
type TelegramUser struct {
	TgID      int64  `json:"tg_id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

type User struct {
	TgID       int64     `json:"tg_id"`
	Role       string    `json:"role"`
	Username   *string   `json:"username"` // Nullable, set-role can create rows without names
	FirstName  *string   `json:"first_name"`
	LastName   *string   `json:"last_name"`
	CreatedAt  time.Time `json:"created_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
	IsActive   bool      `json:"is_active"`
}
