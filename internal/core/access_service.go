package core

import (
	"context"
	"fmt"

	"github.com/ezbot/ezbot/internal/store"
	"go.uber.org/zap"
)

// AccessPolicy gates the assistant by role.
type AccessPolicy struct {
	roles       RoleStore
	allowed     map[string]struct{}
	defaultRole string
	logger      *zap.Logger
}

func NewAccessPolicy(roles RoleStore, allowedRoles []string, defaultRole string, logger *zap.Logger) *AccessPolicy {
	allowed := make(map[string]struct{}, len(allowedRoles))
	for _, r := range allowedRoles {
		allowed[r] = struct{}{}
	}
	return &AccessPolicy{
		roles:       roles,
		allowed:     allowed,
		defaultRole: defaultRole,
		logger:      logger,
	}
}

// IsAllowed resolves the user's role and checks it against the allowed set.
// The identity row is upserted on every call, so name fields stay fresh even
// when access is denied.
func (p *AccessPolicy) IsAllowed(ctx context.Context, user store.TelegramUser) (bool, error) {
	role, err := p.ResolveRole(ctx, user)
	if err != nil {
		return false, err
	}
	ok := p.RoleAllowed(role)
	p.logger.Info("Resolved user role",
		zap.Int64("tg_id", user.TgID),
		zap.String("username", user.Username),
		zap.String("role", role),
		zap.Bool("allowed", ok))
	return ok, nil
}

// ResolveRole upserts the user and returns the stored role.
func (p *AccessPolicy) ResolveRole(ctx context.Context, user store.TelegramUser) (string, error) {
	role, err := p.roles.UpsertAndGetRole(ctx, user, p.defaultRole)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrIdentityStore, err)
	}
	return role, nil
}

// RoleAllowed reports whether role is in the allowed set.
func (p *AccessPolicy) RoleAllowed(role string) bool {
	_, ok := p.allowed[role]
	return ok
}
