package leave

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"leave-bot/internal/model"
)

// RoleDirectory creates or finds the external privilege marker with the given name.
type RoleDirectory interface {
	EnsureRole(ctx context.Context, name, displayName string) (roleID string, err error)
}

// RoleName is the deterministic marker name for a leave of duration days.
func RoleName(duration int) string {
	return fmt.Sprintf("leave-%d-days", duration)
}

// Roles resolves the role for a duration, creating and recording it on first use
// so identical durations always share one role.
type Roles struct {
	store  RoleStore
	dir    RoleDirectory
	now    func() time.Time
	logger *zap.Logger

	mu sync.Mutex
}

func NewRoles(store RoleStore, dir RoleDirectory, logger ...*zap.Logger) *Roles {
	l := zap.L().Named("leave.roles")
	if len(logger) > 0 && logger[0] != nil {
		l = logger[0].Named("leave.roles")
	}
	return &Roles{store: store, dir: dir, now: time.Now, logger: l}
}

// RoleFor returns the role id for duration. It returns "" without error when no
// directory is configured.
func (r *Roles) RoleFor(ctx context.Context, duration int) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, err := r.store.RoleMapping(ctx, duration)
	if err != nil {
		return "", fmt.Errorf("get role mapping: %w", err)
	}
	if m != nil {
		return m.RoleID, nil
	}
	if r.dir == nil {
		return "", nil
	}

	name := RoleName(duration)
	roleID, err := r.dir.EnsureRole(ctx, name, fmt.Sprintf("Leave - %d days", duration))
	if err != nil {
		return "", fmt.Errorf("ensure role %s: %w", name, err)
	}
	if err := r.store.SaveRoleMapping(ctx, &model.RoleMapping{
		Duration:  duration,
		RoleID:    roleID,
		CreatedAt: r.now().UTC(),
	}); err != nil {
		return "", fmt.Errorf("save role mapping: %w", err)
	}
	r.logger.Info("role mapping created", zap.Int("duration", duration), zap.String("role_id", roleID))
	return roleID, nil
}
