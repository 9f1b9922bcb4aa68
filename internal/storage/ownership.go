package storage

import (
	"context"
	"fmt"
)

// groupID returns the remote login user's primary gid. Pools and volumes
// are group-owned by it so that the same user can later write into them.
// The value is cached for the Manager's lifetime.
func (m *Manager) groupID(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.gid != "" {
		return m.gid, nil
	}

	gid, err := m.host.GroupID(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to determine remote group: %w", err)
	}
	m.gid = gid
	return gid, nil
}
