package store

import (
	"context"
	"errors"
	"fmt"
)

type countSource interface {
	CountUsers(ctx context.Context) (int64, error)
	CountGroups(ctx context.Context) (int64, error)
}

// Snapshot is a point-in-time summary of stored records.
type Snapshot struct {
	Users  int64 `json:"users"`
	Groups int64 `json:"groups"`
}

// StatsProvider exposes record counts for diagnostics without leaking backend
// details to callers.
type StatsProvider struct {
	source countSource
}

// NewStatsProvider constructs a StatsProvider backed by source.
func NewStatsProvider(source countSource) *StatsProvider {
	return &StatsProvider{source: source}
}

// Snapshot returns the current user and group counts.
func (p *StatsProvider) Snapshot(ctx context.Context) (Snapshot, error) {
	if ctx == nil {
		return Snapshot{}, errors.New("context is required")
	}
	if p == nil || p.source == nil {
		return Snapshot{}, errors.New("stats provider is not initialized")
	}

	users, err := p.source.CountUsers(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("count users: %w", err)
	}

	groups, err := p.source.CountGroups(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("count groups: %w", err)
	}

	return Snapshot{Users: users, Groups: groups}, nil
}
