package store

import (
	"context"
	"errors"

	"github.com/seantiz/gantry/internal/model"
)

// ErrNotFound is returned when a record is not found.
var ErrNotFound = errors.New("record not found")

// RunStats holds aggregate run statistics.
type RunStats struct {
	Total          int            `json:"total"`
	CountByStatus  map[string]int `json:"count_by_status"`
	CountByNetwork map[string]int `json:"count_by_network"`
	AvgDurationMS  float64        `json:"avg_duration_ms"`
}

// Store defines the persistence operations for network and run history.
type Store interface {
	CreateNetwork(ctx context.Context, n *model.Network) error
	GetNetwork(ctx context.Context, name string) (*model.Network, error)
	ListNetworks(ctx context.Context, limit, offset int) ([]*model.Network, int, error)
	MarkNetworkRemoved(ctx context.Context, name string) error

	CreateRun(ctx context.Context, r *model.Run) error
	GetRun(ctx context.Context, id string) (*model.Run, error)
	ListRuns(ctx context.Context, limit, offset int) ([]*model.Run, int, error)
	FinishRun(ctx context.Context, r *model.Run) error
	GetRunStats(ctx context.Context) (*RunStats, error)

	Close() error
}
