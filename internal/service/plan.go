// Package service orchestrates the installer's commands on top of the
// transfer, planner, state, and artifact packages.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/galah-group/galah-installer/internal/index"
	"github.com/galah-group/galah-installer/internal/logging"
	"github.com/galah-group/galah-installer/internal/planner"
	"github.com/galah-group/galah-installer/internal/signature"
	"github.com/galah-group/galah-installer/internal/transfer"
)

// IndexSource provides the package index.
type IndexSource interface {
	Index(ctx context.Context) (planner.Index, error)
}

// InstalledState provides the installed package versions.
type InstalledState interface {
	Load() (planner.Installed, error)
}

// RemoteIndex fetches and verifies the index from an update server.
type RemoteIndex struct {
	Pipeline *transfer.Pipeline
	Server   string
	Key      signature.KeyMaterial
	Timeout  time.Duration
	MaxSize  int64
}

// Index implements IndexSource.
func (r *RemoteIndex) Index(ctx context.Context) (planner.Index, error) {
	return index.Fetch(ctx, r.Pipeline, r.Server, r.Key, r.Timeout, r.MaxSize)
}

// PlanService computes the actions that bring installed state to the
// desired state.
type PlanService struct {
	index     IndexSource
	installed InstalledState
	logger    logging.Logger
}

// NewPlanService creates a new plan service.
func NewPlanService(idx IndexSource, installed InstalledState, logger logging.Logger) *PlanService {
	return &PlanService{index: idx, installed: installed, logger: logging.OrNop(logger)}
}

// PlanResult is a computed plan and the inputs it was computed from.
type PlanResult struct {
	Index     planner.Index
	Installed planner.Installed
	Desired   planner.Desired
	Actions   []planner.Action
}

// Plan loads installed state, fetches the index, and determines the actions
// for desired.
func (s *PlanService) Plan(ctx context.Context, desired planner.Desired) (*PlanResult, error) {
	installed, err := s.installed.Load()
	if err != nil {
		return nil, fmt.Errorf("load installed state: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	idx, err := s.index.Index(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch package index: %w", err)
	}

	actions, err := planner.DeterminePreactions(idx, installed, desired)
	if err != nil {
		return nil, err
	}

	s.logger.Info("plan computed", "actions", len(actions), "desired", len(desired))
	return &PlanResult{
		Index:     idx,
		Installed: installed,
		Desired:   desired,
		Actions:   actions,
	}, nil
}
