package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/galah-group/galah-installer/internal/artifact"
	"github.com/galah-group/galah-installer/internal/logging"
	"github.com/galah-group/galah-installer/internal/planner"
	"github.com/galah-group/galah-installer/internal/state"
)

// FetchService plans an update and downloads every artifact it needs into
// the verified cache, recording progress in a journal.
type FetchService struct {
	plans    *PlanService
	fetchCfg artifact.Config
	stateDir string
	clock    Clock
	logger   logging.Logger
}

// NewFetchService creates a fetch service. fetchCfg is used for every run;
// its OnComplete hook is replaced by the service.
func NewFetchService(plans *PlanService, fetchCfg artifact.Config, stateDir string, clock Clock, logger logging.Logger) *FetchService {
	if clock == nil {
		clock = RealClock{}
	}
	return &FetchService{
		plans:    plans,
		fetchCfg: fetchCfg,
		stateDir: stateDir,
		clock:    clock,
		logger:   logging.OrNop(logger),
	}
}

// FetchResult contains the results of a fetch run. Journal is nil when the
// plan was empty.
type FetchResult struct {
	Plan    *PlanResult
	Journal *state.Journal
	Fetched []artifact.Fetched
}

// Fetch runs one update download under the state directory lock.
func (s *FetchService) Fetch(ctx context.Context, desired planner.Desired) (*FetchResult, error) {
	lock, err := state.AcquireLock(ctx, s.stateDir)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			s.logger.Warn("failed to release lock", "error", err)
		}
	}()

	unfinished, err := state.UnfinishedJournals(s.stateDir, s.logger)
	if err != nil {
		s.logger.Warn("cannot read previous journals", "error", err)
	}
	for _, j := range unfinished {
		s.logger.Warn("previous run did not finish", "journal", j.ID, "started", j.Timestamp)
	}
	if n, err := state.PruneCompleted(s.stateDir, state.CompletedJournalsKept, s.logger); err != nil {
		s.logger.Warn("failed to prune completed journals", "error", err)
	} else if n > 0 {
		s.logger.Debug("pruned completed journals", "count", n)
	}

	plan, err := s.plans.Plan(ctx, desired)
	if err != nil {
		return nil, err
	}
	result := &FetchResult{Plan: plan}
	if len(plan.Actions) == 0 {
		s.logger.Info("nothing to fetch")
		return result, nil
	}

	j := state.NewJournal(s.fetchCfg.Server, plan.Actions)
	j.Timestamp = s.clock.Now().UTC()
	for _, step := range j.Steps {
		j.UpdateStep(step.ID, state.StepInProgress, "", nil)
	}
	if err := j.Save(s.stateDir); err != nil {
		return nil, err
	}
	result.Journal = j

	var mu sync.Mutex
	cfg := s.fetchCfg
	cfg.OnComplete = func(a artifact.Artifact, ferr error) {
		mu.Lock()
		defer mu.Unlock()
		if ferr != nil {
			j.UpdateStep(a.Action.String(), state.StepFailed, "", ferr)
		} else {
			j.UpdateStep(a.Action.String(), state.StepCompleted, a.CachePath(cfg.CacheDir), nil)
		}
		if err := j.Save(s.stateDir); err != nil {
			s.logger.Warn("failed to save journal", "journal", j.ID, "error", err)
		}
	}

	fetcher, err := artifact.NewFetcher(cfg)
	if err != nil {
		return nil, err
	}

	fetched, fetchErr := fetcher.Fetch(ctx, artifact.Resolve(plan.Actions))

	mu.Lock()
	defer mu.Unlock()
	// Steps skipped after the first failure were never attempted.
	for _, step := range j.Steps {
		if step.State == state.StepInProgress {
			j.UpdateStep(step.ID, state.StepPending, "", nil)
		}
	}
	if err := j.Save(s.stateDir); err != nil && fetchErr == nil {
		return nil, fmt.Errorf("save journal: %w", err)
	}

	if fetchErr != nil {
		return result, fetchErr
	}
	result.Fetched = fetched
	s.logger.Info("artifacts ready", "count", len(fetched), "journal", j.ID)
	return result, nil
}
