package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/galah-group/galah-installer/internal/atomicfile"
	"github.com/galah-group/galah-installer/internal/logging"
	"github.com/galah-group/galah-installer/internal/planner"
)

// StepState represents the current state of a journal step.
type StepState string

const (
	StepPending    StepState = "pending"
	StepInProgress StepState = "in_progress"
	StepCompleted  StepState = "completed"
	StepFailed     StepState = "failed"
)

// journalVersion is the schema version written by this package.
const journalVersion = 1

// CompletedJournalsKept is how many completed journals PruneCompleted leaves
// in a state directory.
const CompletedJournalsKept = 10

// Journal records the plan of one installer run and how far it got.
type Journal struct {
	Version   int       `json:"version"` // Schema version for future evolution
	ID        string    `json:"id"`      // UUID for unique identification
	Server    string    `json:"server"`
	Timestamp time.Time `json:"timestamp"`
	Steps     []Step    `json:"steps"`
}

// Step is one planned action and its progress.
type Step struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"` // "install" or "migrate"
	Package   string    `json:"package"`
	Version   string    `json:"version,omitempty"`
	From      string    `json:"from,omitempty"`
	To        string    `json:"to,omitempty"`
	State     StepState `json:"state"`
	Artifact  string    `json:"artifact,omitempty"` // cached artifact once fetched
	LastError string    `json:"last_error,omitempty"`
}

// NewJournal creates a journal with one pending step per action.
func NewJournal(server string, actions []planner.Action) *Journal {
	steps := make([]Step, 0, len(actions))
	for _, a := range actions {
		step := Step{ID: a.String(), Package: a.Package(), State: StepPending}
		switch a := a.(type) {
		case planner.Install:
			step.Kind = "install"
			step.Version = a.Version
		case planner.Migrate:
			step.Kind = "migrate"
			step.From = a.From
			step.To = a.To
		}
		steps = append(steps, step)
	}

	return &Journal{
		Version:   journalVersion,
		ID:        uuid.New().String(),
		Server:    server,
		Timestamp: time.Now().UTC(),
		Steps:     steps,
	}
}

// FileName returns the journal's file name within a state directory.
func (j *Journal) FileName() string {
	return fmt.Sprintf("journal-%s.json", j.ID)
}

// Save writes the journal to dir atomically.
func (j *Journal) Save(dir string) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create journal directory: %w", err)
	}

	data, err := json.MarshalIndent(j, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal journal: %w", err)
	}

	if err := atomicfile.WriteFile(filepath.Join(dir, j.FileName()), data); err != nil {
		return fmt.Errorf("write journal: %w", err)
	}
	return nil
}

// LoadJournal reads a journal from disk.
func LoadJournal(path string) (*Journal, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read journal file: %w", err)
	}

	var j Journal
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("unmarshal journal: %w", err)
	}
	if j.Version != journalVersion {
		return nil, fmt.Errorf("journal %s: unsupported version %d", path, j.Version)
	}
	return &j, nil
}

// loadJournals reads every journal in dir, oldest first. Files that cannot
// be read or have an unknown version are skipped and logged.
func loadJournals(dir string, logger logging.Logger) ([]*Journal, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "journal-*.json"))
	if err != nil {
		return nil, err
	}

	logger = logging.OrNop(logger)
	out := make([]*Journal, 0, len(matches))
	for _, m := range matches {
		j, err := LoadJournal(m)
		if err != nil {
			logger.Warn("skipping unreadable journal", "path", m, "error", err)
			continue
		}
		out = append(out, j)
	}
	sort.SliceStable(out, func(a, b int) bool {
		return out[a].Timestamp.Before(out[b].Timestamp)
	})
	return out, nil
}

// UnfinishedJournals returns the journals in dir for which HasPending is
// true, oldest first. Unreadable journals are logged and skipped.
func UnfinishedJournals(dir string, logger logging.Logger) ([]*Journal, error) {
	all, err := loadJournals(dir, logger)
	if err != nil {
		return nil, err
	}

	var out []*Journal
	for _, j := range all {
		if j.HasPending() {
			out = append(out, j)
		}
	}
	return out, nil
}

// PruneCompleted removes all but the newest keep completed journals in dir
// and returns how many it removed. Unfinished and unreadable journals are
// never removed.
func PruneCompleted(dir string, keep int, logger logging.Logger) (int, error) {
	all, err := loadJournals(dir, logger)
	if err != nil {
		return 0, err
	}

	var completed []*Journal
	for _, j := range all {
		if !j.HasPending() {
			completed = append(completed, j)
		}
	}
	if len(completed) <= keep {
		return 0, nil
	}

	var errs []error
	removed := 0
	for _, j := range completed[:len(completed)-keep] {
		if err := os.Remove(filepath.Join(dir, j.FileName())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

// UpdateStep updates the state of the step with the given ID.
// Unknown IDs are ignored.
func (j *Journal) UpdateStep(id string, state StepState, artifact string, err error) {
	for i := range j.Steps {
		if j.Steps[i].ID == id {
			j.Steps[i].State = state
			if artifact != "" {
				j.Steps[i].Artifact = artifact
			}
			if err != nil {
				j.Steps[i].LastError = err.Error()
			} else {
				j.Steps[i].LastError = ""
			}
			break
		}
	}
}

// HasPending returns true if any step is pending, in progress or failed.
func (j *Journal) HasPending() bool {
	for _, s := range j.Steps {
		if s.State == StepPending || s.State == StepFailed || s.State == StepInProgress {
			return true
		}
	}
	return false
}

// AllCompleted returns true if all steps are in completed state.
func (j *Journal) AllCompleted() bool {
	for _, s := range j.Steps {
		if s.State != StepCompleted {
			return false
		}
	}
	return len(j.Steps) > 0
}
