// Package transaction keeps a target directory consistent across runs: an
// exclusive lock so two runs never race on the archive, and a journal that
// records which provisioning stages completed so a later run can resume.
package transaction

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// JournalFileName is stored inside the target directory.
const JournalFileName = ".portable-journal.json"

const journalVersion = 1

var ErrNoJournal = errors.New("no journal in target directory")

// Journal is the record of the latest run against a target directory.
type Journal struct {
	Version   int                  `json:"version"`
	ID        string               `json:"id"`
	URL       string               `json:"url"`
	Archive   string               `json:"archive"`
	State     string               `json:"state"`
	Started   time.Time            `json:"started"`
	Updated   time.Time            `json:"updated"`
	Completed map[string]time.Time `json:"completed"`
	LastError string               `json:"last_error,omitempty"`

	clock Clock
}

// NewJournal starts a journal for a run fetching url into archive.
func NewJournal(url, archive string, clock Clock) *Journal {
	if clock == nil {
		clock = RealClock{}
	}
	now := clock.Now().UTC()
	return &Journal{
		Version:   journalVersion,
		ID:        uuid.New().String(),
		URL:       url,
		Archive:   archive,
		Started:   now,
		Updated:   now,
		Completed: map[string]time.Time{},
		clock:     clock,
	}
}

// LoadJournal reads the journal from dir. It returns ErrNoJournal when none
// exists.
func LoadJournal(dir string) (*Journal, error) {
	data, err := os.ReadFile(filepath.Join(dir, JournalFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoJournal
		}
		return nil, fmt.Errorf("read journal: %w", err)
	}

	var j Journal
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("unmarshal journal: %w", err)
	}
	if j.Version != journalVersion {
		return nil, fmt.Errorf("unsupported journal version %d", j.Version)
	}
	if j.Completed == nil {
		j.Completed = map[string]time.Time{}
	}
	j.clock = RealClock{}
	return &j, nil
}

// Mark records state as reached and clears the last error.
func (j *Journal) Mark(state string) {
	now := j.now()
	j.State = state
	j.Completed[state] = now
	j.Updated = now
	j.LastError = ""
}

// Fail records a failure. Completed stages stay recorded.
func (j *Journal) Fail(state string, err error) {
	j.State = state
	j.Updated = j.now()
	if err != nil {
		j.LastError = err.Error()
	}
}

// Forget drops completion records for the given states, used when a stage is
// redone and everything downstream of it is stale.
func (j *Journal) Forget(states ...string) {
	for _, s := range states {
		delete(j.Completed, s)
	}
}

// Done reports whether state was recorded as completed.
func (j *Journal) Done(state string) bool {
	_, ok := j.Completed[state]
	return ok
}

// Matches reports whether the journal describes the same download.
func (j *Journal) Matches(url, archive string) bool {
	return j.URL == url && j.Archive == archive
}

// Save writes the journal to dir with write-then-rename.
func (j *Journal) Save(dir string) error {
	data, err := json.MarshalIndent(j, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal journal: %w", err)
	}

	finalPath := filepath.Join(dir, JournalFileName)
	tmpPath := finalPath + ".tmp"

	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write temporary journal: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename journal: %w", err)
	}
	return nil
}

func (j *Journal) now() time.Time {
	if j.clock == nil {
		j.clock = RealClock{}
	}
	return j.clock.Now().UTC()
}
