// Package store provides in-memory storage for calculator programs and
// their runs.
package store

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lemonberrylabs/calcd/pkg/types"
)

// Sentinel errors for store lookups.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrNotActive     = errors.New("not active")
)

// RunState represents the state of a program run.
type RunState string

const (
	RunActive    RunState = "ACTIVE"
	RunSucceeded RunState = "SUCCEEDED"
	RunFailed    RunState = "FAILED"
	RunCancelled RunState = "CANCELLED"
)

// Program is saved calculator source.
type Program struct {
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	RevisionID  string    `json:"revisionId"`
	CreateTime  time.Time `json:"createTime"`
	UpdateTime  time.Time `json:"updateTime"`
	Source      string    `json:"sourceContents"`
}

// ID returns the last segment of the program name.
func (p *Program) ID() string {
	return strings.TrimPrefix(p.Name, "programs/")
}

// Run is one evaluation of a program.
type Run struct {
	Name              string    `json:"name"`
	State             RunState  `json:"state"`
	Results           []float64 `json:"results,omitempty"`
	Output            string    `json:"output,omitempty"`
	Error             *RunError `json:"error,omitempty"`
	StartTime         time.Time `json:"startTime"`
	EndTime           time.Time `json:"endTime,omitempty"`
	ProgramRevisionID string    `json:"programRevisionId"`
}

// ID returns the last segment of the run name.
func (r *Run) ID() string {
	return r.Name[strings.LastIndex(r.Name, "/")+1:]
}

// ProgramName returns the name of the program the run belongs to.
func (r *Run) ProgramName() string {
	return r.Name[:strings.Index(r.Name, "/runs/")]
}

// RunError describes why a run failed.
type RunError struct {
	Kind     string `json:"kind,omitempty"`
	Message  string `json:"message"`
	Position int    `json:"position,omitempty"`
}

// Store is a thread-safe in-memory storage for programs and runs.
type Store struct {
	mu       sync.RWMutex
	programs map[string]*Program
	runs     map[string]*Run

	revCounter int64
	now        func() time.Time
}

// New creates a new empty store.
func New() *Store {
	return &Store{
		programs: make(map[string]*Program),
		runs:     make(map[string]*Run),
		now:      time.Now,
	}
}

// ProgramName builds the resource name of a program ID.
func ProgramName(id string) string {
	return "programs/" + id
}

// RunName builds the resource name of a run.
func RunName(programID, runID string) string {
	return fmt.Sprintf("programs/%s/runs/%s", programID, runID)
}

// CreateProgram stores a new program.
func (s *Store) CreateProgram(id, source, description string) (*Program, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := ProgramName(id)
	if _, exists := s.programs[name]; exists {
		return nil, fmt.Errorf("program '%s': %w", name, ErrAlreadyExists)
	}

	s.revCounter++
	now := s.now()
	p := &Program{
		Name:        name,
		Description: description,
		RevisionID:  fmt.Sprintf("%06d-000", s.revCounter),
		CreateTime:  now,
		UpdateTime:  now,
		Source:      source,
	}
	s.programs[name] = p
	return copyProgram(p), nil
}

// GetProgram retrieves a program by its full name.
func (s *Store) GetProgram(name string) (*Program, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.programs[name]
	if !ok {
		return nil, fmt.Errorf("program '%s': %w", name, ErrNotFound)
	}
	return copyProgram(p), nil
}

// ListPrograms returns all programs ordered by name.
func (s *Store) ListPrograms() []*Program {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Program, 0, len(s.programs))
	for _, p := range s.programs {
		result = append(result, copyProgram(p))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// UpdateProgram replaces a program's source and, if non-empty, its
// description. An empty source keeps the current one.
func (s *Store) UpdateProgram(name, source, description string) (*Program, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.programs[name]
	if !ok {
		return nil, fmt.Errorf("program '%s': %w", name, ErrNotFound)
	}

	s.revCounter++
	if source != "" {
		p.Source = source
	}
	if description != "" {
		p.Description = description
	}
	p.RevisionID = fmt.Sprintf("%06d-000", s.revCounter)
	p.UpdateTime = s.now()

	return copyProgram(p), nil
}

// DeleteProgram removes a program and its runs.
func (s *Store) DeleteProgram(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.programs[name]; !ok {
		return fmt.Errorf("program '%s': %w", name, ErrNotFound)
	}
	delete(s.programs, name)

	prefix := name + "/runs/"
	for runName := range s.runs {
		if strings.HasPrefix(runName, prefix) {
			delete(s.runs, runName)
		}
	}
	return nil
}

// CreateRun records a new active run of a program.
func (s *Store) CreateRun(programName string) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.programs[programName]
	if !ok {
		return nil, fmt.Errorf("program '%s': %w", programName, ErrNotFound)
	}

	r := &Run{
		Name:              fmt.Sprintf("%s/runs/%s", programName, uuid.NewString()),
		State:             RunActive,
		StartTime:         s.now(),
		ProgramRevisionID: p.RevisionID,
	}
	s.runs[r.Name] = r
	return copyRun(r), nil
}

// GetRun retrieves a run by name.
func (s *Store) GetRun(name string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.runs[name]
	if !ok {
		return nil, fmt.Errorf("run '%s': %w", name, ErrNotFound)
	}
	return copyRun(r), nil
}

// ListRuns returns the runs of a program, oldest first.
func (s *Store) ListRuns(programName string) []*Run {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Run
	prefix := programName + "/runs/"
	for name, r := range s.runs {
		if strings.HasPrefix(name, prefix) {
			result = append(result, copyRun(r))
		}
	}
	sortRuns(result)
	return result
}

// ListAllRuns returns every run, oldest first.
func (s *Store) ListAllRuns() []*Run {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Run, 0, len(s.runs))
	for _, r := range s.runs {
		result = append(result, copyRun(r))
	}
	sortRuns(result)
	return result
}

// CompleteRun marks a run as succeeded with its results and transcript.
func (s *Store) CompleteRun(name string, results []float64, output string) error {
	return s.finish(name, func(r *Run) {
		r.State = RunSucceeded
		r.Results = append([]float64(nil), results...)
		r.Output = output
	})
}

// FailRun marks a run as failed. Results printed before the failure are kept.
func (s *Store) FailRun(name string, results []float64, output string, err error) error {
	return s.finish(name, func(r *Run) {
		r.State = RunFailed
		r.Results = append([]float64(nil), results...)
		r.Output = output

		re := &RunError{Message: err.Error()}
		var ce *types.CalcError
		if errors.As(err, &ce) {
			re.Kind = string(ce.Kind)
			if ce.Pos > 0 {
				re.Position = ce.Pos
			}
		}
		r.Error = re
	})
}

// CancelRun marks an active run as cancelled.
func (s *Store) CancelRun(name string) error {
	return s.finish(name, func(r *Run) {
		r.State = RunCancelled
	})
}

// finish applies a terminal transition to an active run.
func (s *Store) finish(name string, apply func(*Run)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.runs[name]
	if !ok {
		return fmt.Errorf("run '%s': %w", name, ErrNotFound)
	}
	if r.State != RunActive {
		return fmt.Errorf("run '%s' is %w (state: %s)", name, ErrNotActive, r.State)
	}

	apply(r)
	r.EndTime = s.now()
	return nil
}

func sortRuns(runs []*Run) {
	sort.SliceStable(runs, func(i, j int) bool {
		if runs[i].StartTime.Equal(runs[j].StartTime) {
			return runs[i].Name < runs[j].Name
		}
		return runs[i].StartTime.Before(runs[j].StartTime)
	})
}

func copyProgram(p *Program) *Program {
	c := *p
	return &c
}

func copyRun(r *Run) *Run {
	c := *r
	c.Results = append([]float64(nil), r.Results...)
	if r.Error != nil {
		e := *r.Error
		c.Error = &e
	}
	return &c
}
