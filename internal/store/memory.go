package store

import (
	"sort"
	"sync"

	"github.com/okralab/okra-server/internal/models"
)

// MemoryStore keeps everything in maps guarded by one RWMutex. Assignment ids
// grow monotonically so insertion order survives, matching the SQLite rowid.
type MemoryStore struct {
	mu               sync.RWMutex
	participants     map[string]*models.Participant
	experiments      map[string]*models.Experiment
	tasks            map[string]*models.Task
	taskSeq          map[string]int64
	nextTaskSeq      int64
	ratings          map[string][]*models.TaskRating
	assignments      []*models.TaskAssignment
	nextAssignmentID int64
	operators        map[string]*models.Operator
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		participants:     map[string]*models.Participant{},
		experiments:      map[string]*models.Experiment{},
		tasks:            map[string]*models.Task{},
		taskSeq:          map[string]int64{},
		ratings:          map[string][]*models.TaskRating{},
		operators:        map[string]*models.Operator{},
		nextAssignmentID: 1,
		nextTaskSeq:      1,
	}
}

func copyParticipant(p *models.Participant) *models.Participant {
	cp := *p
	return &cp
}

func copyExperiment(e *models.Experiment) *models.Experiment {
	cp := *e
	cp.RequiredExperiments = append([]string(nil), e.RequiredExperiments...)
	return &cp
}

func copyTask(t *models.Task) *models.Task {
	cp := *t
	return &cp
}

func copyAssignment(a *models.TaskAssignment) *models.TaskAssignment {
	cp := *a
	if a.StartedTime != nil {
		st := *a.StartedTime
		cp.StartedTime = &st
	}
	if a.FinishedTime != nil {
		ft := *a.FinishedTime
		cp.FinishedTime = &ft
	}
	return &cp
}

func copyRating(r *models.TaskRating) *models.TaskRating {
	cp := *r
	return &cp
}

// Participants

func (s *MemoryStore) AddParticipant(p *models.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.participants[p.ID] = copyParticipant(p)
	return nil
}

func (s *MemoryStore) GetParticipant(id string) (*models.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.participants[id]
	if !ok {
		return nil, nil
	}
	return copyParticipant(p), nil
}

func (s *MemoryStore) GetParticipantByLabel(label string) (*models.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found *models.Participant
	for _, p := range s.participants {
		if p.Label != label {
			continue
		}
		if found == nil || p.ID < found.ID {
			found = p
		}
	}
	if found == nil {
		return nil, nil
	}
	return copyParticipant(found), nil
}

func (s *MemoryStore) ListParticipants() ([]*models.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Participant, 0, len(s.participants))
	for _, p := range s.participants {
		out = append(out, copyParticipant(p))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Label != out[j].Label {
			return out[i].Label < out[j].Label
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) UpdateParticipant(p *models.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.participants[p.ID]; !ok {
		return nil
	}
	s.participants[p.ID] = copyParticipant(p)
	return nil
}

func (s *MemoryStore) DeleteParticipant(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.participants[id]; !ok {
		return false, nil
	}
	delete(s.participants, id)
	s.deleteAssignmentsLocked(func(a *models.TaskAssignment) bool {
		return a.ParticipantID == id
	})
	return true, nil
}

// Experiments

func (s *MemoryStore) GetExperiment(id string) (*models.Experiment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.experiments[id]
	if !ok {
		return nil, nil
	}
	return copyExperiment(e), nil
}

func (s *MemoryStore) ListExperiments() ([]*models.Experiment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedExperimentsLocked(func(*models.Experiment) bool { return true }), nil
}

func (s *MemoryStore) ListExperimentsForParticipant(participantID string) ([]*models.Experiment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	assigned := map[string]bool{}
	for _, a := range s.assignments {
		if a.ParticipantID != participantID {
			continue
		}
		if t, ok := s.tasks[a.TaskID]; ok && t.ExperimentID != "" {
			assigned[t.ExperimentID] = true
		}
	}
	return s.sortedExperimentsLocked(func(e *models.Experiment) bool { return assigned[e.ID] }), nil
}

func (s *MemoryStore) sortedExperimentsLocked(keep func(*models.Experiment) bool) []*models.Experiment {
	out := make([]*models.Experiment, 0, len(s.experiments))
	for _, e := range s.experiments {
		if keep(e) {
			out = append(out, copyExperiment(e))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Title != out[j].Title {
			return out[i].Title < out[j].Title
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *MemoryStore) SaveExperiment(exp *models.Experiment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.experiments[exp.ID] = copyExperiment(exp)
	return nil
}

func (s *MemoryStore) DeleteExperiment(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.experiments[id]; !ok {
		return false, nil
	}
	delete(s.experiments, id)
	delete(s.ratings, id)
	for tid, t := range s.tasks {
		if t.ExperimentID == id {
			s.deleteTaskLocked(tid)
		}
	}
	for _, e := range s.experiments {
		kept := e.RequiredExperiments[:0]
		for _, reqID := range e.RequiredExperiments {
			if reqID != id {
				kept = append(kept, reqID)
			}
		}
		e.RequiredExperiments = kept
	}
	return true, nil
}

// Tasks

func (s *MemoryStore) GetTask(id string) (*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, nil
	}
	return copyTask(t), nil
}

func (s *MemoryStore) GetTaskByLabel(experimentID, label string) (*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found *models.Task
	for _, t := range s.tasks {
		if t.ExperimentID != experimentID || t.Label != label {
			continue
		}
		if found == nil || s.taskSeq[t.ID] < s.taskSeq[found.ID] {
			found = t
		}
	}
	if found == nil {
		return nil, nil
	}
	return copyTask(found), nil
}

func (s *MemoryStore) ListTasks(experimentID string) ([]*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*models.Task{}
	for _, t := range s.tasks {
		if t.ExperimentID == experimentID {
			out = append(out, copyTask(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return s.taskSeq[out[i].ID] < s.taskSeq[out[j].ID] })
	return out, nil
}

func (s *MemoryStore) SaveTask(t *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.ID]; !ok {
		s.taskSeq[t.ID] = s.nextTaskSeq
		s.nextTaskSeq++
	}
	s.tasks[t.ID] = copyTask(t)
	return nil
}

func (s *MemoryStore) DeleteTask(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[id]; !ok {
		return false, nil
	}
	s.deleteTaskLocked(id)
	return true, nil
}

func (s *MemoryStore) deleteTaskLocked(id string) {
	delete(s.tasks, id)
	delete(s.taskSeq, id)
	s.deleteAssignmentsLocked(func(a *models.TaskAssignment) bool { return a.TaskID == id })
	for _, e := range s.experiments {
		if e.PracticeTaskID == id {
			e.PracticeTaskID = ""
		}
	}
}

// Assignments

func (s *MemoryStore) CreateAssignment(a *models.TaskAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.ID = s.nextAssignmentID
	s.nextAssignmentID++
	s.assignments = append(s.assignments, copyAssignment(a))
	return nil
}

func (s *MemoryStore) UpdateAssignment(a *models.TaskAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.assignments {
		if existing.ID == a.ID {
			s.assignments[i] = copyAssignment(a)
			return nil
		}
	}
	return nil
}

func (s *MemoryStore) ListActiveAssignments(participantID string) ([]*models.TaskAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*models.TaskAssignment{}
	for _, a := range s.assignments {
		if a.ParticipantID == participantID && a.StartedTime != nil && a.FinishedTime == nil {
			out = append(out, copyAssignment(a))
		}
	}
	return out, nil
}

func (s *MemoryStore) NextPendingAssignment(experimentID, participantID string) (*models.TaskAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.assignments {
		if a.ParticipantID != participantID || a.StartedTime != nil {
			continue
		}
		if t, ok := s.tasks[a.TaskID]; ok && t.ExperimentID == experimentID {
			return copyAssignment(a), nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) OldestUnfinishedAssignment(taskID, participantID string) (*models.TaskAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.assignments {
		if a.TaskID == taskID && a.ParticipantID == participantID && a.FinishedTime == nil {
			return copyAssignment(a), nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) ListAssignments(experimentID, participantID string, practice bool) ([]*models.TaskAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exp, ok := s.experiments[experimentID]
	if !ok {
		return []*models.TaskAssignment{}, nil
	}
	out := []*models.TaskAssignment{}
	for _, a := range s.assignments {
		if a.ParticipantID != participantID {
			continue
		}
		if s.inScopeLocked(exp, a, practice) {
			out = append(out, copyAssignment(a))
		}
	}
	return out, nil
}

func (s *MemoryStore) ListAllAssignments() ([]*models.TaskAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.TaskAssignment, 0, len(s.assignments))
	for _, a := range s.assignments {
		out = append(out, copyAssignment(a))
	}
	return out, nil
}

func (s *MemoryStore) DeletePendingAssignments(experimentID, participantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.experiments[experimentID]
	if !ok {
		return nil
	}
	s.deleteAssignmentsLocked(func(a *models.TaskAssignment) bool {
		return a.ParticipantID == participantID && a.StartedTime == nil && s.inScopeLocked(exp, a, false)
	})
	return nil
}

func (s *MemoryStore) CountAssignments(experimentID, participantID string, f models.AssignmentFilter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exp, ok := s.experiments[experimentID]
	if !ok {
		return 0, nil
	}
	n := 0
	for _, a := range s.assignments {
		if a.ParticipantID != participantID || !s.inScopeLocked(exp, a, f.Practice) {
			continue
		}
		if f.Matches(a) {
			n++
		}
	}
	return n, nil
}

// inScopeLocked reports whether the assignment's task belongs to the
// experiment in the requested sense: its practice task, or one of its
// regular tasks.
func (s *MemoryStore) inScopeLocked(exp *models.Experiment, a *models.TaskAssignment, practice bool) bool {
	if practice {
		return exp.PracticeTaskID != "" && a.TaskID == exp.PracticeTaskID
	}
	t, ok := s.tasks[a.TaskID]
	return ok && t.ExperimentID == exp.ID
}

func (s *MemoryStore) deleteAssignmentsLocked(drop func(*models.TaskAssignment) bool) {
	kept := s.assignments[:0]
	for _, a := range s.assignments {
		if !drop(a) {
			kept = append(kept, a)
		}
	}
	s.assignments = kept
}

// Ratings

func (s *MemoryStore) ListRatings(experimentID string) ([]*models.TaskRating, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.TaskRating, 0, len(s.ratings[experimentID]))
	for _, r := range s.ratings[experimentID] {
		out = append(out, copyRating(r))
	}
	return out, nil
}

func (s *MemoryStore) ReplaceRatings(experimentID string, ratings []*models.TaskRating) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := make([]*models.TaskRating, 0, len(ratings))
	for _, r := range ratings {
		stored = append(stored, copyRating(r))
	}
	s.ratings[experimentID] = stored
	return nil
}

// Operators

func (s *MemoryStore) GetOperator(username string) (*models.Operator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	op, ok := s.operators[username]
	if !ok {
		return nil, nil
	}
	cp := *op
	return &cp, nil
}

func (s *MemoryStore) UpsertOperator(op *models.Operator) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *op
	s.operators[op.Username] = &cp
	return nil
}
