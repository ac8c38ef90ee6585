package services

import (
	"time"

	"github.com/google/uuid"

	"github.com/okralab/okra-server/internal/models"
)

type AssignmentStore interface {
	GetExperiment(id string) (*models.Experiment, error)
	ListExperimentsForParticipant(participantID string) ([]*models.Experiment, error)
	GetTask(id string) (*models.Task, error)
	ListActiveAssignments(participantID string) ([]*models.TaskAssignment, error)
	NextPendingAssignment(experimentID, participantID string) (*models.TaskAssignment, error)
	OldestUnfinishedAssignment(taskID, participantID string) (*models.TaskAssignment, error)
	CreateAssignment(a *models.TaskAssignment) error
	UpdateAssignment(a *models.TaskAssignment) error
	CountAssignments(experimentID, participantID string, f models.AssignmentFilter) (int, error)
}

// AssignmentService is the lifecycle engine: it creates practice assignments,
// selects the next pending one, enforces the state machine and the global
// one-task-at-a-time rule, and answers the progress counters.
type AssignmentService struct {
	store AssignmentStore
	locks *participantLocks
	now   func() time.Time
}

func NewAssignmentService(store AssignmentStore) *AssignmentService {
	return &AssignmentService{
		store: store,
		locks: newParticipantLocks(),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// StartedTask is the outcome of a successful StartTask call.
// InstructionsAfter is empty when the experiment defines none; the wire layer
// renders that as null.
type StartedTask struct {
	Task              *models.Task
	InstructionsAfter string
}

// IsAvailable reports whether the experiment is visible to the participant:
// it must be active and every prerequisite experiment must have all of its
// pre-created assignments at least started. The check is one hop deep, so a
// cycle in the requirements blocks the experiments involved until an operator
// fixes it.
func (s *AssignmentService) IsAvailable(exp *models.Experiment, participantID string) (bool, error) {
	if !exp.Active {
		return false, nil
	}
	started := true
	for _, reqID := range exp.RequiredExperiments {
		req, err := s.store.GetExperiment(reqID)
		if err != nil {
			return false, err
		}
		if req == nil {
			continue
		}
		nStarted, err := s.store.CountAssignments(req.ID, participantID, models.AssignmentFilter{Started: &started})
		if err != nil {
			return false, err
		}
		nTotal, err := s.store.CountAssignments(req.ID, participantID, models.AssignmentFilter{})
		if err != nil {
			return false, err
		}
		if nStarted < nTotal {
			return false, nil
		}
	}
	return true, nil
}

// AvailableExperiments returns the experiments shown in the participant's
// list: those they hold assignments in, filtered by availability, in the
// store's (title, id) order.
func (s *AssignmentService) AvailableExperiments(participantID string) ([]*models.Experiment, error) {
	exps, err := s.store.ListExperimentsForParticipant(participantID)
	if err != nil {
		return nil, err
	}
	out := make([]*models.Experiment, 0, len(exps))
	for _, exp := range exps {
		ok, err := s.IsAvailable(exp, participantID)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, exp)
		}
	}
	return out, nil
}

// GetAvailableExperiment fetches one experiment for the participant.
// Unknown ids and unavailable experiments both come back as NotFound; the
// client cannot tell them apart.
func (s *AssignmentService) GetAvailableExperiment(experimentID, participantID string) (*models.Experiment, error) {
	if _, err := uuid.Parse(experimentID); err != nil {
		return nil, NewNotFoundError("Not found")
	}
	exp, err := s.store.GetExperiment(experimentID)
	if err != nil {
		return nil, err
	}
	if exp == nil {
		return nil, NewNotFoundError("Not found")
	}
	ok, err := s.IsAvailable(exp, participantID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, NewNotFoundError("Not found")
	}
	return exp, nil
}

// StartTask cancels whatever the participant had running, then hands out the
// next task of the experiment: a freshly synthesized practice assignment when
// practice is set, otherwise the oldest pending pre-created assignment.
//
// The cancel sweep is unconditional and global across all experiments, and it
// sticks even when no task is left to hand out afterwards.
func (s *AssignmentService) StartTask(experimentID, participantID string, practice bool) (*StartedTask, error) {
	unlock := s.locks.lock(participantID)
	defer unlock()

	exp, err := s.GetAvailableExperiment(experimentID, participantID)
	if err != nil {
		return nil, err
	}

	if err := s.cancelActive(participantID); err != nil {
		return nil, err
	}

	var assignment *models.TaskAssignment
	if practice {
		if exp.PracticeTaskID == "" {
			return nil, NewNoTasksAvailableError()
		}
		assignment = &models.TaskAssignment{
			ParticipantID: participantID,
			TaskID:        exp.PracticeTaskID,
		}
		if err := s.store.CreateAssignment(assignment); err != nil {
			return nil, err
		}
	} else {
		assignment, err = s.store.NextPendingAssignment(exp.ID, participantID)
		if err != nil {
			return nil, err
		}
		if assignment == nil {
			return nil, NewNoTasksAvailableError()
		}
	}

	assignment.Start(s.now())
	if err := s.store.UpdateAssignment(assignment); err != nil {
		return nil, err
	}

	task, err := s.store.GetTask(assignment.TaskID)
	if err != nil {
		return nil, err
	}

	final := false
	if !practice {
		nTotal, nDone, err := s.Counts(exp.ID, participantID)
		if err != nil {
			return nil, err
		}
		final = nDone == nTotal
	}
	return &StartedTask{
		Task:              task,
		InstructionsAfter: instructionsAfter(exp, practice, final),
	}, nil
}

// FinishTask completes the participant's unfinished assignment of the task,
// attaching the uploaded results blob.
func (s *AssignmentService) FinishTask(taskID, participantID string, results []byte) error {
	unlock := s.locks.lock(participantID)
	defer unlock()

	if _, err := uuid.Parse(taskID); err != nil {
		return NewNotFoundError("Not found")
	}
	task, err := s.store.GetTask(taskID)
	if err != nil {
		return err
	}
	if task == nil {
		return NewNotFoundError("Not found")
	}
	assignment, err := s.store.OldestUnfinishedAssignment(taskID, participantID)
	if err != nil {
		return err
	}
	if assignment == nil {
		return NewNotFoundError("Not found")
	}
	assignment.Finish(results, s.now())
	return s.store.UpdateAssignment(assignment)
}

// Counts returns the regular-task totals used for progress and final-task
// detection: all pre-created assignments and the started ones.
func (s *AssignmentService) Counts(experimentID, participantID string) (total, done int, err error) {
	total, err = s.store.CountAssignments(experimentID, participantID, models.AssignmentFilter{})
	if err != nil {
		return 0, 0, err
	}
	started := true
	done, err = s.store.CountAssignments(experimentID, participantID, models.AssignmentFilter{Started: &started})
	if err != nil {
		return 0, 0, err
	}
	return total, done, nil
}

// CountTasks exposes the filtered counter for the operator surface.
func (s *AssignmentService) CountTasks(experimentID, participantID string, f models.AssignmentFilter) (int, error) {
	return s.store.CountAssignments(experimentID, participantID, f)
}

func (s *AssignmentService) cancelActive(participantID string) error {
	active, err := s.store.ListActiveAssignments(participantID)
	if err != nil {
		return err
	}
	for _, a := range active {
		a.Cancel(s.now())
		if err := s.store.UpdateAssignment(a); err != nil {
			return err
		}
	}
	return nil
}

// instructionsAfter picks the instruction string shown after the task:
// the practice variant for practice tasks, the final variant for the last
// regular task, each falling back to the plain after-task instructions.
func instructionsAfter(exp *models.Experiment, practice, final bool) string {
	switch {
	case practice:
		if exp.InstructionsAfterPracticeTask != "" {
			return exp.InstructionsAfterPracticeTask
		}
	case final:
		if exp.InstructionsAfterFinalTask != "" {
			return exp.InstructionsAfterFinalTask
		}
	}
	return exp.InstructionsAfterTask
}
