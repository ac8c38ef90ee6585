package services

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/okralab/okra-server/internal/models"
	"github.com/okralab/okra-server/internal/store"
)

type engineFixture struct {
	st     *store.MemoryStore
	svc    *AssignmentService
	exp    *models.Experiment
	pid    string
	t1, t2 *models.Task
}

// newEngineFixture seeds one active experiment with two regular tasks and a
// pre-created assignment for each, in order.
func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	st := store.NewMemoryStore()
	pid := uuid.NewString()
	if err := st.AddParticipant(&models.Participant{ID: pid, Label: "p1", DeviceKey: "devkey"}); err != nil {
		t.Fatalf("AddParticipant: %v", err)
	}
	exp := &models.Experiment{
		ID:                    uuid.NewString(),
		TaskType:              models.TaskTypeReactionTime,
		Title:                 "Reaction",
		Instructions:          "go fast",
		InstructionsAfterTask: "after",
		Active:                true,
	}
	if err := st.SaveExperiment(exp); err != nil {
		t.Fatalf("SaveExperiment: %v", err)
	}
	t1 := &models.Task{ID: uuid.NewString(), Label: "t1", ExperimentID: exp.ID}
	t2 := &models.Task{ID: uuid.NewString(), Label: "t2", ExperimentID: exp.ID}
	for _, task := range []*models.Task{t1, t2} {
		if err := st.SaveTask(task); err != nil {
			t.Fatalf("SaveTask: %v", err)
		}
		if err := st.CreateAssignment(&models.TaskAssignment{ParticipantID: pid, TaskID: task.ID}); err != nil {
			t.Fatalf("CreateAssignment: %v", err)
		}
	}
	svc := NewAssignmentService(st)
	tick := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}
	return &engineFixture{st: st, svc: svc, exp: exp, pid: pid, t1: t1, t2: t2}
}

func (f *engineFixture) assignments(t *testing.T) []*models.TaskAssignment {
	t.Helper()
	out, err := f.st.ListAssignments(f.exp.ID, f.pid, false)
	if err != nil {
		t.Fatalf("ListAssignments: %v", err)
	}
	return out
}

func TestStartTaskHandsOutOldestPending(t *testing.T) {
	f := newEngineFixture(t)
	started, err := f.svc.StartTask(f.exp.ID, f.pid, false)
	if err != nil {
		t.Fatalf("StartTask: %v", err)
	}
	if started.Task.ID != f.t1.ID {
		t.Fatalf("expected first task %s, got %s", f.t1.ID, started.Task.ID)
	}
	if started.InstructionsAfter != "after" {
		t.Fatalf("unexpected instructions %q", started.InstructionsAfter)
	}
	total, done, err := f.svc.Counts(f.exp.ID, f.pid)
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if total != 2 || done != 1 {
		t.Fatalf("expected 2/1, got %d/%d", total, done)
	}
}

func TestStartTaskCancelsPriorActive(t *testing.T) {
	f := newEngineFixture(t)
	if _, err := f.svc.StartTask(f.exp.ID, f.pid, false); err != nil {
		t.Fatalf("first start: %v", err)
	}
	started, err := f.svc.StartTask(f.exp.ID, f.pid, false)
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	if started.Task.ID != f.t2.ID {
		t.Fatalf("expected second task %s, got %s", f.t2.ID, started.Task.ID)
	}
	assignments := f.assignments(t)
	first := assignments[0]
	if first.State() != models.AssignmentCanceled {
		t.Fatalf("expected first assignment canceled, state %s", first.State())
	}
	if first.FinishedTime == nil || !first.Canceled || first.Results != nil {
		t.Fatalf("unexpected canceled assignment: %+v", first)
	}
	if first.FinishedTime.Before(*first.StartedTime) {
		t.Fatalf("finished before started")
	}
	// at most one active
	active := 0
	for _, a := range assignments {
		if a.State() == models.AssignmentActive {
			active++
		}
	}
	if active != 1 {
		t.Fatalf("expected exactly one active assignment, got %d", active)
	}
}

func TestStartTaskExhaustionSweepSticks(t *testing.T) {
	f := newEngineFixture(t)
	for i := 0; i < 2; i++ {
		if _, err := f.svc.StartTask(f.exp.ID, f.pid, false); err != nil {
			t.Fatalf("start %d: %v", i, err)
		}
	}
	_, err := f.svc.StartTask(f.exp.ID, f.pid, false)
	se, ok := AsServiceError(err)
	if !ok || se.Code != ErrorNoTasksAvailable {
		t.Fatalf("expected NoTasksAvailable, got %v", err)
	}
	if se.Message != "No tasks left" {
		t.Fatalf("unexpected message %q", se.Message)
	}
	// The sweep ran before the failure and must not be rolled back.
	second := f.assignments(t)[1]
	if second.State() != models.AssignmentCanceled {
		t.Fatalf("expected second assignment canceled after exhaustion, state %s", second.State())
	}
}

func TestStartTaskFinalInstructions(t *testing.T) {
	f := newEngineFixture(t)
	f.exp.InstructionsAfterFinalTask = "final"
	if err := f.st.SaveExperiment(f.exp); err != nil {
		t.Fatalf("SaveExperiment: %v", err)
	}
	started, err := f.svc.StartTask(f.exp.ID, f.pid, false)
	if err != nil {
		t.Fatalf("first start: %v", err)
	}
	if started.InstructionsAfter != "after" {
		t.Fatalf("first task should get plain instructions, got %q", started.InstructionsAfter)
	}
	started, err = f.svc.StartTask(f.exp.ID, f.pid, false)
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	if started.InstructionsAfter != "final" {
		t.Fatalf("last task should get final instructions, got %q", started.InstructionsAfter)
	}
}

func TestFinishTask(t *testing.T) {
	f := newEngineFixture(t)
	if _, err := f.svc.StartTask(f.exp.ID, f.pid, false); err != nil {
		t.Fatalf("start: %v", err)
	}
	results := json.RawMessage(`{"foo":"bar"}`)
	if err := f.svc.FinishTask(f.t1.ID, f.pid, results); err != nil {
		t.Fatalf("FinishTask: %v", err)
	}
	a := f.assignments(t)[0]
	if a.State() != models.AssignmentCompleted {
		t.Fatalf("expected completed, state %s", a.State())
	}
	if string(a.Results) != `{"foo":"bar"}` {
		t.Fatalf("unexpected results %s", a.Results)
	}
	if a.Canceled {
		t.Fatalf("completed assignment must not be canceled")
	}

	if err := f.svc.FinishTask(f.t1.ID, f.pid, results); err == nil {
		t.Fatalf("expected error finishing twice")
	} else if se, ok := AsServiceError(err); !ok || se.Code != ErrorNotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestFinishTaskUnknownTask(t *testing.T) {
	f := newEngineFixture(t)
	for _, id := range []string{uuid.NewString(), "not-a-uuid"} {
		err := f.svc.FinishTask(id, f.pid, nil)
		if se, ok := AsServiceError(err); !ok || se.Code != ErrorNotFound {
			t.Fatalf("expected NotFound for %q, got %v", id, err)
		}
	}
}

func TestPracticeSynthesis(t *testing.T) {
	f := newEngineFixture(t)
	pt := &models.Task{ID: uuid.NewString(), Label: "practice"}
	if err := f.st.SaveTask(pt); err != nil {
		t.Fatalf("SaveTask: %v", err)
	}
	f.exp.PracticeTaskID = pt.ID
	f.exp.InstructionsAfterPracticeTask = "after practice"
	if err := f.st.SaveExperiment(f.exp); err != nil {
		t.Fatalf("SaveExperiment: %v", err)
	}

	started, err := f.svc.StartTask(f.exp.ID, f.pid, true)
	if err != nil {
		t.Fatalf("practice start: %v", err)
	}
	if started.Task.ID != pt.ID {
		t.Fatalf("expected practice task, got %s", started.Task.ID)
	}
	if started.InstructionsAfter != "after practice" {
		t.Fatalf("unexpected instructions %q", started.InstructionsAfter)
	}

	// A second practice start synthesizes another assignment and cancels the
	// first.
	if _, err := f.svc.StartTask(f.exp.ID, f.pid, true); err != nil {
		t.Fatalf("second practice start: %v", err)
	}
	n, err := f.svc.CountTasks(f.exp.ID, f.pid, models.AssignmentFilter{Practice: true})
	if err != nil {
		t.Fatalf("CountTasks: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 practice assignments, got %d", n)
	}
	practice, err := f.st.ListAssignments(f.exp.ID, f.pid, true)
	if err != nil {
		t.Fatalf("ListAssignments: %v", err)
	}
	if practice[0].State() != models.AssignmentCanceled || practice[1].State() != models.AssignmentActive {
		t.Fatalf("unexpected practice states %s/%s", practice[0].State(), practice[1].State())
	}

	// Regular counters must be untouched.
	total, done, err := f.svc.Counts(f.exp.ID, f.pid)
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if total != 2 || done != 0 {
		t.Fatalf("expected 2/0 regular counts, got %d/%d", total, done)
	}
}

func TestPracticeWithoutPracticeTask(t *testing.T) {
	f := newEngineFixture(t)
	_, err := f.svc.StartTask(f.exp.ID, f.pid, true)
	if se, ok := AsServiceError(err); !ok || se.Code != ErrorNoTasksAvailable {
		t.Fatalf("expected NoTasksAvailable, got %v", err)
	}
}

func TestAvailabilityRequiresPrerequisiteStarts(t *testing.T) {
	f := newEngineFixture(t)
	dependent := &models.Experiment{
		ID:                  uuid.NewString(),
		TaskType:            models.TaskTypeReading,
		Title:               "Second",
		Active:              true,
		RequiredExperiments: []string{f.exp.ID},
	}
	if err := f.st.SaveExperiment(dependent); err != nil {
		t.Fatalf("SaveExperiment: %v", err)
	}
	dt := &models.Task{ID: uuid.NewString(), Label: "d1", ExperimentID: dependent.ID}
	if err := f.st.SaveTask(dt); err != nil {
		t.Fatalf("SaveTask: %v", err)
	}
	if err := f.st.CreateAssignment(&models.TaskAssignment{ParticipantID: f.pid, TaskID: dt.ID}); err != nil {
		t.Fatalf("CreateAssignment: %v", err)
	}

	if _, err := f.svc.GetAvailableExperiment(dependent.ID, f.pid); err == nil {
		t.Fatalf("expected dependent experiment to be unavailable")
	} else if se, ok := AsServiceError(err); !ok || se.Code != ErrorNotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
	list, err := f.svc.AvailableExperiments(f.pid)
	if err != nil {
		t.Fatalf("AvailableExperiments: %v", err)
	}
	if len(list) != 1 || list[0].ID != f.exp.ID {
		t.Fatalf("expected only the prerequisite to be listed, got %d entries", len(list))
	}

	// Start both prerequisite assignments; the second start cancels the first,
	// which still counts as started.
	for i := 0; i < 2; i++ {
		if _, err := f.svc.StartTask(f.exp.ID, f.pid, false); err != nil {
			t.Fatalf("start %d: %v", i, err)
		}
	}
	if _, err := f.svc.GetAvailableExperiment(dependent.ID, f.pid); err != nil {
		t.Fatalf("expected dependent experiment available, got %v", err)
	}
	list, err = f.svc.AvailableExperiments(f.pid)
	if err != nil {
		t.Fatalf("AvailableExperiments: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected both experiments listed, got %d", len(list))
	}
}

func TestInactiveExperimentHidden(t *testing.T) {
	f := newEngineFixture(t)
	f.exp.Active = false
	if err := f.st.SaveExperiment(f.exp); err != nil {
		t.Fatalf("SaveExperiment: %v", err)
	}
	if _, err := f.svc.GetAvailableExperiment(f.exp.ID, f.pid); err == nil {
		t.Fatalf("expected inactive experiment to be hidden")
	}
	list, err := f.svc.AvailableExperiments(f.pid)
	if err != nil {
		t.Fatalf("AvailableExperiments: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected empty list, got %d entries", len(list))
	}
}

func TestGetAvailableExperimentMalformedID(t *testing.T) {
	f := newEngineFixture(t)
	_, err := f.svc.GetAvailableExperiment("nope", f.pid)
	if se, ok := AsServiceError(err); !ok || se.Code != ErrorNotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}
