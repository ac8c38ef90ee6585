package services

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/okralab/okra-server/internal/models"
)

type ExperimentStore interface {
	GetExperiment(id string) (*models.Experiment, error)
	ListExperiments() ([]*models.Experiment, error)
	SaveExperiment(exp *models.Experiment) error
	DeleteExperiment(id string) (bool, error)

	GetTask(id string) (*models.Task, error)
	GetTaskByLabel(experimentID, label string) (*models.Task, error)
	ListTasks(experimentID string) ([]*models.Task, error)
	SaveTask(t *models.Task) error
	DeleteTask(id string) (bool, error)

	GetParticipant(id string) (*models.Participant, error)
	GetParticipantByLabel(label string) (*models.Participant, error)
	ListParticipants() ([]*models.Participant, error)

	ListAssignments(experimentID, participantID string, practice bool) ([]*models.TaskAssignment, error)
	DeletePendingAssignments(experimentID, participantID string) error
	CreateAssignment(a *models.TaskAssignment) error
	CountAssignments(experimentID, participantID string, f models.AssignmentFilter) (int, error)

	ListRatings(experimentID string) ([]*models.TaskRating, error)
	ReplaceRatings(experimentID string, ratings []*models.TaskRating) error
}

// ExperimentService backs the operator surface: the experiment editor with its
// save semantics, the visibility toggle, the results export and the progress
// dashboard.
type ExperimentService struct {
	store ExperimentStore
}

func NewExperimentService(store ExperimentStore) *ExperimentService {
	return &ExperimentService{store: store}
}

type TaskPayload struct {
	ID    string          `json:"id,omitempty"`
	Label string          `json:"label"`
	Data  json.RawMessage `json:"data"`
}

type RatingPayload struct {
	ID          string  `json:"id,omitempty"`
	Question    string  `json:"question"`
	Type        string  `json:"type"`
	LowExtreme  *string `json:"lowExtreme"`
	HighExtreme *string `json:"highExtreme"`
}

// AssignmentPlanEntry names a task by id or label. Started marks assignments
// that already ran and must survive a re-save untouched.
type AssignmentPlanEntry struct {
	ID      *string `json:"id,omitempty"`
	Label   *string `json:"label,omitempty"`
	Started bool    `json:"started"`
}

type ExperimentListEntry struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	TaskType string `json:"taskType"`
	TypeName string `json:"typeName"`
}

type ExperimentDetail struct {
	ID                            string                           `json:"id"`
	TaskType                      string                           `json:"taskType"`
	Title                         string                           `json:"title"`
	Instructions                  string                           `json:"instructions"`
	InstructionsAfterTask         *string                          `json:"instructionsAfterTask"`
	InstructionsAfterPracticeTask *string                          `json:"instructionsAfterPracticeTask"`
	InstructionsAfterFinalTask    *string                          `json:"instructionsAfterFinalTask"`
	PracticeTask                  *TaskPayload                     `json:"practiceTask"`
	Tasks                         []TaskPayload                    `json:"tasks"`
	Ratings                       []RatingPayload                  `json:"ratings"`
	Requirements                  []string                         `json:"requirements"`
	Assignments                   map[string][]AssignmentPlanEntry `json:"assignments"`
	Active                        bool                             `json:"active"`
}

func (s *ExperimentService) ListExperiments() ([]ExperimentListEntry, error) {
	exps, err := s.store.ListExperiments()
	if err != nil {
		return nil, err
	}
	out := make([]ExperimentListEntry, 0, len(exps))
	for _, exp := range exps {
		out = append(out, ExperimentListEntry{
			ID:       exp.ID,
			Title:    exp.Title,
			TaskType: string(exp.TaskType),
			TypeName: models.TaskTypeNames[exp.TaskType],
		})
	}
	return out, nil
}

// Detail assembles the full editable payload the experiment form round-trips.
func (s *ExperimentService) Detail(experimentID string) (*ExperimentDetail, error) {
	exp, err := s.store.GetExperiment(experimentID)
	if err != nil {
		return nil, err
	}
	if exp == nil {
		return nil, NewNotFoundError("Not found")
	}

	detail := &ExperimentDetail{
		ID:                            exp.ID,
		TaskType:                      string(exp.TaskType),
		Title:                         exp.Title,
		Instructions:                  exp.Instructions,
		InstructionsAfterTask:         nullableString(exp.InstructionsAfterTask),
		InstructionsAfterPracticeTask: nullableString(exp.InstructionsAfterPracticeTask),
		InstructionsAfterFinalTask:    nullableString(exp.InstructionsAfterFinalTask),
		Tasks:                         []TaskPayload{},
		Ratings:                       []RatingPayload{},
		Requirements:                  []string{},
		Assignments:                   map[string][]AssignmentPlanEntry{},
		Active:                        exp.Active,
	}

	if exp.PracticeTaskID != "" {
		pt, err := s.store.GetTask(exp.PracticeTaskID)
		if err != nil {
			return nil, err
		}
		if pt != nil {
			detail.PracticeTask = &TaskPayload{ID: pt.ID, Label: pt.Label, Data: pt.Data}
		}
	}

	tasks, err := s.store.ListTasks(exp.ID)
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		detail.Tasks = append(detail.Tasks, TaskPayload{ID: t.ID, Label: t.Label, Data: t.Data})
	}

	ratings, err := s.store.ListRatings(exp.ID)
	if err != nil {
		return nil, err
	}
	for _, r := range ratings {
		detail.Ratings = append(detail.Ratings, RatingPayload{
			ID:          r.ID,
			Question:    r.Question,
			Type:        string(r.RatingType),
			LowExtreme:  nullableString(r.LowExtreme),
			HighExtreme: nullableString(r.HighExtreme),
		})
	}

	for _, reqID := range exp.RequiredExperiments {
		if reqID != exp.ID {
			detail.Requirements = append(detail.Requirements, reqID)
		}
	}

	participants, err := s.store.ListParticipants()
	if err != nil {
		return nil, err
	}
	for _, p := range participants {
		assignments, err := s.store.ListAssignments(exp.ID, p.ID, false)
		if err != nil {
			return nil, err
		}
		entries := make([]AssignmentPlanEntry, 0, len(assignments))
		for _, a := range assignments {
			taskID := a.TaskID
			entries = append(entries, AssignmentPlanEntry{
				ID:      &taskID,
				Started: a.StartedTime != nil,
			})
		}
		detail.Assignments[p.ID] = entries
	}
	return detail, nil
}

// Save applies the editor payload. Tasks keep their ids when the payload
// carries them and disappear when absent from the new list; started
// assignments are preserved while every pending one is wiped and recreated
// from the plan; ratings are recreated wholesale; the practice task is
// replaced unless the payload references the same id.
func (s *ExperimentService) Save(experimentID string, raw map[string]json.RawMessage) (*ExperimentDetail, error) {
	if experimentID == "" {
		experimentID = uuid.NewString()
	}
	exp, err := s.store.GetExperiment(experimentID)
	if err != nil {
		return nil, err
	}
	if exp == nil {
		exp = &models.Experiment{ID: experimentID}
	}

	var taskType string
	if err := requireKey(raw, "taskType", &taskType); err != nil {
		return nil, err
	}
	if !models.TaskType(taskType).Valid() {
		return nil, NewInvalidError(fmt.Sprintf("Unknown task type: %q", taskType))
	}
	exp.TaskType = models.TaskType(taskType)
	if err := requireKey(raw, "title", &exp.Title); err != nil {
		return nil, err
	}
	if err := requireKey(raw, "instructions", &exp.Instructions); err != nil {
		return nil, err
	}
	var after, afterPractice, afterFinal *string
	if err := requireKey(raw, "instructionsAfterTask", &after); err != nil {
		return nil, err
	}
	if err := requireKey(raw, "instructionsAfterPracticeTask", &afterPractice); err != nil {
		return nil, err
	}
	if err := requireKey(raw, "instructionsAfterFinalTask", &afterFinal); err != nil {
		return nil, err
	}
	exp.InstructionsAfterTask = stringValue(after)
	exp.InstructionsAfterPracticeTask = stringValue(afterPractice)
	exp.InstructionsAfterFinalTask = stringValue(afterFinal)

	var practicePayload *TaskPayload
	if err := requireKey(raw, "practiceTask", &practicePayload); err != nil {
		return nil, err
	}
	var taskPayloads []TaskPayload
	if err := requireKey(raw, "tasks", &taskPayloads); err != nil {
		return nil, err
	}
	var plan map[string][]AssignmentPlanEntry
	if err := requireKey(raw, "assignments", &plan); err != nil {
		return nil, err
	}
	var ratingPayloads []RatingPayload
	if err := requireKey(raw, "ratings", &ratingPayloads); err != nil {
		return nil, err
	}
	var requirements []string
	if rawReqs, ok := raw["requirements"]; ok {
		if err := json.Unmarshal(rawReqs, &requirements); err != nil {
			return nil, NewInvalidError("invalid requirements")
		}
	}
	if rawActive, ok := raw["active"]; ok {
		if err := json.Unmarshal(rawActive, &exp.Active); err != nil {
			return nil, NewInvalidError("Invalid value for key: 'active'")
		}
	}

	if err := s.savePracticeTask(exp, practicePayload); err != nil {
		return nil, err
	}

	exp.RequiredExperiments = nil
	for _, reqID := range requirements {
		if reqID == exp.ID {
			// A self-requirement can never be satisfied; the form filters
			// it out and the server drops it too.
			continue
		}
		exp.RequiredExperiments = append(exp.RequiredExperiments, reqID)
	}
	if err := s.store.SaveExperiment(exp); err != nil {
		return nil, err
	}

	if err := s.saveTasks(exp, taskPayloads); err != nil {
		return nil, err
	}
	if err := s.saveAssignmentPlan(exp, plan); err != nil {
		return nil, err
	}
	if err := s.saveRatings(exp, ratingPayloads); err != nil {
		return nil, err
	}
	return s.Detail(exp.ID)
}

func (s *ExperimentService) savePracticeTask(exp *models.Experiment, payload *TaskPayload) error {
	if exp.PracticeTaskID != "" {
		keep := payload != nil && payload.ID == exp.PracticeTaskID
		if !keep {
			if _, err := s.store.DeleteTask(exp.PracticeTaskID); err != nil {
				return err
			}
			exp.PracticeTaskID = ""
		}
	}
	if payload == nil {
		return nil
	}
	id := payload.ID
	if id == "" {
		id = uuid.NewString()
	}
	task, err := s.store.GetTask(id)
	if err != nil {
		return err
	}
	if task == nil {
		task = &models.Task{ID: id}
	}
	task.Label = payload.Label
	task.Data = payload.Data
	task.ExperimentID = ""
	if err := s.store.SaveTask(task); err != nil {
		return err
	}
	exp.PracticeTaskID = task.ID
	return nil
}

func (s *ExperimentService) saveTasks(exp *models.Experiment, payloads []TaskPayload) error {
	existing, err := s.store.ListTasks(exp.ID)
	if err != nil {
		return err
	}
	toDelete := map[string]bool{}
	for _, t := range existing {
		toDelete[t.ID] = true
	}
	for _, payload := range payloads {
		id := payload.ID
		if id == "" {
			id = uuid.NewString()
		}
		task, err := s.store.GetTask(id)
		if err != nil {
			return err
		}
		if task == nil {
			task = &models.Task{ID: id}
		}
		delete(toDelete, id)
		task.ExperimentID = exp.ID
		task.Label = payload.Label
		task.Data = payload.Data
		if err := s.store.SaveTask(task); err != nil {
			return err
		}
	}
	for id := range toDelete {
		if _, err := s.store.DeleteTask(id); err != nil {
			return err
		}
	}
	return nil
}

func (s *ExperimentService) saveAssignmentPlan(exp *models.Experiment, plan map[string][]AssignmentPlanEntry) error {
	for key, entries := range plan {
		participant, err := s.resolveParticipant(key)
		if err != nil {
			return err
		}
		if err := s.store.DeletePendingAssignments(exp.ID, participant.ID); err != nil {
			return err
		}
		for _, entry := range entries {
			var task *models.Task
			switch {
			case entry.ID != nil:
				task, err = s.store.GetTask(*entry.ID)
				if err != nil {
					return err
				}
				if task != nil && task.ExperimentID != exp.ID {
					task = nil
				}
			case entry.Label != nil:
				task, err = s.store.GetTaskByLabel(exp.ID, *entry.Label)
				if err != nil {
					return err
				}
			default:
				return NewInvalidError("Missing task ID or label")
			}
			if task == nil {
				return NewInvalidError(fmt.Sprintf("Unknown task for participant %q", key))
			}
			if entry.Started {
				// Already ran; the matching assignment was kept above.
				continue
			}
			a := &models.TaskAssignment{ParticipantID: participant.ID, TaskID: task.ID}
			if err := s.store.CreateAssignment(a); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *ExperimentService) resolveParticipant(key string) (*models.Participant, error) {
	if _, err := uuid.Parse(key); err == nil {
		p, err := s.store.GetParticipant(key)
		if err != nil {
			return nil, err
		}
		if p != nil {
			return p, nil
		}
	}
	p, err := s.store.GetParticipantByLabel(key)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, NewInvalidError(fmt.Sprintf("Unknown participant: %q", key))
	}
	return p, nil
}

func (s *ExperimentService) saveRatings(exp *models.Experiment, payloads []RatingPayload) error {
	ratings := make([]*models.TaskRating, 0, len(payloads))
	for _, payload := range payloads {
		if !models.RatingType(payload.Type).Valid() {
			return NewInvalidError(fmt.Sprintf("Unknown rating type: %q", payload.Type))
		}
		id := payload.ID
		if id == "" {
			id = uuid.NewString()
		}
		ratings = append(ratings, &models.TaskRating{
			ID:           id,
			ExperimentID: exp.ID,
			Question:     payload.Question,
			RatingType:   models.RatingType(payload.Type),
			LowExtreme:   stringValue(payload.LowExtreme),
			HighExtreme:  stringValue(payload.HighExtreme),
		})
	}
	return s.store.ReplaceRatings(exp.ID, ratings)
}

func (s *ExperimentService) SetVisible(experimentID string, visible bool) error {
	exp, err := s.store.GetExperiment(experimentID)
	if err != nil {
		return err
	}
	if exp == nil {
		return NewNotFoundError("Not found")
	}
	exp.Active = visible
	return s.store.SaveExperiment(exp)
}

func (s *ExperimentService) Delete(experimentID string) error {
	exp, err := s.store.GetExperiment(experimentID)
	if err != nil {
		return err
	}
	if exp == nil {
		return NewNotFoundError("Not found")
	}
	// The practice task hangs off the experiment by back-pointer only, so the
	// row cascade does not reach it.
	if exp.PracticeTaskID != "" {
		if _, err := s.store.DeleteTask(exp.PracticeTaskID); err != nil {
			return err
		}
	}
	ok, err := s.store.DeleteExperiment(experimentID)
	if err != nil {
		return err
	}
	if !ok {
		return NewNotFoundError("Not found")
	}
	return nil
}

type ResultsTask struct {
	ID           string          `json:"id"`
	Label        string          `json:"label"`
	Results      json.RawMessage `json:"results"`
	StartedTime  *time.Time      `json:"started_time"`
	FinishedTime *time.Time      `json:"finished_time"`
}

type ParticipantResults struct {
	Participant   string        `json:"participant"`
	PracticeTasks []ResultsTask `json:"practiceTasks"`
	Tasks         []ResultsTask `json:"tasks"`
}

type ExperimentResults struct {
	Experiment ExperimentListEntry  `json:"experiment"`
	Results    []ParticipantResults `json:"results"`
}

// Results collects every assignment that carries an uploaded results blob,
// practice and regular, per participant.
func (s *ExperimentService) Results(experimentID string) (*ExperimentResults, error) {
	exp, err := s.store.GetExperiment(experimentID)
	if err != nil {
		return nil, err
	}
	if exp == nil {
		return nil, NewNotFoundError("Not found")
	}
	participants, err := s.store.ListParticipants()
	if err != nil {
		return nil, err
	}

	out := &ExperimentResults{
		Experiment: ExperimentListEntry{ID: exp.ID, Title: exp.Title, TaskType: string(exp.TaskType)},
		Results:    []ParticipantResults{},
	}
	for _, p := range participants {
		entry := ParticipantResults{
			Participant:   p.ID,
			PracticeTasks: []ResultsTask{},
			Tasks:         []ResultsTask{},
		}
		for _, practice := range []bool{true, false} {
			assignments, err := s.store.ListAssignments(exp.ID, p.ID, practice)
			if err != nil {
				return nil, err
			}
			for _, a := range assignments {
				if a.Results == nil {
					continue
				}
				task, err := s.store.GetTask(a.TaskID)
				if err != nil {
					return nil, err
				}
				label := ""
				if task != nil {
					label = task.Label
				}
				rt := ResultsTask{
					ID:           a.TaskID,
					Label:        label,
					Results:      a.Results,
					StartedTime:  a.StartedTime,
					FinishedTime: a.FinishedTime,
				}
				if practice {
					entry.PracticeTasks = append(entry.PracticeTasks, rt)
				} else {
					entry.Tasks = append(entry.Tasks, rt)
				}
			}
		}
		out.Results = append(out.Results, entry)
	}
	return out, nil
}

type ParticipantProgress struct {
	ID                     string  `json:"id"`
	Label                  string  `json:"label"`
	NPracticeTasksFinished int     `json:"n_practice_tasks_finished"`
	NTasks                 int     `json:"n_tasks"`
	NTasksUnfinished       int     `json:"n_tasks_unfinished"`
	PercentTasksUnfinished float64 `json:"percent_tasks_unfinished"`
	NTasksFinished         int     `json:"n_tasks_finished"`
	PercentTasksFinished   float64 `json:"percent_tasks_finished"`
	NTasksCanceled         int     `json:"n_tasks_canceled"`
	PercentTasksCanceled   float64 `json:"percent_tasks_canceled"`
}

type ExperimentProgress struct {
	Experiment   ExperimentListEntry   `json:"experiment"`
	Participants []ParticipantProgress `json:"participants"`
}

// Progress computes the dashboard counters for every participant.
func (s *ExperimentService) Progress(experimentID string) (*ExperimentProgress, error) {
	exp, err := s.store.GetExperiment(experimentID)
	if err != nil {
		return nil, err
	}
	if exp == nil {
		return nil, NewNotFoundError("Not found")
	}
	participants, err := s.store.ListParticipants()
	if err != nil {
		return nil, err
	}

	truth, falsity := true, false
	out := &ExperimentProgress{
		Experiment: ExperimentListEntry{
			ID:       exp.ID,
			Title:    exp.Title,
			TaskType: string(exp.TaskType),
			TypeName: models.TaskTypeNames[exp.TaskType],
		},
		Participants: []ParticipantProgress{},
	}
	for _, p := range participants {
		nTasks, err := s.store.CountAssignments(exp.ID, p.ID, models.AssignmentFilter{})
		if err != nil {
			return nil, err
		}
		unfinished, err := s.store.CountAssignments(exp.ID, p.ID, models.AssignmentFilter{Started: &truth, Finished: &falsity, Canceled: &falsity})
		if err != nil {
			return nil, err
		}
		finished, err := s.store.CountAssignments(exp.ID, p.ID, models.AssignmentFilter{Started: &truth, Finished: &truth, Canceled: &falsity})
		if err != nil {
			return nil, err
		}
		canceled, err := s.store.CountAssignments(exp.ID, p.ID, models.AssignmentFilter{Started: &truth, Finished: &truth, Canceled: &truth})
		if err != nil {
			return nil, err
		}
		practiceFinished, err := s.store.CountAssignments(exp.ID, p.ID, models.AssignmentFilter{Practice: true, Finished: &truth, Canceled: &falsity})
		if err != nil {
			return nil, err
		}
		denom := nTasks
		if denom == 0 {
			denom = 1
		}
		out.Participants = append(out.Participants, ParticipantProgress{
			ID:                     p.ID,
			Label:                  p.Label,
			NPracticeTasksFinished: practiceFinished,
			NTasks:                 nTasks,
			NTasksUnfinished:       unfinished,
			PercentTasksUnfinished: float64(unfinished) / float64(denom) * 100,
			NTasksFinished:         finished,
			PercentTasksFinished:   float64(finished) / float64(denom) * 100,
			NTasksCanceled:         canceled,
			PercentTasksCanceled:   float64(canceled) / float64(denom) * 100,
		})
	}
	return out, nil
}

func requireKey[T any](raw map[string]json.RawMessage, key string, dst *T) error {
	val, ok := raw[key]
	if !ok {
		return NewInvalidError(fmt.Sprintf("Missing key: '%s'", key))
	}
	if err := json.Unmarshal(val, dst); err != nil {
		return NewInvalidError(fmt.Sprintf("Invalid value for key: '%s'", key))
	}
	return nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func stringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
