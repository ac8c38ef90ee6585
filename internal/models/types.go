package models

import (
	"encoding/json"
	"time"
)

// TaskType is the closed set of task kinds the mobile client knows how to run.
// The task data blob is interpreted client-side; the server never looks inside.
type TaskType string

const (
	TaskTypeCloze             TaskType = "cloze"
	TaskTypeDigitSpan         TaskType = "digit-span"
	TaskTypeLexicalDecision   TaskType = "lexical-decision"
	TaskTypeNBack             TaskType = "n-back"
	TaskTypePictureNaming     TaskType = "picture-naming"
	TaskTypeQuestionAnswering TaskType = "question-answering"
	TaskTypeReactionTime      TaskType = "reaction-time"
	TaskTypeReading           TaskType = "reading"
	TaskTypeSimonGame         TaskType = "simon-game"
	TaskTypeTrailMaking       TaskType = "trail-making"
)

// TaskTypeNames maps task types to their operator-facing display names.
var TaskTypeNames = map[TaskType]string{
	TaskTypeCloze:             "Cloze test",
	TaskTypeDigitSpan:         "Digit span",
	TaskTypeLexicalDecision:   "Lexical decision",
	TaskTypeNBack:             "n-back",
	TaskTypePictureNaming:     "Picture-naming",
	TaskTypeQuestionAnswering: "Question answering",
	TaskTypeReactionTime:      "Reaction time",
	TaskTypeReading:           "Reading",
	TaskTypeSimonGame:         "Simon game",
	TaskTypeTrailMaking:       "Trail making",
}

func (t TaskType) Valid() bool {
	_, ok := TaskTypeNames[t]
	return ok
}

// RatingType selects the widget used for a follow-up rating question.
type RatingType string

const (
	RatingTypeEmoticon         RatingType = "emoticon"
	RatingTypeEmoticonReversed RatingType = "emoticon-reversed"
	RatingTypeRadio            RatingType = "radio"
	RatingTypeRadioVertical    RatingType = "radio-vertical"
	RatingTypeSlider           RatingType = "slider"
)

// RatingTypeNames maps rating types to their operator-facing display names.
var RatingTypeNames = map[RatingType]string{
	RatingTypeEmoticon:         "Emoticons (right-positive)",
	RatingTypeEmoticonReversed: "Emoticons (left-positive)",
	RatingTypeRadio:            "Radio buttons",
	RatingTypeRadioVertical:    "Radio buttons (vertical)",
	RatingTypeSlider:           "Slider",
}

func (t RatingType) Valid() bool {
	_, ok := RatingTypeNames[t]
	return ok
}

// Participant is a study subject. Exactly one of DeviceKey and RegistrationKey
// is non-empty at any time: RegistrationKey before the registration handshake,
// DeviceKey after it.
type Participant struct {
	ID              string
	Label           string
	DeviceKey       string
	RegistrationKey string
}

func (p *Participant) Registered() bool { return p.DeviceKey != "" }

// Experiment is a typed study with ordered tasks, an optional practice task,
// rating questions and prerequisite experiments.
type Experiment struct {
	ID                            string
	TaskType                      TaskType
	Title                         string
	CoverImageURL                 string
	Instructions                  string
	InstructionsAfterTask         string
	InstructionsAfterPracticeTask string
	InstructionsAfterFinalTask    string
	PracticeTaskID                string
	RequiredExperiments           []string
	Active                        bool
}

// Task is a unit of work. ExperimentID is empty for practice tasks, which are
// reached through Experiment.PracticeTaskID instead.
type Task struct {
	ID           string
	Label        string
	ExperimentID string
	Data         json.RawMessage
}

// AssignmentState is derived from the assignment's timestamps and canceled
// flag; it is never stored.
type AssignmentState string

const (
	AssignmentPending   AssignmentState = "pending"
	AssignmentActive    AssignmentState = "active"
	AssignmentCompleted AssignmentState = "completed"
	AssignmentCanceled  AssignmentState = "canceled"
)

// TaskAssignment pairs a participant with a task. The integer ID is assigned
// in insertion order and defines the "next task" order within an experiment.
type TaskAssignment struct {
	ID            int64
	ParticipantID string
	TaskID        string
	Results       json.RawMessage
	StartedTime   *time.Time
	FinishedTime  *time.Time
	Canceled      bool
}

func (a *TaskAssignment) State() AssignmentState {
	switch {
	case a.StartedTime == nil:
		return AssignmentPending
	case a.FinishedTime == nil:
		return AssignmentActive
	case a.Canceled:
		return AssignmentCanceled
	default:
		return AssignmentCompleted
	}
}

// Start transitions Pending -> Active.
func (a *TaskAssignment) Start(now time.Time) {
	a.StartedTime = &now
}

// Finish transitions Active -> Completed, recording the results blob.
func (a *TaskAssignment) Finish(results json.RawMessage, now time.Time) {
	a.Results = results
	a.FinishedTime = &now
}

// Cancel transitions Active -> Canceled. Results stay empty.
func (a *TaskAssignment) Cancel(now time.Time) {
	a.FinishedTime = &now
	a.Canceled = true
}

// AssignmentFilter narrows assignment counts. Practice selects between the
// experiment's regular tasks and its practice task. Started is historical:
// any non-nil value, including false, restricts to assignments with a start
// time; callers rely on that reading.
type AssignmentFilter struct {
	Practice bool
	Started  *bool
	Finished *bool
	Canceled *bool
}

// Matches reports whether the assignment passes the Started/Finished/Canceled
// parts of the filter. Practice scoping needs the experiment and is applied by
// the store.
func (f AssignmentFilter) Matches(a *TaskAssignment) bool {
	if f.Started != nil && a.StartedTime == nil {
		return false
	}
	if f.Finished != nil {
		if (a.FinishedTime != nil) != *f.Finished {
			return false
		}
	}
	if f.Canceled != nil && a.Canceled != *f.Canceled {
		return false
	}
	return true
}

// Operator is an admin account for the operator surface. Participants never
// hold one; their credentials are the device-key pair.
type Operator struct {
	Username string
	PassHash []byte
}

// TaskRating is an experiment-level follow-up question shown after tasks.
type TaskRating struct {
	ID           string
	ExperimentID string
	Question     string
	RatingType   RatingType
	LowExtreme   string
	HighExtreme  string
}
