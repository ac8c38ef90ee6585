// Package store provides the persistence layer: a durable SQLite store for
// deployments and an in-memory store with identical semantics for tests and
// local development.
package store

import (
	"github.com/okralab/okra-server/internal/models"
)

// Store is the full persistence surface. The services consume narrow slices
// of it; both implementations satisfy every service interface.
type Store interface {
	AddParticipant(p *models.Participant) error
	GetParticipant(id string) (*models.Participant, error)
	GetParticipantByLabel(label string) (*models.Participant, error)
	ListParticipants() ([]*models.Participant, error)
	UpdateParticipant(p *models.Participant) error
	DeleteParticipant(id string) (bool, error)

	GetExperiment(id string) (*models.Experiment, error)
	ListExperiments() ([]*models.Experiment, error)
	ListExperimentsForParticipant(participantID string) ([]*models.Experiment, error)
	SaveExperiment(exp *models.Experiment) error
	DeleteExperiment(id string) (bool, error)

	GetTask(id string) (*models.Task, error)
	GetTaskByLabel(experimentID, label string) (*models.Task, error)
	ListTasks(experimentID string) ([]*models.Task, error)
	SaveTask(t *models.Task) error
	DeleteTask(id string) (bool, error)

	CreateAssignment(a *models.TaskAssignment) error
	UpdateAssignment(a *models.TaskAssignment) error
	ListActiveAssignments(participantID string) ([]*models.TaskAssignment, error)
	NextPendingAssignment(experimentID, participantID string) (*models.TaskAssignment, error)
	OldestUnfinishedAssignment(taskID, participantID string) (*models.TaskAssignment, error)
	ListAssignments(experimentID, participantID string, practice bool) ([]*models.TaskAssignment, error)
	ListAllAssignments() ([]*models.TaskAssignment, error)
	DeletePendingAssignments(experimentID, participantID string) error
	CountAssignments(experimentID, participantID string, f models.AssignmentFilter) (int, error)

	ListRatings(experimentID string) ([]*models.TaskRating, error)
	ReplaceRatings(experimentID string, ratings []*models.TaskRating) error

	GetOperator(username string) (*models.Operator, error)
	UpsertOperator(op *models.Operator) error
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)
