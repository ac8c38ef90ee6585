package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/okralab/okra-server/internal/middleware"
	"github.com/okralab/okra-server/internal/models"
	"github.com/okralab/okra-server/internal/services"
)

// RatingStore is the slice of the store the wire layer reads directly when
// serializing experiments for participants.
type RatingStore interface {
	ListRatings(experimentID string) ([]*models.TaskRating, error)
}

// Info identifies the server to the mobile client.
type Info struct {
	Name    string
	IconURL string
	BaseURL string
}

type Router struct {
	identity    *services.IdentityService
	assignments *services.AssignmentService
	experiments *services.ExperimentService
	auth        *services.AuthService
	ratings     RatingStore
	logger      *zap.Logger
	info        Info
}

func NewRouter(
	identity *services.IdentityService,
	assignments *services.AssignmentService,
	experiments *services.ExperimentService,
	auth *services.AuthService,
	ratings RatingStore,
	logger *zap.Logger,
	info Info,
) *Router {
	return &Router{
		identity:    identity,
		assignments: assignments,
		experiments: experiments,
		auth:        auth,
		ratings:     ratings,
		logger:      logger,
		info:        info,
	}
}

func (rt *Router) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/", rt.handleInfo)
	mux.HandleFunc("/api/register", rt.handleRegister)
	mux.HandleFunc("/api/experiments", rt.handleExperiments)
	mux.HandleFunc("/api/experiments/", rt.handleExperimentScoped)
	mux.HandleFunc("/api/tasks/", rt.handleTaskScoped)

	mux.HandleFunc("/admin/login", rt.handleLogin)
	authed := func(h http.HandlerFunc) http.Handler { return middleware.RequireAuth(h) }
	mux.Handle("/admin/experiments", authed(rt.handleAdminExperiments))
	mux.Handle("/admin/experiments/", authed(rt.handleAdminExperimentScoped))
	mux.Handle("/admin/participants", authed(rt.handleAdminParticipants))
	mux.Handle("/admin/participants/", authed(rt.handleAdminParticipantScoped))
}
