package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/okralab/okra-server/internal/models"
	"github.com/okralab/okra-server/internal/services"
)

// authenticate resolves the participant from the credential headers.
func (rt *Router) authenticate(r *http.Request) (*models.Participant, error) {
	return rt.identity.Authenticate(
		r.Header.Get("X-Participant-ID"),
		r.Header.Get("X-Device-Key"),
	)
}

// GET /api/
func (rt *Router) handleInfo(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/api/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rt.writeJSON(w, http.StatusOK, map[string]any{
		"name":    rt.info.Name,
		"iconUrl": nullable(rt.info.IconURL),
	})
}

// POST /api/register
func (rt *Router) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		ParticipantID   string `json:"participantId"`
		RegistrationKey string `json:"registrationKey"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rt.participantError(w, services.NewInvalidError("Invalid body"))
		return
	}
	if req.ParticipantID == "" || req.RegistrationKey == "" {
		rt.participantError(w, services.NewInvalidError("Missing fields"))
		return
	}
	p, err := rt.identity.Register(req.ParticipantID, req.RegistrationKey)
	if err != nil {
		rt.participantError(w, err)
		return
	}
	rt.writeJSON(w, http.StatusOK, map[string]any{
		"name":          rt.info.Name,
		"iconUrl":       nullable(rt.info.IconURL),
		"participantId": p.ID,
		"deviceKey":     p.DeviceKey,
	})
}

// GET /api/experiments
func (rt *Router) handleExperiments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	p, err := rt.authenticate(r)
	if err != nil {
		rt.participantError(w, err)
		return
	}
	exps, err := rt.assignments.AvailableExperiments(p.ID)
	if err != nil {
		rt.participantError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(exps))
	for _, exp := range exps {
		serialized, err := rt.serializeExperiment(exp, p.ID)
		if err != nil {
			rt.participantError(w, err)
			return
		}
		out = append(out, serialized)
	}
	rt.writeJSON(w, http.StatusOK, map[string]any{"experiments": out})
}

// GET /api/experiments/{id}, POST /api/experiments/{id}/start
func (rt *Router) handleExperimentScoped(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/experiments/")
	parts := strings.Split(strings.TrimSuffix(rest, "/"), "/")
	p, err := rt.authenticate(r)
	if err != nil {
		rt.participantError(w, err)
		return
	}
	switch {
	case len(parts) == 1 && parts[0] != "":
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		exp, err := rt.assignments.GetAvailableExperiment(parts[0], p.ID)
		if err != nil {
			rt.participantError(w, err)
			return
		}
		serialized, err := rt.serializeExperiment(exp, p.ID)
		if err != nil {
			rt.participantError(w, err)
			return
		}
		rt.writeJSON(w, http.StatusOK, serialized)
	case len(parts) == 2 && parts[1] == "start":
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		practice := r.URL.Query().Get("practice") == "true"
		started, err := rt.assignments.StartTask(parts[0], p.ID, practice)
		if err != nil {
			rt.participantError(w, err)
			return
		}
		rt.writeJSON(w, http.StatusOK, serializeTask(started))
	default:
		http.NotFound(w, r)
	}
}

// POST /api/tasks/{id}/finish
func (rt *Router) handleTaskScoped(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/tasks/")
	parts := strings.Split(strings.TrimSuffix(rest, "/"), "/")
	if len(parts) != 2 || parts[1] != "finish" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	p, err := rt.authenticate(r)
	if err != nil {
		rt.participantError(w, err)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		rt.participantError(w, services.NewInvalidError("Invalid body"))
		return
	}
	// A bodyless finish records empty results.
	if len(bytes.TrimSpace(body)) == 0 {
		body = []byte("{}")
	}
	var results json.RawMessage
	if err := json.Unmarshal(body, &results); err != nil {
		rt.participantError(w, services.NewInvalidError("Invalid body"))
		return
	}
	if err := rt.assignments.FinishTask(parts[0], p.ID, results); err != nil {
		rt.participantError(w, err)
		return
	}
	rt.writeJSON(w, http.StatusOK, map[string]any{})
}

func (rt *Router) serializeExperiment(exp *models.Experiment, participantID string) (map[string]any, error) {
	total, done, err := rt.assignments.Counts(exp.ID, participantID)
	if err != nil {
		return nil, err
	}
	ratings, err := rt.ratings.ListRatings(exp.ID)
	if err != nil {
		return nil, err
	}
	serializedRatings := make([]map[string]any, 0, len(ratings))
	for _, rating := range ratings {
		serializedRatings = append(serializedRatings, map[string]any{
			"question":    rating.Question,
			"type":        string(rating.RatingType),
			"lowExtreme":  nullable(rating.LowExtreme),
			"highExtreme": nullable(rating.HighExtreme),
		})
	}
	return map[string]any{
		"id":              exp.ID,
		"type":            string(exp.TaskType),
		"title":           exp.Title,
		"coverImageUrl":   nullable(exp.CoverImageURL),
		"instructions":    exp.Instructions,
		"nTasks":          total,
		"nTasksDone":      done,
		"hasPracticeTask": exp.PracticeTaskID != "",
		"ratings":         serializedRatings,
	}, nil
}

func serializeTask(started *services.StartedTask) map[string]any {
	var data json.RawMessage
	if len(started.Task.Data) > 0 {
		data = started.Task.Data
	}
	return map[string]any{
		"id":                started.Task.ID,
		"data":              data,
		"instructionsAfter": nullable(started.InstructionsAfter),
	}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
