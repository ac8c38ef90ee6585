package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/okralab/okra-server/internal/services"
)

// POST /admin/login
func (rt *Router) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rt.adminError(w, services.NewInvalidError("Invalid body"))
		return
	}
	res, err := rt.auth.Login(req.Username, req.Password)
	if err != nil {
		rt.adminError(w, err)
		return
	}
	rt.writeJSON(w, http.StatusOK, map[string]string{"token": res.Token, "username": res.Username})
}

// GET/POST /admin/experiments
func (rt *Router) handleAdminExperiments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		list, err := rt.experiments.ListExperiments()
		if err != nil {
			rt.adminError(w, err)
			return
		}
		rt.writeJSON(w, http.StatusOK, map[string]any{"experiments": list})
	case http.MethodPost:
		rt.saveExperiment(w, r, "")
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// /admin/experiments/{id}[/visibility|/delete|/results|/progress]
func (rt *Router) handleAdminExperimentScoped(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/admin/experiments/")
	parts := strings.Split(strings.TrimSuffix(rest, "/"), "/")
	if parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	id := parts[0]
	switch {
	case len(parts) == 1:
		switch r.Method {
		case http.MethodGet:
			detail, err := rt.experiments.Detail(id)
			if err != nil {
				rt.adminError(w, err)
				return
			}
			rt.writeJSON(w, http.StatusOK, detail)
		case http.MethodPost:
			rt.saveExperiment(w, r, id)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	case len(parts) == 2 && parts[1] == "visibility" && r.Method == http.MethodPost:
		var req struct {
			Visible bool `json:"visible"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			rt.adminError(w, services.NewInvalidError("Invalid body"))
			return
		}
		if err := rt.experiments.SetVisible(id, req.Visible); err != nil {
			rt.adminError(w, err)
			return
		}
		rt.writeJSON(w, http.StatusOK, map[string]any{})
	case len(parts) == 2 && parts[1] == "delete" && r.Method == http.MethodPost:
		if err := rt.experiments.Delete(id); err != nil {
			rt.adminError(w, err)
			return
		}
		rt.writeJSON(w, http.StatusOK, map[string]any{})
	case len(parts) == 2 && parts[1] == "results" && r.Method == http.MethodGet:
		results, err := rt.experiments.Results(id)
		if err != nil {
			rt.adminError(w, err)
			return
		}
		if r.URL.Query().Has("download") {
			w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", id+".json"))
		}
		rt.writeJSON(w, http.StatusOK, results)
	case len(parts) == 2 && parts[1] == "progress" && r.Method == http.MethodGet:
		progress, err := rt.experiments.Progress(id)
		if err != nil {
			rt.adminError(w, err)
			return
		}
		rt.writeJSON(w, http.StatusOK, progress)
	default:
		http.NotFound(w, r)
	}
}

func (rt *Router) saveExperiment(w http.ResponseWriter, r *http.Request, id string) {
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		rt.adminError(w, services.NewInvalidError("Invalid body"))
		return
	}
	detail, err := rt.experiments.Save(id, raw)
	if err != nil {
		rt.adminError(w, err)
		return
	}
	rt.writeJSON(w, http.StatusOK, detail)
}

// GET/POST /admin/participants
func (rt *Router) handleAdminParticipants(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		participants, err := rt.identity.ListParticipants()
		if err != nil {
			rt.adminError(w, err)
			return
		}
		out := make([]map[string]any, 0, len(participants))
		for _, p := range participants {
			out = append(out, map[string]any{
				"id":         p.ID,
				"label":      p.Label,
				"registered": p.Registered(),
			})
		}
		rt.writeJSON(w, http.StatusOK, map[string]any{"participants": out})
	case http.MethodPost:
		p, err := rt.identity.CreateParticipant()
		if err != nil {
			rt.adminError(w, err)
			return
		}
		rt.writeJSON(w, http.StatusOK, map[string]any{
			"id":              p.ID,
			"label":           p.Label,
			"registrationKey": p.RegistrationKey,
		})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// /admin/participants/{id}[/label|/unregister|/delete|/registration]
func (rt *Router) handleAdminParticipantScoped(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/admin/participants/")
	parts := strings.Split(strings.TrimSuffix(rest, "/"), "/")
	if len(parts) != 2 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	id := parts[0]
	switch {
	case parts[1] == "label" && r.Method == http.MethodPost:
		var req struct {
			Label string `json:"label"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			rt.adminError(w, services.NewInvalidError("Invalid body"))
			return
		}
		if err := rt.identity.LabelParticipant(id, req.Label); err != nil {
			rt.adminError(w, err)
			return
		}
		rt.writeJSON(w, http.StatusOK, map[string]any{})
	case parts[1] == "unregister" && r.Method == http.MethodPost:
		key, err := rt.identity.Unregister(id, "")
		if err != nil {
			rt.adminError(w, err)
			return
		}
		rt.writeJSON(w, http.StatusOK, map[string]string{"registrationKey": key})
	case parts[1] == "delete" && r.Method == http.MethodPost:
		if err := rt.identity.DeleteParticipant(id); err != nil {
			rt.adminError(w, err)
			return
		}
		rt.writeJSON(w, http.StatusOK, map[string]any{})
	case parts[1] == "registration" && r.Method == http.MethodGet:
		info, err := rt.identity.Registration(id, rt.info.BaseURL)
		if err != nil {
			rt.adminError(w, err)
			return
		}
		rt.writeJSON(w, http.StatusOK, info)
	default:
		http.NotFound(w, r)
	}
}
