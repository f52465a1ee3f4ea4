package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/hivehq/hive/internal/api/respond"
	"github.com/hivehq/hive/internal/api/validate"
	"github.com/hivehq/hive/internal/auth"
	"github.com/hivehq/hive/internal/model"
	"github.com/hivehq/hive/internal/services"
)

// ProjectsHandler serves project CRUD, membership changes and the
// memory-block selection endpoints.
type ProjectsHandler struct {
	svc *services.ProjectService
}

func NewProjectsHandler(svc *services.ProjectService) *ProjectsHandler {
	return &ProjectsHandler{svc: svc}
}

func (h *ProjectsHandler) My(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFrom(r.Context())
	list, err := h.svc.ListProjectsByUser(r.Context(), claims.UserID)
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{"projects": list})
}

func (h *ProjectsHandler) All(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.ListProjects(r.Context())
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{"projects": list})
}

func (h *ProjectsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Status      string `json:"status,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respond.WriteBadRequest(w, "invalid json")
		return
	}
	if err := validate.CreateProject(in.Name, in.Description); err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}
	status := model.ProjectActive
	if in.Status != "" {
		if err := validate.ProjectStatus(in.Status); err != nil {
			respond.WriteBadRequest(w, err.Error())
			return
		}
		status = model.ProjectStatus(in.Status)
	}

	project, err := h.svc.CreateProject(r.Context(), in.Name, in.Description, status)
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"message": "Project created successfully",
		"project": project,
	})
}

type membershipRequest struct {
	UserID    string `json:"userId"`
	ProjectID string `json:"projectId"`
}

func decodeMembership(r *http.Request) (membershipRequest, error) {
	var in membershipRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		return in, fmt.Errorf("invalid json")
	}
	if in.UserID == "" || in.ProjectID == "" {
		return in, fmt.Errorf("userId and projectId are required")
	}
	return in, nil
}

func (h *ProjectsHandler) AssignUser(w http.ResponseWriter, r *http.Request) {
	in, err := decodeMembership(r)
	if err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}
	if err := h.svc.AssignUser(r.Context(), in.UserID, in.ProjectID); err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]string{"message": "User assigned to project"})
}

func (h *ProjectsHandler) RemoveUser(w http.ResponseWriter, r *http.Request) {
	in, err := decodeMembership(r)
	if err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}
	if err := h.svc.RemoveUser(r.Context(), in.UserID, in.ProjectID); err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]string{"message": "User removed from project"})
}

// UpdateAgentMemory replaces the caller's project selection; the
// reconciler converges the attached block set to match.
func (h *ProjectsHandler) UpdateAgentMemory(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFrom(r.Context())
	var in struct {
		ProjectIDs []string `json:"projectIds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respond.WriteBadRequest(w, "invalid json")
		return
	}

	if err := h.svc.SetSelection(r.Context(), claims.UserID, in.ProjectIDs); err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"message":    "Agent memory updated",
		"projectIds": in.ProjectIDs,
	})
}

func (h *ProjectsHandler) AgentMemoryBlocks(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFrom(r.Context())
	blocks, err := h.svc.AttachedBlocks(r.Context(), claims.UserID)
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	if blocks == nil {
		blocks = []string{}
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{"blockIds": blocks})
}
