package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/hivehq/hive/internal/agents"
	"github.com/hivehq/hive/internal/api/respond"
	"github.com/hivehq/hive/internal/api/validate"
	"github.com/hivehq/hive/internal/auth"
	"github.com/hivehq/hive/internal/model"
)

// AgentHandler serves agent lifecycle and query endpoints. Non-admin
// callers may only operate on agents they own.
type AgentHandler struct {
	mgr *agents.Manager
}

func NewAgentHandler(m *agents.Manager) *AgentHandler {
	return &AgentHandler{mgr: m}
}

// loadOwned fetches the agent and enforces the ownership rule.
func (h *AgentHandler) loadOwned(r *http.Request) (*model.Agent, error) {
	claims := auth.ClaimsFrom(r.Context())
	agent, err := h.mgr.GetAgent(r.Context(), mux.Vars(r)["agentId"])
	if err != nil {
		return nil, err
	}
	if agent.UserID != claims.UserID && claims.Role != model.RoleAdmin {
		return nil, model.ErrForbidden
	}
	return agent, nil
}

func (h *AgentHandler) Create(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFrom(r.Context())
	var in struct {
		Name        string  `json:"name"`
		Personality string  `json:"personality"`
		Description string  `json:"description"`
		ProjectID   *string `json:"projectId,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respond.WriteBadRequest(w, "invalid json")
		return
	}
	if err := validate.CreateAgent(in.Name, in.Personality); err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}

	agent, err := h.mgr.CreateAgent(r.Context(), claims.UserID, agents.CreateAgentParams{
		Name:        in.Name,
		Personality: in.Personality,
		Description: in.Description,
		ProjectID:   in.ProjectID,
	})
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"message": "Agent created successfully",
		"agent":   agent,
	})
}

func (h *AgentHandler) MyAgents(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFrom(r.Context())
	list, err := h.mgr.GetAgentsByUser(r.Context(), claims.UserID)
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{"agents": list})
}

func (h *AgentHandler) All(w http.ResponseWriter, r *http.Request) {
	list, err := h.mgr.GetAllAgents(r.Context())
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{"agents": list})
}

func (h *AgentHandler) Get(w http.ResponseWriter, r *http.Request) {
	agent, err := h.loadOwned(r)
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{"agent": agent})
}

func (h *AgentHandler) Update(w http.ResponseWriter, r *http.Request) {
	if _, err := h.loadOwned(r); err != nil {
		respond.WriteDomainError(w, err)
		return
	}

	var upd model.AgentUpdate
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&upd); err != nil {
		respond.WriteBadRequest(w, "invalid json: "+err.Error())
		return
	}
	if upd.Name != nil {
		if err := validate.NonEmpty("name", *upd.Name); err != nil {
			respond.WriteBadRequest(w, err.Error())
			return
		}
		if err := validate.MaxLen("name", *upd.Name, 100); err != nil {
			respond.WriteBadRequest(w, err.Error())
			return
		}
	}
	if upd.Personality != nil {
		if err := validate.MaxLen("personality", *upd.Personality, 2000); err != nil {
			respond.WriteBadRequest(w, err.Error())
			return
		}
	}

	agent, err := h.mgr.UpdateAgent(r.Context(), mux.Vars(r)["agentId"], upd)
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Agent updated successfully",
		"agent":   agent,
	})
}

func (h *AgentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if _, err := h.loadOwned(r); err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	if err := h.mgr.DeleteAgent(r.Context(), mux.Vars(r)["agentId"]); err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]string{"message": "Agent deleted successfully"})
}

func (h *AgentHandler) Query(w http.ResponseWriter, r *http.Request) {
	agent, err := h.loadOwned(r)
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}

	var in struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respond.WriteBadRequest(w, "invalid json")
		return
	}
	if in.Message == "" {
		respond.WriteBadRequest(w, "message is required")
		return
	}

	reply, err := h.mgr.Query(r.Context(), agent.ID, in.Message)
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"response":  reply,
		"agentId":   agent.ID,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
