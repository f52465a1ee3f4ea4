package api

import (
	"net/http"

	"github.com/hivehq/hive/internal/api/respond"
	"github.com/hivehq/hive/internal/services"
)

// AdminHandler serves the admin dashboard endpoints. The router guards
// every route here with the admin-role middleware.
type AdminHandler struct {
	users    *services.UserService
	projects *services.ProjectService
}

func NewAdminHandler(u *services.UserService, p *services.ProjectService) *AdminHandler {
	return &AdminHandler{users: u, projects: p}
}

func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.users.Stats(r.Context())
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{"stats": stats})
}

func (h *AdminHandler) Users(w http.ResponseWriter, r *http.Request) {
	list, err := h.users.ListUsers(r.Context())
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{"users": list})
}

func (h *AdminHandler) Projects(w http.ResponseWriter, r *http.Request) {
	list, err := h.projects.ListProjects(r.Context())
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{"projects": list})
}

type memoryBlockInfo struct {
	BlockID   string `json:"blockId"`
	OwnerType string `json:"ownerType"`
	OwnerID   string `json:"ownerId"`
	OwnerName string `json:"ownerName"`
}

// MemoryBlocks lists every external memory block the workspace knows
// about: one per user with a provisioned block, one per project.
func (h *AdminHandler) MemoryBlocks(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.ListUsers(r.Context())
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	projects, err := h.projects.ListProjects(r.Context())
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}

	blocks := []memoryBlockInfo{}
	for _, u := range users {
		if u.MemoryBlockID != nil && *u.MemoryBlockID != "" {
			blocks = append(blocks, memoryBlockInfo{
				BlockID: *u.MemoryBlockID, OwnerType: "user", OwnerID: u.ID, OwnerName: u.Name,
			})
		}
	}
	for _, p := range projects {
		if p.MemoryBlockID != nil && *p.MemoryBlockID != "" {
			blocks = append(blocks, memoryBlockInfo{
				BlockID: *p.MemoryBlockID, OwnerType: "project", OwnerID: p.ID, OwnerName: p.Name,
			})
		}
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{"blocks": blocks})
}
