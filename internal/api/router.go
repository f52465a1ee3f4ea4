package api

import (
	"github.com/gorilla/mux"

	"github.com/hivehq/hive/internal/agents"
	"github.com/hivehq/hive/internal/api/recovery"
	"github.com/hivehq/hive/internal/auth"
	"github.com/hivehq/hive/internal/services"
)

// Deps carries the constructed services a router needs.
type Deps struct {
	Auth     *auth.Service
	Users    *services.UserService
	Projects *services.ProjectService
	Agents   *agents.Manager
}

// NewRouter creates the HTTP router with all API routes.
func NewRouter(d Deps) *mux.Router {
	router := mux.NewRouter()

	router.Use(recovery.Middleware)

	healthHandler := NewHealthHandler()
	authHandler := NewAuthHandler(d.Auth, d.Users)
	agentHandler := NewAgentHandler(d.Agents)
	projectsHandler := NewProjectsHandler(d.Projects)
	adminHandler := NewAdminHandler(d.Users, d.Projects)

	// Health endpoint, unauthenticated
	router.HandleFunc("/api/health", healthHandler.CheckHealth).Methods("GET")

	// Auth endpoints, unauthenticated
	router.HandleFunc("/api/auth/register", authHandler.Register).Methods("POST")
	router.HandleFunc("/api/auth/login", authHandler.Login).Methods("POST")

	// Authenticated routes
	authed := router.PathPrefix("/api").Subrouter()
	authed.Use(auth.Authenticate(d.Auth))

	// Admin-only routes. Registered first so literal paths like
	// /agents/all win over the /agents/{agentId} wildcard below.
	admin := authed.NewRoute().Subrouter()
	admin.Use(auth.RequireAdmin)

	admin.HandleFunc("/agents/all", agentHandler.All).Methods("GET")
	admin.HandleFunc("/projects/all", projectsHandler.All).Methods("GET")
	admin.HandleFunc("/projects", projectsHandler.Create).Methods("POST")
	admin.HandleFunc("/projects/assign-user", projectsHandler.AssignUser).Methods("POST")
	admin.HandleFunc("/projects/remove-user", projectsHandler.RemoveUser).Methods("POST")
	admin.HandleFunc("/admin/stats", adminHandler.Stats).Methods("GET")
	admin.HandleFunc("/admin/users", adminHandler.Users).Methods("GET")
	admin.HandleFunc("/admin/projects", adminHandler.Projects).Methods("GET")
	admin.HandleFunc("/admin/memory-blocks", adminHandler.MemoryBlocks).Methods("GET")

	authed.HandleFunc("/auth/questionnaire", authHandler.Questionnaire).Methods("POST")
	authed.HandleFunc("/auth/profile", authHandler.Profile).Methods("GET")

	authed.HandleFunc("/agents", agentHandler.Create).Methods("POST")
	authed.HandleFunc("/agents/my-agents", agentHandler.MyAgents).Methods("GET")
	authed.HandleFunc("/agents/{agentId}", agentHandler.Get).Methods("GET")
	authed.HandleFunc("/agents/{agentId}", agentHandler.Update).Methods("PUT")
	authed.HandleFunc("/agents/{agentId}", agentHandler.Delete).Methods("DELETE")
	authed.HandleFunc("/agents/{agentId}/query", agentHandler.Query).Methods("POST")

	authed.HandleFunc("/projects/my-projects", projectsHandler.My).Methods("GET")
	authed.HandleFunc("/projects/update-agent-memory", projectsHandler.UpdateAgentMemory).Methods("POST")
	authed.HandleFunc("/projects/agent-memory-blocks", projectsHandler.AgentMemoryBlocks).Methods("GET")

	return router
}
