package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hivehq/hive/internal/api/respond"
	"github.com/hivehq/hive/internal/api/validate"
	"github.com/hivehq/hive/internal/auth"
	"github.com/hivehq/hive/internal/model"
	"github.com/hivehq/hive/internal/services"
)

// AuthHandler serves registration, login, the onboarding questionnaire
// and the profile endpoint.
type AuthHandler struct {
	auth  *auth.Service
	users *services.UserService
}

func NewAuthHandler(a *auth.Service, u *services.UserService) *AuthHandler {
	return &AuthHandler{auth: a, users: u}
}

type authResponse struct {
	Message string      `json:"message"`
	User    *model.User `json:"user"`
	Token   string      `json:"token"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Name     string `json:"name"`
		Role     string `json:"role,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respond.WriteBadRequest(w, "invalid json")
		return
	}
	if err := validate.Register(in.Email, in.Password, in.Name); err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}
	if in.Role != "" {
		if err := validate.Role(in.Role); err != nil {
			respond.WriteBadRequest(w, err.Error())
			return
		}
	}

	user, token, err := h.auth.Register(r.Context(), in.Email, in.Password, in.Name, model.Role(in.Role))
	if err != nil {
		if errors.Is(err, auth.ErrEmailAlreadyRegistered) {
			respond.WriteError(w, http.StatusConflict, err.Error())
			return
		}
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusCreated, authResponse{Message: "User registered successfully", User: user, Token: token})
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respond.WriteBadRequest(w, "invalid json")
		return
	}
	if in.Email == "" || in.Password == "" {
		respond.WriteBadRequest(w, "email and password are required")
		return
	}

	user, token, err := h.auth.Login(r.Context(), in.Email, in.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			respond.WriteError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, authResponse{Message: "Login successful", User: user, Token: token})
}

func (h *AuthHandler) Questionnaire(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFrom(r.Context())
	var in struct {
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respond.WriteBadRequest(w, "invalid json")
		return
	}
	if err := validate.Questionnaire(in.Description); err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.users.SubmitQuestionnaire(r.Context(), claims.UserID, in.Description); err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]string{
		"message":     "Questionnaire submitted successfully",
		"description": in.Description,
	})
}

func (h *AuthHandler) Profile(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFrom(r.Context())

	user, err := h.users.GetUser(r.Context(), claims.UserID)
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"user": map[string]interface{}{
			"id":             user.ID,
			"email":          user.Email,
			"name":           user.Name,
			"role":           user.Role,
			"description":    user.Description,
			"hasDescription": user.Description != nil && *user.Description != "",
		},
	})
}
