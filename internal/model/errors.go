package model

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("validation error")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	// ErrAgentNotProvisioned marks an agent row whose external identity
	// was never created (lettaAgentId is null).
	ErrAgentNotProvisioned = errors.New("agent has no external identity")
)
