package validate

import (
	"fmt"
	"regexp"

	"github.com/hivehq/hive/internal/model"
)

var emailRx = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

func Email(v string) error {
	if v == "" {
		return fmt.Errorf("email is required")
	}
	if len(v) > 320 || !emailRx.MatchString(v) {
		return fmt.Errorf("invalid email")
	}
	return nil
}

func NonEmpty(field, v string) error {
	if v == "" {
		return fmt.Errorf("%s is required", field)
	}
	return nil
}

func MaxLen(field, v string, limit int) error {
	if len(v) > limit {
		return fmt.Errorf("%s exceeds %d characters", field, limit)
	}
	return nil
}

func MinLen(field, v string, limit int) error {
	if len(v) < limit {
		return fmt.Errorf("%s must be at least %d characters", field, limit)
	}
	return nil
}

func Role(v string) error {
	switch model.Role(v) {
	case model.RoleAdmin, model.RoleEmployee:
		return nil
	}
	return fmt.Errorf("role must be admin or employee")
}

func ProjectStatus(v string) error {
	switch model.ProjectStatus(v) {
	case model.ProjectActive, model.ProjectCompleted, model.ProjectPaused:
		return nil
	}
	return fmt.Errorf("status must be active, completed or paused")
}

// -------- Request specific helpers ----------

func Register(email, password, name string) error {
	if err := Email(email); err != nil {
		return err
	}
	if err := MinLen("password", password, 6); err != nil {
		return err
	}
	if err := NonEmpty("name", name); err != nil {
		return err
	}
	return MaxLen("name", name, 100)
}

func Questionnaire(description string) error {
	if err := MinLen("description", description, 10); err != nil {
		return fmt.Errorf("please provide at least 10 characters describing your role and what you're working on")
	}
	return MaxLen("description", description, 2000)
}

func CreateAgent(name, personality string) error {
	if err := NonEmpty("name", name); err != nil {
		return err
	}
	if err := MaxLen("name", name, 100); err != nil {
		return err
	}
	if err := NonEmpty("personality", personality); err != nil {
		return err
	}
	return MaxLen("personality", personality, 2000)
}

func CreateProject(name, description string) error {
	if err := NonEmpty("name", name); err != nil {
		return err
	}
	if err := MaxLen("name", name, 100); err != nil {
		return err
	}
	return MaxLen("description", description, 2000)
}
