package service

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"taskflow/internal/models/task"

	"github.com/go-playground/validator/v10"
)

type createTaskInput struct {
	Title       string `json:"title" validate:"min=3,max=100"`
	Description string `json:"description" validate:"max=1000"`
}

type assignInput struct {
	UserEmail string `json:"userEmail" validate:"required,email"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// toInvalidArgument turns the first validator failure into an INVALID_ARGUMENT naming the field.
func toInvalidArgument(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return NewInvalidArgument("input", err.Error())
	}
	fe := verrs[0]
	return NewInvalidArgument(fe.Field(), reason(fe))
}

func reason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "email":
		return "must be a valid email address"
	default:
		return fmt.Sprintf("failed rule %q", fe.Tag())
	}
}

func (s *TaskService) validateCreate(in CreateTaskInput) (createTaskInput, task.Priority, error) {
	checked := createTaskInput{
		Title:       strings.TrimSpace(in.Title),
		Description: in.Description,
	}
	if err := s.validate.Struct(checked); err != nil {
		return checked, "", toInvalidArgument(err)
	}

	priority := task.PriorityMedium
	if in.Priority != "" {
		p, ok := task.ParsePriority(in.Priority)
		if !ok {
			return checked, "", NewInvalidArgument("priority", "must be one of low, medium, high")
		}
		priority = p
	}
	return checked, priority, nil
}

func (s *TaskService) validateEmail(email string) error {
	if err := s.validate.Struct(assignInput{UserEmail: email}); err != nil {
		return toInvalidArgument(err)
	}
	return nil
}

// taskPatch is an UpdateTaskInput reduced to the fields the caller may change.
type taskPatch struct {
	status      *task.Status
	description *string
	priority    *task.Priority
	dropped     []string
}

func (p taskPatch) apply(t *task.Task) {
	if p.status != nil {
		t.Status = *p.status
	}
	if p.description != nil {
		t.Description = *p.description
	}
	if p.priority != nil {
		t.Priority = *p.priority
	}
}

// validatePatch parses the patch. Members may only change status: their description and
// priority are dropped without error.
func (s *TaskService) validatePatch(editDetails bool, in UpdateTaskInput) (taskPatch, error) {
	var patch taskPatch

	if in.Status != nil && *in.Status != "" {
		st, ok := task.ParseStatus(*in.Status)
		if !ok {
			return patch, NewInvalidArgument("status", "must be one of open, in_progress, completed, closed")
		}
		patch.status = &st
	}

	if !editDetails {
		if in.Description != nil {
			patch.dropped = append(patch.dropped, "description")
		}
		if in.Priority != nil && *in.Priority != "" {
			patch.dropped = append(patch.dropped, "priority")
		}
		return patch, nil
	}

	if in.Description != nil {
		if err := s.validate.Var(*in.Description, "max=1000"); err != nil {
			return patch, NewInvalidArgument("description", fmt.Sprintf("must be at most %d characters", task.DescriptionMaxLen))
		}
		desc := *in.Description
		patch.description = &desc
	}
	if in.Priority != nil && *in.Priority != "" {
		p, ok := task.ParsePriority(*in.Priority)
		if !ok {
			return patch, NewInvalidArgument("priority", "must be one of low, medium, high")
		}
		patch.priority = &p
	}
	return patch, nil
}
