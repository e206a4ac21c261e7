package dto

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"taskflow/internal/models/assignment"
	"taskflow/internal/models/task"
	"taskflow/internal/models/user"

	"github.com/google/uuid"
)

// Date accepts "YYYY-MM-DD" or RFC 3339 and renders "YYYY-MM-DD".
type Date struct {
	time.Time
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("dueDate must be a string: %w", err)
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		d.Time = time.Time{}
		return nil
	}
	if t, err := time.Parse(task.DueDateLayout, raw); err == nil {
		d.Time = t
		return nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return fmt.Errorf("dueDate must be YYYY-MM-DD or RFC 3339, got %q", raw)
	}
	d.Time = t.UTC()
	return nil
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Format(task.DueDateLayout))
}

type CreateTaskRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
	DueDate     *Date  `json:"dueDate"`
}

// DueTime returns nil for an absent or empty dueDate.
func (r CreateTaskRequest) DueTime() *time.Time {
	if r.DueDate == nil || r.DueDate.IsZero() {
		return nil
	}
	t := r.DueDate.Time
	return &t
}

type UpdateTaskRequest struct {
	Status      *string `json:"status,omitempty"`
	Description *string `json:"description,omitempty"`
	Priority    *string `json:"priority,omitempty"`
}

type AssignTaskRequest struct {
	UserEmail string `json:"userEmail"`
}

type TaskResponse struct {
	TaskID      uuid.UUID `json:"taskId"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Priority    string    `json:"priority"`
	Status      string    `json:"status"`
	DueDate     *Date     `json:"dueDate"`
	CreatedBy   string    `json:"createdBy"`
	CreatedAt   int64     `json:"createdAt"`
	UpdatedAt   int64     `json:"updatedAt"`
	AssignedTo  []string  `json:"assignedTo"`
	Version     int       `json:"version"`
}

func FromTask(t *task.Task) TaskResponse {
	resp := TaskResponse{
		TaskID:      t.UUID,
		Title:       t.Title,
		Description: t.Description,
		Priority:    string(t.Priority),
		Status:      string(t.Status),
		CreatedBy:   t.CreatedBy,
		CreatedAt:   t.CreatedAt.UnixMilli(),
		UpdatedAt:   t.UpdatedAt.UnixMilli(),
		AssignedTo:  t.AssignedTo,
		Version:     t.Version,
	}
	if t.DueDate != nil {
		resp.DueDate = &Date{Time: *t.DueDate}
	}
	if resp.AssignedTo == nil {
		resp.AssignedTo = []string{}
	}
	return resp
}

func FromTaskList(tasks []*task.Task) []TaskResponse {
	result := make([]TaskResponse, len(tasks))
	for i, t := range tasks {
		result[i] = FromTask(t)
	}
	return result
}

type TaskListResponse struct {
	Tasks []TaskResponse `json:"tasks"`
	Count int            `json:"count"`
}

type AssignmentResponse struct {
	AssignmentID uuid.UUID `json:"assignmentId"`
	TaskID       uuid.UUID `json:"taskId"`
	UserID       string    `json:"userId"`
	UserEmail    string    `json:"userEmail"`
	AssignedAt   int64     `json:"assignedAt"`
	AssignedBy   string    `json:"assignedBy"`
}

func FromAssignment(a *assignment.Assignment) AssignmentResponse {
	return AssignmentResponse{
		AssignmentID: a.UUID,
		TaskID:       a.TaskID,
		UserID:       a.UserID,
		UserEmail:    a.UserEmail,
		AssignedAt:   a.AssignedAt.UnixMilli(),
		AssignedBy:   a.AssignedBy,
	}
}

type UserResponse struct {
	UserID    string   `json:"userId"`
	Username  string   `json:"username"`
	Email     string   `json:"email"`
	Name      string   `json:"name"`
	Status    string   `json:"status,omitempty"`
	Enabled   bool     `json:"enabled"`
	Groups    []string `json:"groups"`
	CreatedAt int64    `json:"createdAt,omitempty"`
}

func FromUsers(users []*user.User) []UserResponse {
	result := make([]UserResponse, len(users))
	for i, u := range users {
		username := u.Username
		if username == "" {
			username = u.Email
		}
		groups := u.Groups
		if groups == nil {
			groups = []string{}
		}
		var createdAt int64
		if !u.CreatedAt.IsZero() {
			createdAt = u.CreatedAt.UnixMilli()
		}
		result[i] = UserResponse{
			UserID:    u.Subject,
			Username:  username,
			Email:     u.Email,
			Name:      u.Name,
			Status:    u.Status,
			Enabled:   u.Enabled,
			Groups:    groups,
			CreatedAt: createdAt,
		}
	}
	return result
}
