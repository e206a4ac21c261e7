package assignment

import (
	"time"

	"github.com/google/uuid"
)

// Assignment links one member to one task. Rows are append-only.
type Assignment struct {
	UUID       uuid.UUID `json:"assignmentId" db:"assignment_id"`
	TaskID     uuid.UUID `json:"taskId" db:"task_id"`
	UserID     string    `json:"userId" db:"user_id"`
	UserEmail  string    `json:"userEmail" db:"user_email"`
	AssignedAt time.Time `json:"assignedAt" db:"assigned_at"`
	AssignedBy string    `json:"assignedBy" db:"assigned_by"`
}
