package task

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type Task struct {
	UUID        uuid.UUID  `json:"taskId" db:"task_id"`
	Title       string     `json:"title" db:"title"`
	Description string     `json:"description" db:"description"`
	Priority    Priority   `json:"priority" db:"priority"`
	Status      Status     `json:"status" db:"status"`
	DueDate     *time.Time `json:"dueDate,omitempty" db:"due_date"`
	CreatedBy   string     `json:"createdBy" db:"created_by"`
	CreatedAt   time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time  `json:"updatedAt" db:"updated_at"`
	AssignedTo  []string   `json:"assignedTo" db:"assigned_to"`
	Version     int        `json:"version" db:"version"`
}

type Status string
type Priority string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusClosed     Status = "closed"
)

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Statuses lists every status; any status may move to any other.
var Statuses = []Status{StatusOpen, StatusInProgress, StatusCompleted, StatusClosed}

const (
	TitleMinLen       = 3
	TitleMaxLen       = 100
	DescriptionMaxLen = 1000
	DueDateLayout     = "2006-01-02"
)

// ParseStatus accepts the canonical values case-insensitively, and "in-progress" as an alias.
func ParseStatus(raw string) (Status, bool) {
	s := Status(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), "-", "_"))
	for _, known := range Statuses {
		if s == known {
			return s, true
		}
	}
	return "", false
}

func ParsePriority(raw string) (Priority, bool) {
	switch p := Priority(strings.ToLower(strings.TrimSpace(raw))); p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return p, true
	default:
		return "", false
	}
}

// IsAssigned reports whether email is already in the assignment list.
func (t *Task) IsAssigned(email string) bool {
	for _, assigned := range t.AssignedTo {
		if strings.EqualFold(assigned, email) {
			return true
		}
	}
	return false
}

// Clone returns a copy that shares no slices or pointers with t.
func (t *Task) Clone() *Task {
	c := *t
	c.AssignedTo = append([]string(nil), t.AssignedTo...)
	if t.DueDate != nil {
		d := *t.DueDate
		c.DueDate = &d
	}
	return &c
}
