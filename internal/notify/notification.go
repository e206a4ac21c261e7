package notify

import (
	"context"
	"fmt"
	"strings"

	"taskflow/internal/models/assignment"
	"taskflow/internal/models/task"
)

// Notification is what the engine decides to send; delivery belongs to a Sink.
type Notification struct {
	Recipients []string
	Subject    string
	Body       string
}

// Sink delivers notifications. Delivery is best-effort.
type Sink interface {
	Send(ctx context.Context, n Notification) error
}

// Recipients returns the union of groups in first-seen order, case-insensitively
// deduplicated, minus every address in exclude.
func Recipients(exclude []string, groups ...[]string) []string {
	skip := make(map[string]struct{}, len(exclude))
	for _, e := range exclude {
		skip[strings.ToLower(e)] = struct{}{}
	}

	var out []string
	seen := make(map[string]struct{})
	for _, group := range groups {
		for _, email := range group {
			key := strings.ToLower(strings.TrimSpace(email))
			if key == "" {
				continue
			}
			if _, ok := skip[key]; ok {
				continue
			}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, key)
		}
	}
	return out
}

func TaskAssigned(t *task.Task, a *assignment.Assignment) Notification {
	body := fmt.Sprintf(`You have been assigned a new task: "%s"

Task Details:
- Task ID: %s
- Description: %s
- Priority: %s
- Status: %s
- Due Date: %s
- Assigned by: %s

Please log in to the Task Management System to view more details.`,
		t.Title, t.UUID, t.Description, t.Priority, t.Status, dueDate(t), a.AssignedBy)

	return Notification{
		Recipients: []string{a.UserEmail},
		Subject:    "New Task Assigned: " + t.Title,
		Body:       body,
	}
}

func StatusChanged(t *task.Task, from, to task.Status, actor string, recipients []string) Notification {
	body := fmt.Sprintf(`Task "%s" status has been updated from "%s" to "%s" by %s.

Task Details:
- Task ID: %s
- New Status: %s
- Priority: %s
- Updated by: %s

View task details in the Task Management System.`,
		t.Title, from, to, actor, t.UUID, to, t.Priority, actor)

	return Notification{
		Recipients: recipients,
		Subject:    "Task Status Updated: " + t.Title,
		Body:       body,
	}
}

func dueDate(t *task.Task) string {
	if t.DueDate == nil {
		return "Not set"
	}
	return t.DueDate.Format(task.DueDateLayout)
}
