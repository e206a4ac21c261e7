package service

import (
	"taskflow/internal/identity"
	"taskflow/internal/models/assignment"
)

// Authorization is a set of predicates over the caller identity; membership in a task
// comes from assignment rows, never from a role.

func CanCreateTask(caller identity.Identity) bool {
	return caller.IsAdmin()
}

func CanAssignTask(caller identity.Identity) bool {
	return caller.IsAdmin()
}

func CanSeeAllTasks(caller identity.Identity) bool {
	return caller.IsAdmin()
}

func CanListUsers(caller identity.Identity) bool {
	return caller.IsAdmin()
}

func CanEditDetails(caller identity.Identity) bool {
	return caller.IsAdmin()
}

// IsLinked reports whether one of links ties the caller's subject to the task.
func IsLinked(caller identity.Identity, links []*assignment.Assignment) bool {
	for _, a := range links {
		if a.UserID == caller.Subject {
			return true
		}
	}
	return false
}

func CanAccessTask(caller identity.Identity, links []*assignment.Assignment) bool {
	return caller.IsAdmin() || IsLinked(caller, links)
}
