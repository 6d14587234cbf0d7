package engine

import "fmt"

// TransitionError indicates the requested transition is not legal from the
// entity's current status. Callers recover by refetching state.
type TransitionError struct {
	Entity string
	From   string
	To     string
}

func (e TransitionError) Error() string {
	return fmt.Sprintf("invalid %s transition %s -> %s", e.Entity, e.From, e.To)
}

// InputError indicates a malformed or missing field.
type InputError struct {
	Field  string
	Reason string
}

func (e InputError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// MembershipError indicates the actor is not in the task's assignee set.
type MembershipError struct {
	ActorID string
	TaskID  string
}

func (e MembershipError) Error() string {
	return fmt.Sprintf("actor %s is not assigned to task %s", e.ActorID, e.TaskID)
}
