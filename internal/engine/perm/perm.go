package perm

import (
	"fmt"

	"keyturn/internal/domain"
)

// Action names an engine operation for capability lookup.
type Action string

const (
	TaskCreate      Action = "task.create"
	TaskAssign      Action = "task.assign"
	TaskStart       Action = "task.start"
	TaskSubmit      Action = "task.submit"
	TaskReview      Action = "task.review"
	IncidentReport  Action = "incident.report"
	IncidentResolve Action = "incident.resolve"
	IncidentRepair  Action = "incident.repair"

	TaskRead     Action = "task.read"
	IncidentRead Action = "incident.read"
	CatalogRead  Action = "catalog.read"
	LogRead      Action = "log.read"
)

// All enumerates every action, in table order. Exposed for exhaustive tests.
var All = []Action{
	TaskCreate, TaskAssign, TaskStart, TaskSubmit, TaskReview,
	IncidentReport, IncidentResolve, IncidentRepair,
	TaskRead, IncidentRead, CatalogRead, LogRead,
}

// DeniedError indicates the actor's role lacks the capability.
type DeniedError struct {
	Role   domain.Role
	Action Action
}

func (e DeniedError) Error() string {
	return fmt.Sprintf("role %s may not perform %s", e.Role, e.Action)
}

var allRoles = []domain.Role{domain.RoleTenant, domain.RoleOwner, domain.RoleMediator, domain.RoleCleaner}

func roles(rs ...domain.Role) map[domain.Role]bool {
	m := make(map[domain.Role]bool, len(rs))
	for _, r := range rs {
		m[r] = true
	}
	return m
}

// capabilities is the single source of truth for role gating. Assignee
// membership checks for start/submit/report stay in the engine; this table
// only answers whether the role may attempt the action at all.
var capabilities = map[Action]map[domain.Role]bool{
	TaskCreate:      roles(domain.RoleOwner, domain.RoleMediator),
	TaskAssign:      roles(domain.RoleMediator),
	TaskStart:       roles(domain.RoleCleaner),
	TaskSubmit:      roles(domain.RoleCleaner),
	TaskReview:      roles(domain.RoleOwner, domain.RoleMediator),
	IncidentReport:  roles(domain.RoleCleaner, domain.RoleMediator),
	IncidentResolve: roles(domain.RoleOwner, domain.RoleMediator),
	IncidentRepair:  roles(domain.RoleOwner, domain.RoleMediator),

	TaskRead:     roles(allRoles...),
	IncidentRead: roles(allRoles...),
	CatalogRead:  roles(allRoles...),
	LogRead:      roles(allRoles...),
}

// CanPerform reports whether the role holds the capability for action.
// Deterministic, no hidden state; unknown roles and actions are denied.
func CanPerform(role domain.Role, action Action) bool {
	return capabilities[action][role]
}

// Require returns a DeniedError unless the role holds the capability.
func Require(role domain.Role, action Action) error {
	if !CanPerform(role, action) {
		return DeniedError{Role: role, Action: action}
	}
	return nil
}
