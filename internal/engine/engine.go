package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"keyturn/internal/domain"
	"keyturn/internal/engine/perm"
	"keyturn/internal/events"
	"keyturn/internal/repo"
)

// Engine applies validated transitions to tasks and incidents. Every
// mutation is permission-checked, serialized per entity id, and committed
// in a single transaction together with its audit event, so a failed
// operation leaves no partial state.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Now    func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(db *sql.DB) *Engine {
	return &Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Now:    time.Now,
		locks:  map[string]*sync.Mutex{},
	}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// lockEntity serializes mutations on a single entity id. Transitions on
// different entities proceed in parallel.
func (e *Engine) lockEntity(id string) func() {
	e.mu.Lock()
	l, ok := e.locks[id]
	if !ok {
		l = &sync.Mutex{}
		e.locks[id] = l
	}
	e.mu.Unlock()
	l.Lock()
	return l.Unlock
}

const (
	DecisionApprove = "approve"
	DecisionReject  = "reject"
)

func ensureTaskTransition(oldStatus, newStatus string) error {
	switch oldStatus {
	case domain.TaskPending, domain.TaskRejected:
		if newStatus == domain.TaskAssigned {
			return nil
		}
	case domain.TaskAssigned:
		if newStatus == domain.TaskInProgress {
			return nil
		}
	case domain.TaskInProgress:
		if newStatus == domain.TaskSubmitted {
			return nil
		}
	case domain.TaskSubmitted:
		if newStatus == domain.TaskApproved || newStatus == domain.TaskRejected {
			return nil
		}
	}
	return TransitionError{Entity: "task", From: oldStatus, To: newStatus}
}

func ensureIncidentTransition(oldStatus, newStatus string) error {
	switch oldStatus {
	case domain.IncidentOpen:
		if newStatus == domain.IncidentApproved || newStatus == domain.IncidentRejected {
			return nil
		}
	case domain.IncidentApproved:
		if newStatus == domain.IncidentRepaired {
			return nil
		}
	}
	return TransitionError{Entity: "incident", From: oldStatus, To: newStatus}
}

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	ID         string
	PropertyID string
	Title      string
	Type       string
	DueAt      string
	ActorRole  domain.Role
	ActorID    string
}

func (e *Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	if err := perm.Require(opts.ActorRole, perm.TaskCreate); err != nil {
		return domain.Task{}, err
	}
	if strings.TrimSpace(opts.Title) == "" {
		return domain.Task{}, InputError{Field: "title", Reason: "required"}
	}
	if !domain.KnownTaskType(opts.Type) {
		return domain.Task{}, InputError{Field: "type", Reason: "unrecognized task type"}
	}
	due, err := time.Parse(time.RFC3339, opts.DueAt)
	if err != nil {
		return domain.Task{}, InputError{Field: "due_at", Reason: "must be an RFC3339 timestamp"}
	}
	if due.Before(e.now().Add(-time.Minute)) {
		return domain.Task{}, InputError{Field: "due_at", Reason: "must not be in the past"}
	}
	if _, err := e.Repo.GetProperty(ctx, opts.PropertyID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Task{}, InputError{Field: "property_id", Reason: "unknown property"}
		}
		return domain.Task{}, err
	}

	now := e.now().UTC().Format(time.RFC3339)
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	t := domain.Task{
		ID:         id,
		PropertyID: opts.PropertyID,
		Title:      opts.Title,
		Type:       opts.Type,
		Status:     domain.TaskPending,
		DueAt:      due.UTC().Format(time.RFC3339),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertTaskTx(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, "task.created", "task", t.ID, opts.ActorID, events.EventPayload{
		"property_id": t.PropertyID,
		"type":        t.Type,
		"status":      t.Status,
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// AssignCleaner moves a pending or rejected task into assigned with the
// given cleaner set. Any prior assignee set is replaced.
func (e *Engine) AssignCleaner(ctx context.Context, taskID string, cleanerIDs []string, actorRole domain.Role, actorID string) (domain.Task, error) {
	if err := perm.Require(actorRole, perm.TaskAssign); err != nil {
		return domain.Task{}, err
	}
	if len(cleanerIDs) == 0 {
		return domain.Task{}, InputError{Field: "cleaner_ids", Reason: "at least one cleaner required"}
	}
	seen := map[string]bool{}
	for _, id := range cleanerIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		role, err := e.Repo.RoleOf(ctx, id)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return domain.Task{}, fmt.Errorf("cleaner %s: %w", id, repo.ErrNotFound)
			}
			return domain.Task{}, err
		}
		if role != domain.RoleCleaner {
			return domain.Task{}, InputError{Field: "cleaner_ids", Reason: fmt.Sprintf("user %s is not a cleaner", id)}
		}
	}

	unlock := e.lockEntity(taskID)
	defer unlock()
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if err := ensureTaskTransition(t.Status, domain.TaskAssigned); err != nil {
		return domain.Task{}, err
	}
	return e.applyTaskTransition(ctx, t, domain.TaskAssigned, actorID, "task.assigned",
		events.EventPayload{"cleaner_ids": cleanerIDs}, cleanerIDs)
}

// StartWork moves an assigned task into in_progress. Any member of the
// assignee set may start on behalf of the group.
func (e *Engine) StartWork(ctx context.Context, taskID string, actorRole domain.Role, actorID string) (domain.Task, error) {
	if err := perm.Require(actorRole, perm.TaskStart); err != nil {
		return domain.Task{}, err
	}
	unlock := e.lockEntity(taskID)
	defer unlock()
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if !t.HasAssignee(actorID) {
		return domain.Task{}, MembershipError{ActorID: actorID, TaskID: taskID}
	}
	if err := ensureTaskTransition(t.Status, domain.TaskInProgress); err != nil {
		return domain.Task{}, err
	}
	return e.applyTaskTransition(ctx, t, domain.TaskInProgress, actorID, "task.started", nil, nil)
}

// SubmitForReview moves an in_progress task into submitted. Open incidents
// on the task do not block submission; they are reviewed independently.
func (e *Engine) SubmitForReview(ctx context.Context, taskID string, actorRole domain.Role, actorID string) (domain.Task, error) {
	if err := perm.Require(actorRole, perm.TaskSubmit); err != nil {
		return domain.Task{}, err
	}
	unlock := e.lockEntity(taskID)
	defer unlock()
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if !t.HasAssignee(actorID) {
		return domain.Task{}, MembershipError{ActorID: actorID, TaskID: taskID}
	}
	if err := ensureTaskTransition(t.Status, domain.TaskSubmitted); err != nil {
		return domain.Task{}, err
	}
	return e.applyTaskTransition(ctx, t, domain.TaskSubmitted, actorID, "task.submitted", nil, nil)
}

// Review settles a submitted task as approved or rejected. Rejected tasks
// keep their assignees and may be reassigned later.
func (e *Engine) Review(ctx context.Context, taskID, decision string, actorRole domain.Role, actorID string) (domain.Task, error) {
	if err := perm.Require(actorRole, perm.TaskReview); err != nil {
		return domain.Task{}, err
	}
	target, err := decisionStatus(decision, domain.TaskApproved, domain.TaskRejected)
	if err != nil {
		return domain.Task{}, err
	}
	unlock := e.lockEntity(taskID)
	defer unlock()
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if err := ensureTaskTransition(t.Status, target); err != nil {
		return domain.Task{}, err
	}
	return e.applyTaskTransition(ctx, t, target, actorID, "task.reviewed",
		events.EventPayload{"decision": decision}, nil)
}

func decisionStatus(decision, approved, rejected string) (string, error) {
	switch decision {
	case DecisionApprove:
		return approved, nil
	case DecisionReject:
		return rejected, nil
	}
	return "", InputError{Field: "decision", Reason: "must be approve or reject"}
}

// applyTaskTransition writes the status change, optional assignee swap, and
// audit event in one transaction. The status update is conditional on the
// caller's observed status: if another writer got there first the update
// matches zero rows and the caller sees an invalid transition against the
// fresh state instead of clobbering it.
func (e *Engine) applyTaskTransition(ctx context.Context, t domain.Task, next, actorID, eventType string, payload events.EventPayload, assignees []string) (domain.Task, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	now := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.SetTaskStatusTx(ctx, tx, t.ID, t.Status, next, now); err != nil {
		if errors.Is(err, repo.ErrStale) {
			cur, gerr := e.Repo.GetTask(ctx, t.ID)
			if gerr != nil {
				return domain.Task{}, gerr
			}
			return domain.Task{}, TransitionError{Entity: "task", From: cur.Status, To: next}
		}
		return domain.Task{}, err
	}
	if assignees != nil {
		if err := e.Repo.ReplaceAssigneesTx(ctx, tx, t.ID, assignees); err != nil {
			return domain.Task{}, err
		}
	}
	if payload == nil {
		payload = events.EventPayload{}
	}
	payload["from"] = t.Status
	payload["to"] = next
	if err := e.Events.Append(ctx, tx, eventType, "task", t.ID, actorID, payload); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	t.Status = next
	t.UpdatedAt = now
	if assignees != nil {
		t.Assignees = assignees
	}
	return t, nil
}

// IncidentReportOptions are parameters for reporting an incident.
type IncidentReportOptions struct {
	ID            string
	TaskID        string
	Description   string
	Severity      string
	EstimatedCost *float64
	Photos        []string
	ActorRole     domain.Role
	ActorID       string
}

// ReportIncident opens an incident against a task that is in_progress or
// submitted. Cleaners may only report on tasks they are assigned to.
func (e *Engine) ReportIncident(ctx context.Context, opts IncidentReportOptions) (domain.Incident, error) {
	if err := perm.Require(opts.ActorRole, perm.IncidentReport); err != nil {
		return domain.Incident{}, err
	}
	if strings.TrimSpace(opts.Description) == "" {
		return domain.Incident{}, InputError{Field: "description", Reason: "required"}
	}
	if !domain.KnownSeverity(opts.Severity) {
		return domain.Incident{}, InputError{Field: "severity", Reason: "unrecognized severity level"}
	}

	// Lock the owning task: its status gates incident creation.
	unlock := e.lockEntity(opts.TaskID)
	defer unlock()
	t, err := e.Repo.GetTask(ctx, opts.TaskID)
	if err != nil {
		return domain.Incident{}, err
	}
	if opts.ActorRole == domain.RoleCleaner && !t.HasAssignee(opts.ActorID) {
		return domain.Incident{}, MembershipError{ActorID: opts.ActorID, TaskID: opts.TaskID}
	}
	if t.Status != domain.TaskInProgress && t.Status != domain.TaskSubmitted {
		return domain.Incident{}, TransitionError{Entity: "incident", From: t.Status, To: domain.IncidentOpen}
	}

	now := e.now().UTC().Format(time.RFC3339)
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	in := domain.Incident{
		ID:            id,
		TaskID:        opts.TaskID,
		Description:   opts.Description,
		Severity:      opts.Severity,
		EstimatedCost: opts.EstimatedCost,
		Photos:        opts.Photos,
		Status:        domain.IncidentOpen,
		ReportedBy:    opts.ActorID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Incident{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertIncidentTx(ctx, tx, in); err != nil {
		return domain.Incident{}, err
	}
	if err := e.Events.Append(ctx, tx, "incident.reported", "incident", in.ID, opts.ActorID, events.EventPayload{
		"task_id":  in.TaskID,
		"severity": in.Severity,
	}); err != nil {
		return domain.Incident{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Incident{}, err
	}
	return in, nil
}

// ResolveIncident settles an open incident as approved or rejected.
func (e *Engine) ResolveIncident(ctx context.Context, incidentID, decision string, actorRole domain.Role, actorID string) (domain.Incident, error) {
	if err := perm.Require(actorRole, perm.IncidentResolve); err != nil {
		return domain.Incident{}, err
	}
	target, err := decisionStatus(decision, domain.IncidentApproved, domain.IncidentRejected)
	if err != nil {
		return domain.Incident{}, err
	}
	return e.applyIncidentTransition(ctx, incidentID, target, actorID, "incident.resolved",
		events.EventPayload{"decision": decision})
}

// ConfirmRepair records the optional repair follow-up on an approved incident.
func (e *Engine) ConfirmRepair(ctx context.Context, incidentID string, actorRole domain.Role, actorID string) (domain.Incident, error) {
	if err := perm.Require(actorRole, perm.IncidentRepair); err != nil {
		return domain.Incident{}, err
	}
	return e.applyIncidentTransition(ctx, incidentID, domain.IncidentRepaired, actorID, "incident.repaired", nil)
}

func (e *Engine) applyIncidentTransition(ctx context.Context, incidentID, next, actorID, eventType string, payload events.EventPayload) (domain.Incident, error) {
	unlock := e.lockEntity(incidentID)
	defer unlock()
	in, err := e.Repo.GetIncident(ctx, incidentID)
	if err != nil {
		return domain.Incident{}, err
	}
	if err := ensureIncidentTransition(in.Status, next); err != nil {
		return domain.Incident{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Incident{}, err
	}
	defer tx.Rollback()
	now := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.SetIncidentStatusTx(ctx, tx, in.ID, in.Status, next, now); err != nil {
		if errors.Is(err, repo.ErrStale) {
			cur, gerr := e.Repo.GetIncident(ctx, in.ID)
			if gerr != nil {
				return domain.Incident{}, gerr
			}
			return domain.Incident{}, TransitionError{Entity: "incident", From: cur.Status, To: next}
		}
		return domain.Incident{}, err
	}
	if payload == nil {
		payload = events.EventPayload{}
	}
	payload["from"] = in.Status
	payload["to"] = next
	payload["task_id"] = in.TaskID
	if err := e.Events.Append(ctx, tx, eventType, "incident", in.ID, actorID, payload); err != nil {
		return domain.Incident{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Incident{}, err
	}
	in.Status = next
	in.UpdatedAt = now
	return in, nil
}
