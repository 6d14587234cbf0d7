package engine

import (
	"context"
	"time"

	"keyturn/internal/domain"
	"keyturn/internal/repo"
)

// Query surface. Reads go straight to the repo; the engine only adds the
// day-window arithmetic for due-date lookups.

// TasksDueOn returns tasks whose due date falls on the given UTC calendar day.
func (e *Engine) TasksDueOn(ctx context.Context, day time.Time) ([]domain.Task, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)
	return e.Repo.ListTasks(ctx, repo.TaskFilters{
		DueFrom:  start.Format(time.RFC3339),
		DueUntil: end.Format(time.RFC3339),
	})
}

func (e *Engine) TasksByStatus(ctx context.Context, status string) ([]domain.Task, error) {
	return e.Repo.ListTasks(ctx, repo.TaskFilters{Status: status})
}

func (e *Engine) TasksForAssignee(ctx context.Context, userID string) ([]domain.Task, error) {
	return e.Repo.ListTasks(ctx, repo.TaskFilters{AssigneeID: userID})
}

func (e *Engine) IncidentsForTask(ctx context.Context, taskID string) ([]domain.Incident, error) {
	if _, err := e.Repo.GetTask(ctx, taskID); err != nil {
		return nil, err
	}
	return e.Repo.ListIncidentsForTask(ctx, taskID)
}

func (e *Engine) OpenIncidents(ctx context.Context) ([]domain.Incident, error) {
	return e.Repo.ListOpenIncidents(ctx)
}
