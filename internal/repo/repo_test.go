package repo_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"keyturn/internal/app"
	"keyturn/internal/config"
	"keyturn/internal/db"
	"keyturn/internal/domain"
	"keyturn/internal/migrate"
	"keyturn/internal/repo"
)

func newTestRepo(t *testing.T) (repo.Repo, context.Context) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r := repo.Repo{DB: conn}
	ctx := context.Background()
	if err := app.SeedDirectory(ctx, r, config.Default("keyturn")); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return r, ctx
}

func insertTask(t *testing.T, r repo.Repo, ctx context.Context, task domain.Task) {
	t.Helper()
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.InsertTaskTx(ctx, tx, task); err != nil {
		t.Fatalf("insert %s: %v", task.ID, err)
	}
	if len(task.Assignees) > 0 {
		if err := r.ReplaceAssigneesTx(ctx, tx, task.ID, task.Assignees); err != nil {
			t.Fatalf("assignees %s: %v", task.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
}

func mkTask(id, propertyID, status, dueAt, createdAt string, assignees ...string) domain.Task {
	return domain.Task{
		ID: id, PropertyID: propertyID, Title: "t " + id, Type: domain.TaskTurnover,
		Status: status, DueAt: dueAt, CreatedAt: createdAt, UpdatedAt: createdAt,
		Assignees: assignees,
	}
}

func TestListTasksFilters(t *testing.T) {
	r, ctx := newTestRepo(t)
	insertTask(t, r, ctx, mkTask("t1", "prop-1", domain.TaskPending, "2026-02-01T09:00:00Z", "2026-01-01T00:00:01Z"))
	insertTask(t, r, ctx, mkTask("t2", "prop-1", domain.TaskAssigned, "2026-02-01T18:00:00Z", "2026-01-01T00:00:02Z", "user-4"))
	insertTask(t, r, ctx, mkTask("t3", "prop-2", domain.TaskPending, "2026-02-02T09:00:00Z", "2026-01-01T00:00:03Z"))

	got, err := r.ListTasks(ctx, repo.TaskFilters{Status: domain.TaskPending})
	if err != nil || len(got) != 2 {
		t.Fatalf("status filter: %d (%v)", len(got), err)
	}
	got, err = r.ListTasks(ctx, repo.TaskFilters{PropertyID: "prop-2"})
	if err != nil || len(got) != 1 || got[0].ID != "t3" {
		t.Fatalf("property filter: %v (%v)", got, err)
	}
	got, err = r.ListTasks(ctx, repo.TaskFilters{AssigneeID: "user-4"})
	if err != nil || len(got) != 1 || got[0].ID != "t2" {
		t.Fatalf("assignee filter: %v (%v)", got, err)
	}
	if len(got[0].Assignees) != 1 || got[0].Assignees[0] != "user-4" {
		t.Fatalf("assignees not loaded: %v", got[0].Assignees)
	}
	got, err = r.ListTasks(ctx, repo.TaskFilters{Status: domain.TaskPending, PropertyID: "prop-1"})
	if err != nil || len(got) != 1 || got[0].ID != "t1" {
		t.Fatalf("combined filter: %v (%v)", got, err)
	}
}

func TestListTasksDueRangeBounds(t *testing.T) {
	r, ctx := newTestRepo(t)
	insertTask(t, r, ctx, mkTask("early", "prop-1", domain.TaskPending, "2026-02-01T00:00:00Z", "2026-01-01T00:00:01Z"))
	insertTask(t, r, ctx, mkTask("late", "prop-1", domain.TaskPending, "2026-02-01T23:59:59Z", "2026-01-01T00:00:02Z"))
	insertTask(t, r, ctx, mkTask("next", "prop-1", domain.TaskPending, "2026-02-02T00:00:00Z", "2026-01-01T00:00:03Z"))

	// start inclusive, end exclusive
	got, err := r.ListTasks(ctx, repo.TaskFilters{
		DueFrom:  "2026-02-01T00:00:00Z",
		DueUntil: "2026-02-02T00:00:00Z",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected early+late, got %d", len(got))
	}
	for _, task := range got {
		if task.ID == "next" {
			t.Fatal("end bound must be exclusive")
		}
	}
}

func TestListTasksCursorPagination(t *testing.T) {
	r, ctx := newTestRepo(t)
	for i := 1; i <= 5; i++ {
		insertTask(t, r, ctx, mkTask(
			fmt.Sprintf("t%d", i), "prop-1", domain.TaskPending,
			"2026-02-01T09:00:00Z",
			fmt.Sprintf("2026-01-01T00:00:0%dZ", i),
		))
	}

	page1, err := r.ListTasks(ctx, repo.TaskFilters{Limit: 2})
	if err != nil || len(page1) != 2 {
		t.Fatalf("page1: %d (%v)", len(page1), err)
	}
	// newest first
	if page1[0].ID != "t5" || page1[1].ID != "t4" {
		t.Fatalf("unexpected order: %s, %s", page1[0].ID, page1[1].ID)
	}
	last := page1[len(page1)-1]
	page2, err := r.ListTasks(ctx, repo.TaskFilters{
		Limit:           2,
		CursorCreatedAt: last.CreatedAt,
		CursorID:        last.ID,
	})
	if err != nil || len(page2) != 2 {
		t.Fatalf("page2: %d (%v)", len(page2), err)
	}
	if page2[0].ID != "t3" || page2[1].ID != "t2" {
		t.Fatalf("page2 order: %s, %s", page2[0].ID, page2[1].ID)
	}
}

func TestSetTaskStatusStale(t *testing.T) {
	r, ctx := newTestRepo(t)
	insertTask(t, r, ctx, mkTask("t1", "prop-1", domain.TaskPending, "2026-02-01T09:00:00Z", "2026-01-01T00:00:01Z"))

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	err = r.SetTaskStatusTx(ctx, tx, "t1", domain.TaskAssigned, domain.TaskInProgress, "2026-01-01T01:00:00Z")
	if !errors.Is(err, repo.ErrStale) {
		t.Fatalf("expected ErrStale, got %v", err)
	}
	tx.Rollback()

	tx, err = r.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.SetTaskStatusTx(ctx, tx, "t1", domain.TaskPending, domain.TaskAssigned, "2026-01-01T01:00:00Z"); err != nil {
		t.Fatalf("expected update, got %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	got, err := r.GetTask(ctx, "t1")
	if err != nil || got.Status != domain.TaskAssigned {
		t.Fatalf("status after update: %s (%v)", got.Status, err)
	}
}

func TestGetTaskNotFound(t *testing.T) {
	r, ctx := newTestRepo(t)
	if _, err := r.GetTask(ctx, "missing"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := r.GetIncident(ctx, "missing"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("incident: expected ErrNotFound, got %v", err)
	}
	if _, err := r.RoleOf(ctx, "missing"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("role: expected ErrNotFound, got %v", err)
	}
}

func TestAPIKeyRoundTrip(t *testing.T) {
	r, ctx := newTestRepo(t)
	raw := "kt_live_example"
	key := domain.APIKey{ID: "key-1", ActorID: "user-3", Name: "ops", KeyHash: repo.HashAPIKey(raw)}
	if err := r.InsertAPIKey(ctx, key); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := r.GetAPIKeyByHash(ctx, repo.HashAPIKey(raw))
	if err != nil || got.ActorID != "user-3" {
		t.Fatalf("lookup: %+v (%v)", got, err)
	}
	if _, err := r.GetAPIKeyByHash(ctx, repo.HashAPIKey("wrong")); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("wrong key: %v", err)
	}

	keys, err := r.ListAPIKeys(ctx, "user-3")
	if err != nil || len(keys) != 1 || keys[0].Name != "ops" {
		t.Fatalf("list: %v (%v)", keys, err)
	}
	if err := r.DeleteAPIKey(ctx, "key-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := r.GetAPIKeyByHash(ctx, repo.HashAPIKey(raw)); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("after delete: %v", err)
	}
}
