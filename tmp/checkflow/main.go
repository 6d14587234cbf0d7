package main

import (
	"context"
	"fmt"
	"net/http/httptest"
	"time"

	"keyturn/internal/app"
	"keyturn/internal/config"
	"keyturn/internal/db"
	"keyturn/internal/engine"
	"keyturn/internal/migrate"
	"keyturn/internal/repo"
	"keyturn/internal/server"

	keyturnsdk "keyturn/sdk/go"
)

// Drives the happy path end to end over HTTP: create, assign, start,
// report an incident, submit, review, settle the incident, confirm repair.
func main() {
	workspace := "/tmp/keyturn-check"
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		panic(err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		panic(err)
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		panic(err)
	}
	ctx := context.Background()
	r := repo.Repo{DB: conn}
	if err := app.SeedDirectory(ctx, r, config.Default("keyturn")); err != nil {
		panic(err)
	}
	e := engine.New(conn)
	h, err := server.New(server.Config{Engine: e, BasePath: "/v1", Auth: server.AuthConfig{JWTSecret: "check-secret"}})
	if err != nil {
		panic(err)
	}
	ts := httptest.NewServer(h)
	defer ts.Close()

	login := func(actor string) *keyturnsdk.Client {
		c := keyturnsdk.New(ts.URL)
		if err := c.DevLogin(ctx, actor); err != nil {
			panic(err)
		}
		return c
	}
	owner := login("user-2")
	mediator := login("user-3")
	cleaner := login("user-4")

	due := time.Now().Add(48 * time.Hour).UTC().Format(time.RFC3339)
	task, err := owner.CreateTask(ctx, "prop-1", "Clean Apt 402 before guest arrival", "turnover", due)
	must(err)
	fmt.Println("created", task.ID, task.Status)

	task, err = mediator.AssignCleaners(ctx, task.ID, []string{"user-4"})
	must(err)
	fmt.Println("assigned", task.Status, task.Assignees)

	task, err = cleaner.StartWork(ctx, task.ID)
	must(err)
	fmt.Println("started", task.Status)

	cost := 25.0
	incident, err := cleaner.ReportIncident(ctx, task.ID, "Broken glass found in kitchen sink", "medium", &cost, nil)
	must(err)
	fmt.Println("incident", incident.ID, incident.Status)

	task, err = cleaner.SubmitForReview(ctx, task.ID)
	must(err)
	fmt.Println("submitted", task.Status)

	task, err = owner.Review(ctx, task.ID, "approve")
	must(err)
	fmt.Println("reviewed", task.Status)

	incident, err = owner.ResolveIncident(ctx, incident.ID, "approve")
	must(err)
	incident, err = mediator.ConfirmRepair(ctx, incident.ID)
	must(err)
	fmt.Println("incident settled", incident.Status)

	events, err := owner.Events(ctx, 20)
	must(err)
	fmt.Println("events logged:", len(events))
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}
