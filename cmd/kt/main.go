package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"keyturn/internal/app"
	"keyturn/internal/config"
	"keyturn/internal/db"
	"keyturn/internal/domain"
	"keyturn/internal/engine"
	"keyturn/internal/migrate"
	"keyturn/internal/repo"
	"keyturn/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "kt",
	Short: "Keyturn CLI",
	Long: `Keyturn coordinates cleaning work for short-term rentals.
Core concepts:
- Workspace: your .keyturn directory with the database; the user and property directory is seeded from keyturn.yml.
- Tasks: cleaning jobs on a property; statuses go pending -> assigned -> in_progress -> submitted -> approved/rejected, and rejected tasks can be reassigned.
- Roles: tenants observe, owners create and review, mediators run assignment, cleaners do the work.
- Incidents: damage reports raised during a job; they are resolved (approved/rejected) independently of the task, and approved ones can be marked repaired.
- Event log: diary of changes, view with 'kt log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("KEYTURN")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "", "actor identifier (must exist in the user directory)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(incidentCmd())
	rootCmd.AddCommand(propertyCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var workspaceID string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize workspace with a default keyturn.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(workspaceID)), 0o644); err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				fmt.Printf("Wrote %s and seeded directory\n", path)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&workspaceID, "id", "keyturn", "workspace id")
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show workspace status",
		Long:  "See the scoreboard: task counts per status and how many incidents are still open.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				counts, err := e.Repo.CountTasksByStatus(ctx)
				if err != nil {
					return err
				}
				open, err := e.Repo.ListOpenIncidents(ctx)
				if err != nil {
					return err
				}
				out := map[string]any{
					"task_counts":    counts,
					"open_incidents": len(open),
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Println("Tasks:")
				for status, c := range counts {
					fmt.Printf("  %s: %d\n", status, c)
				}
				fmt.Printf("Open incidents: %d\n", len(open))
				return nil
			})
		},
	}
	return cmd
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Manage cleaning tasks",
		Long:  "Tasks are cleaning jobs on a property. Owners and mediators create them, mediators assign cleaners, cleaners start and submit, owners and mediators review.",
	}
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskGetCmd())
	task.AddCommand(taskAssignCmd())
	task.AddCommand(taskStartCmd())
	task.AddCommand(taskSubmitCmd())
	task.AddCommand(taskReviewCmd())
	return task
}

func taskCreateCmd() *cobra.Command {
	var opts engine.TaskCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e *engine.Engine, actorID string, role domain.Role) error {
				opts.ActorID = actorID
				opts.ActorRole = role
				t, err := e.CreateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "task id (optional)")
	cmd.Flags().StringVar(&opts.PropertyID, "property", "", "property id")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Type, "type", "turnover", "task type (turnover, inspection, deep_clean)")
	cmd.Flags().StringVar(&opts.DueAt, "due-at", "", "due timestamp, RFC3339")
	_ = cmd.MarkFlagRequired("property")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("due-at")
	return cmd
}

func taskListCmd() *cobra.Command {
	var f repo.TaskFilters
	var dueOn string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				if dueOn != "" {
					day, err := time.Parse("2006-01-02", dueOn)
					if err != nil {
						return fmt.Errorf("invalid --due-on: must be YYYY-MM-DD")
					}
					start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
					f.DueFrom = start.Format(time.RFC3339)
					f.DueUntil = start.Add(24 * time.Hour).Format(time.RFC3339)
				}
				tasks, err := e.Repo.ListTasks(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Type", "Status", "Due", "Assignees"})
				for _, t := range tasks {
					tw.AppendRow(table.Row{t.ID, t.Title, t.Type, t.Status, t.DueAt, strings.Join(t.Assignees, ",")})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.AssigneeID, "assignee-id", "", "assignee filter")
	cmd.Flags().StringVar(&f.PropertyID, "property", "", "property filter")
	cmd.Flags().StringVar(&dueOn, "due-on", "", "UTC day filter, YYYY-MM-DD")
	return cmd
}

func taskGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				t, err := e.Repo.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskAssignCmd() *cobra.Command {
	var cleaners []string
	cmd := &cobra.Command{
		Use:   "assign <id>",
		Short: "Assign cleaners to a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e *engine.Engine, actorID string, role domain.Role) error {
				t, err := e.AssignCleaner(ctx, args[0], cleaners, role, actorID)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringArrayVar(&cleaners, "cleaner", []string{}, "cleaner user id (repeatable)")
	return cmd
}

func taskStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start <id>",
		Short: "Start work on an assigned task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e *engine.Engine, actorID string, role domain.Role) error {
				t, err := e.StartWork(ctx, args[0], role, actorID)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskSubmitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit <id>",
		Short: "Submit a task for review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e *engine.Engine, actorID string, role domain.Role) error {
				t, err := e.SubmitForReview(ctx, args[0], role, actorID)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskReviewCmd() *cobra.Command {
	var decision string
	cmd := &cobra.Command{
		Use:   "review <id>",
		Short: "Approve or reject a submitted task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e *engine.Engine, actorID string, role domain.Role) error {
				t, err := e.Review(ctx, args[0], decision, role, actorID)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&decision, "decision", "", "approve or reject")
	_ = cmd.MarkFlagRequired("decision")
	return cmd
}

func incidentCmd() *cobra.Command {
	inc := &cobra.Command{
		Use:   "incident",
		Short: "Manage incidents",
		Long:  "Incidents are damage reports raised while a job is underway. They are settled independently of the task review.",
	}
	inc.AddCommand(incidentReportCmd())
	inc.AddCommand(incidentListCmd())
	inc.AddCommand(incidentOpenCmd())
	inc.AddCommand(incidentResolveCmd())
	inc.AddCommand(incidentRepairCmd())
	return inc
}

func incidentReportCmd() *cobra.Command {
	var opts engine.IncidentReportOptions
	var cost float64
	cmd := &cobra.Command{
		Use:   "report <task-id>",
		Short: "Report an incident on a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e *engine.Engine, actorID string, role domain.Role) error {
				opts.TaskID = args[0]
				opts.ActorID = actorID
				opts.ActorRole = role
				if cmd.Flags().Changed("cost") {
					opts.EstimatedCost = &cost
				}
				in, err := e.ReportIncident(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(in)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Description, "description", "", "what happened")
	cmd.Flags().StringVar(&opts.Severity, "severity", "medium", "low, medium or high")
	cmd.Flags().Float64Var(&cost, "cost", 0, "estimated cost")
	cmd.Flags().StringArrayVar(&opts.Photos, "photo", []string{}, "photo URL (repeatable)")
	_ = cmd.MarkFlagRequired("description")
	return cmd
}

func incidentListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <task-id>",
		Short: "List incidents for a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				items, err := e.IncidentsForTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printIncidents(items)
			})
		},
	}
	return cmd
}

func incidentOpenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "open",
		Short: "List all open incidents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				items, err := e.OpenIncidents(ctx)
				if err != nil {
					return err
				}
				return printIncidents(items)
			})
		},
	}
	return cmd
}

func incidentResolveCmd() *cobra.Command {
	var decision string
	cmd := &cobra.Command{
		Use:   "resolve <id>",
		Short: "Approve or reject an open incident",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e *engine.Engine, actorID string, role domain.Role) error {
				in, err := e.ResolveIncident(ctx, args[0], decision, role, actorID)
				if err != nil {
					return err
				}
				return printJSONOrTable(in)
			})
		},
	}
	cmd.Flags().StringVar(&decision, "decision", "", "approve or reject")
	_ = cmd.MarkFlagRequired("decision")
	return cmd
}

func incidentRepairCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repair <id>",
		Short: "Confirm repair of an approved incident",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e *engine.Engine, actorID string, role domain.Role) error {
				in, err := e.ConfirmRepair(ctx, args[0], role, actorID)
				if err != nil {
					return err
				}
				return printJSONOrTable(in)
			})
		},
	}
	return cmd
}

func propertyCmd() *cobra.Command {
	prop := &cobra.Command{Use: "property", Short: "Property directory"}
	prop.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List properties",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				items, err := e.Repo.ListProperties(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	})
	prop.AddCommand(&cobra.Command{
		Use:   "rooms <id>",
		Short: "List rooms and inventory of a property",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				rooms, err := e.Repo.ListRooms(ctx, args[0])
				if err != nil {
					return err
				}
				out := make([]map[string]any, 0, len(rooms))
				for _, room := range rooms {
					items, err := e.Repo.ListInventory(ctx, room.ID)
					if err != nil {
						return err
					}
					out = append(out, map[string]any{"room": room, "inventory": items})
				}
				return printJSONOrTable(out)
			})
		},
	})
	return prop
}

func userCmd() *cobra.Command {
	user := &cobra.Command{Use: "user", Short: "User directory"}
	user.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				items, err := e.Repo.ListUsers(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Email", "Role"})
				for _, u := range items {
					tw.AppendRow(table.Row{u.ID, u.Name, u.Email, u.Role})
				}
				tw.Render()
				return nil
			})
		},
	})
	return user
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: task transitions, assignments, incidents.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				events, err := e.Repo.LatestEventsFrom(ctx, n, 0, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func apikeyCmd() *cobra.Command {
	key := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	key.AddCommand(apikeyCreateCmd())
	key.AddCommand(apikeyListCmd())
	key.AddCommand(apikeyDeleteCmd())
	return key
}

func apikeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e *engine.Engine, actorID string, _ domain.Role) error {
				secret := uuid.New().String()
				rec := domain.APIKey{
					ID:      uuid.New().String(),
					ActorID: actorID,
					Name:    name,
					KeyHash: repo.HashAPIKey(secret),
				}
				if err := e.Repo.InsertAPIKey(ctx, rec); err != nil {
					return err
				}
				// The raw key is shown once and never stored.
				return printJSONOrTable(map[string]string{"id": rec.ID, "key": secret})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				keys, err := e.Repo.ListAPIKeys(ctx, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(keys)
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "filter by actor id")
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				return e.Repo.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			cfg, err := app.ResolveConfig(cmd.Context(), workspace, r)
			if err != nil {
				return err
			}
			e := engine.New(conn)
			secret := os.Getenv("KEYTURN_JWT_SECRET")
			if secret == "" {
				secret = cfg.Server.JWTSecret
			}
			if secret == "" {
				return fmt.Errorf("KEYTURN_JWT_SECRET (or server.jwt_secret in keyturn.yml) is required for bearer auth")
			}
			authCfg := server.AuthConfig{JWTSecret: secret}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Server.Addr
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Keyturn API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, *engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	if _, err := app.ResolveConfig(ctx, workspace, r); err != nil {
		return err
	}
	return fn(ctx, engine.New(conn))
}

// withActor additionally resolves the --actor-id flag to its directory role.
func withActor(ctx context.Context, fn func(context.Context, *engine.Engine, string, domain.Role) error) error {
	return withEngine(ctx, func(ctx context.Context, e *engine.Engine) error {
		actorID := strings.TrimSpace(viper.GetString("actor-id"))
		if actorID == "" {
			return fmt.Errorf("--actor-id required (or set KEYTURN_ACTOR_ID)")
		}
		role, err := e.Repo.RoleOf(ctx, actorID)
		if err != nil {
			return fmt.Errorf("resolve actor %s: %w", actorID, err)
		}
		return fn(ctx, e, actorID, role)
	})
}

func printIncidents(items []domain.Incident) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Task", "Severity", "Status", "Description"})
	for _, in := range items {
		tw.AppendRow(table.Row{in.ID, in.TaskID, in.Severity, in.Status, in.Description})
	}
	tw.Render()
	return nil
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
