package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"keyturn/internal/domain"
	"keyturn/internal/engine"
	"keyturn/internal/engine/perm"
	"keyturn/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   *engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Kind    string         `json:"kind" example:"invalid_transition"`
	Message string         `json:"message" example:"invalid task transition pending -> in_progress"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Keyturn API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema validation failures surface as invalid_input.
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Keyturn API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerStatus(group, cfg.Engine)
	registerTasks(group, cfg.Engine)
	registerIncidents(group, cfg.Engine)
	registerDirectory(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerMe(group, cfg.Engine)
	registerDevAuth(group, cfg.Engine, cfg.Auth)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, kind, message string, details map[string]any) huma.StatusError {
	if kind == "" {
		kind = defaultKindForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Kind:    kind,
			Message: message,
			Details: details,
		},
	}
}

// handleError maps domain errors onto the wire taxonomy. Anything the
// engine does not classify is reported as a collaborator failure so
// clients can retry.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var de perm.DeniedError
	if errors.As(err, &de) {
		return newAPIError(http.StatusForbidden, "permission_denied", err.Error(), map[string]any{"role": string(de.Role), "action": string(de.Action)})
	}
	var me engine.MembershipError
	if errors.As(err, &me) {
		return newAPIError(http.StatusForbidden, "permission_denied", err.Error(), map[string]any{"task_id": me.TaskID})
	}
	var te engine.TransitionError
	if errors.As(err, &te) {
		return newAPIError(http.StatusConflict, "invalid_transition", err.Error(), map[string]any{"from": te.From, "to": te.To})
	}
	var ie engine.InputError
	if errors.As(err, &ie) {
		return newAPIError(http.StatusBadRequest, "invalid_input", err.Error(), map[string]any{"field": ie.Field})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	return newAPIError(http.StatusServiceUnavailable, "collaborator_unavailable", "a backing service failed; retry later", map[string]any{"error": err.Error()})
}

func defaultKindForStatus(status int) string {
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return "invalid_input"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "invalid_transition"
	case http.StatusForbidden:
		return "permission_denied"
	case http.StatusServiceUnavailable:
		return "collaborator_unavailable"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	openPaths := map[string]bool{
		"/" + strings.TrimPrefix(path.Join(basePath, "health"), "/"):         true,
		"/" + strings.TrimPrefix(path.Join(basePath, "auth/dev/login"), "/"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if openPaths[route] {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Keyturn API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerStatus(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "status",
		Method:      http.MethodGet,
		Path:        "/status",
		Summary:     "Workspace status",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		if _, _, authErr := actorFromContext(ctx, e.Repo); authErr != nil {
			return nil, authErr
		}
		counts, err := e.Repo.CountTasksByStatus(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		open, err := e.Repo.ListOpenIncidents(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: map[string]any{
			"task_counts":    counts,
			"open_incidents": len(open),
		}}, nil
	})
}

func registerTasks(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "invalid_input", "body required", nil)
		}
		actorID, role, authErr := actorFromContext(ctx, e.Repo)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.TaskCreateOptions{
			PropertyID: input.Body.PropertyID,
			Title:      input.Body.Title,
			Type:       input.Body.Type,
			DueAt:      input.Body.DueAt,
			ActorRole:  role,
			ActorID:    actorID,
		}
		if input.Body.ID != nil {
			opts.ID = *input.Body.ID
		}
		t, err := e.CreateTask(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status     string `query:"status"`
		AssigneeID string `query:"assignee_id"`
		PropertyID string `query:"property_id"`
		DueOn      string `query:"due_on" doc:"UTC calendar day, YYYY-MM-DD"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedTasks `json:"body"`
	}, error) {
		if _, _, authErr := actorFromContext(ctx, e.Repo); authErr != nil {
			return nil, authErr
		}
		limit := normalizeLimit(input.Limit)
		cursorCreated, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "invalid_input", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		filter := repo.TaskFilters{
			Status:          input.Status,
			AssigneeID:      input.AssigneeID,
			PropertyID:      input.PropertyID,
			Limit:           limit + 1,
			CursorCreatedAt: cursorCreated,
			CursorID:        cursorID,
		}
		if input.DueOn != "" {
			day, err := time.Parse("2006-01-02", input.DueOn)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "invalid_input", "invalid due_on: must be YYYY-MM-DD", map[string]any{"due_on": input.DueOn})
			}
			start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
			filter.DueFrom = start.Format(time.RFC3339)
			filter.DueUntil = start.Add(24 * time.Hour).Format(time.RFC3339)
		}
		tasks, err := e.Repo.ListTasks(ctx, filter)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedTasks{Items: []TaskResponse{}}
		if len(tasks) > limit {
			resp.NextCursor = composeCursor(tasks[limit].CreatedAt, tasks[limit].ID)
			tasks = tasks[:limit]
		}
		resp.Items = mapTasks(tasks)
		return &struct {
			Body paginatedTasks `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		if _, _, authErr := actorFromContext(ctx, e.Repo); authErr != nil {
			return nil, authErr
		}
		t, err := e.Repo.GetTask(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "assign-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/assign",
		Summary:     "Assign cleaners to task",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body AssignTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "invalid_input", "body required", nil)
		}
		actorID, role, authErr := actorFromContext(ctx, e.Repo)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.AssignCleaner(ctx, input.ID, input.Body.CleanerIDs, role, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	registerTaskTransition(api, e, "start-task", "/tasks/{id}/start", "Start work on task", e.StartWork)
	registerTaskTransition(api, e, "submit-task", "/tasks/{id}/submit", "Submit task for review", e.SubmitForReview)

	huma.Register(api, huma.Operation{
		OperationID: "review-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/review",
		Summary:     "Review submitted task",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID   string        `path:"id"`
		Body ReviewRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "invalid_input", "body required", nil)
		}
		actorID, role, authErr := actorFromContext(ctx, e.Repo)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.Review(ctx, input.ID, input.Body.Decision, role, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})
}

type transitionFn func(ctx context.Context, taskID string, role domain.Role, actorID string) (domain.Task, error)

// registerTaskTransition registers a body-less POST that runs one of the
// engine's single-task transitions.
func registerTaskTransition(api huma.API, e *engine.Engine, opID, routePath, summary string, fn transitionFn) {
	huma.Register(api, huma.Operation{
		OperationID: opID,
		Method:      http.MethodPost,
		Path:        routePath,
		Summary:     summary,
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		actorID, role, authErr := actorFromContext(ctx, e.Repo)
		if authErr != nil {
			return nil, authErr
		}
		t, err := fn(ctx, input.ID, role, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})
}

func registerIncidents(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "report-incident",
		Method:        http.MethodPost,
		Path:          "/tasks/{id}/incidents",
		Summary:       "Report incident on task",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID   string                `path:"id"`
		Body ReportIncidentRequest `json:"body"`
	}) (*struct {
		Body IncidentResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "invalid_input", "body required", nil)
		}
		actorID, role, authErr := actorFromContext(ctx, e.Repo)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.IncidentReportOptions{
			TaskID:        input.ID,
			Description:   input.Body.Description,
			Severity:      input.Body.Severity,
			EstimatedCost: input.Body.EstimatedCost,
			Photos:        input.Body.Photos,
			ActorRole:     role,
			ActorID:       actorID,
		}
		if input.Body.ID != nil {
			opts.ID = *input.Body.ID
		}
		in, err := e.ReportIncident(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body IncidentResponse `json:"body"`
		}{Body: incidentResponse(in)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-task-incidents",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}/incidents",
		Summary:     "List incidents for task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body []IncidentResponse `json:"body"`
	}, error) {
		if _, _, authErr := actorFromContext(ctx, e.Repo); authErr != nil {
			return nil, authErr
		}
		items, err := e.IncidentsForTask(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []IncidentResponse `json:"body"`
		}{Body: mapIncidents(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-open-incidents",
		Method:      http.MethodGet,
		Path:        "/incidents/open",
		Summary:     "List open incidents",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []IncidentResponse `json:"body"`
	}, error) {
		if _, _, authErr := actorFromContext(ctx, e.Repo); authErr != nil {
			return nil, authErr
		}
		items, err := e.OpenIncidents(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []IncidentResponse `json:"body"`
		}{Body: mapIncidents(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-incident",
		Method:      http.MethodGet,
		Path:        "/incidents/{id}",
		Summary:     "Get incident",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body IncidentResponse `json:"body"`
	}, error) {
		if _, _, authErr := actorFromContext(ctx, e.Repo); authErr != nil {
			return nil, authErr
		}
		in, err := e.Repo.GetIncident(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body IncidentResponse `json:"body"`
		}{Body: incidentResponse(in)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resolve-incident",
		Method:      http.MethodPost,
		Path:        "/incidents/{id}/resolve",
		Summary:     "Resolve open incident",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID   string        `path:"id"`
		Body ReviewRequest `json:"body"`
	}) (*struct {
		Body IncidentResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "invalid_input", "body required", nil)
		}
		actorID, role, authErr := actorFromContext(ctx, e.Repo)
		if authErr != nil {
			return nil, authErr
		}
		in, err := e.ResolveIncident(ctx, input.ID, input.Body.Decision, role, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body IncidentResponse `json:"body"`
		}{Body: incidentResponse(in)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "repair-incident",
		Method:      http.MethodPost,
		Path:        "/incidents/{id}/repair",
		Summary:     "Confirm incident repair",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body IncidentResponse `json:"body"`
	}, error) {
		actorID, role, authErr := actorFromContext(ctx, e.Repo)
		if authErr != nil {
			return nil, authErr
		}
		in, err := e.ConfirmRepair(ctx, input.ID, role, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body IncidentResponse `json:"body"`
		}{Body: incidentResponse(in)}, nil
	})
}

func registerDirectory(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-properties",
		Method:      http.MethodGet,
		Path:        "/properties",
		Summary:     "List properties",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []PropertyResponse `json:"body"`
	}, error) {
		if _, _, authErr := actorFromContext(ctx, e.Repo); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListProperties(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]PropertyResponse, 0, len(items))
		for _, p := range items {
			res = append(res, propertyResponse(p))
		}
		return &struct {
			Body []PropertyResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-property",
		Method:      http.MethodGet,
		Path:        "/properties/{id}",
		Summary:     "Get property",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body PropertyResponse `json:"body"`
	}, error) {
		if _, _, authErr := actorFromContext(ctx, e.Repo); authErr != nil {
			return nil, authErr
		}
		p, err := e.Repo.GetProperty(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PropertyResponse `json:"body"`
		}{Body: propertyResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-property-rooms",
		Method:      http.MethodGet,
		Path:        "/properties/{id}/rooms",
		Summary:     "List rooms of property",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body []roomWithInventory `json:"body"`
	}, error) {
		if _, _, authErr := actorFromContext(ctx, e.Repo); authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetProperty(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		rooms, err := e.Repo.ListRooms(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]roomWithInventory, 0, len(rooms))
		for _, room := range rooms {
			items, err := e.Repo.ListInventory(ctx, room.ID)
			if err != nil {
				return nil, handleError(err)
			}
			res = append(res, roomWithInventory{Room: room, Inventory: nonNilSlice(items)})
		}
		return &struct {
			Body []roomWithInventory `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-users",
		Method:      http.MethodGet,
		Path:        "/users",
		Summary:     "List users",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []userResponse `json:"body"`
	}, error) {
		if _, _, authErr := actorFromContext(ctx, e.Repo); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListUsers(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]userResponse, 0, len(items))
		for _, u := range items {
			res = append(res, userResponse{ID: u.ID, Name: u.Name, Email: u.Email, Role: string(u.Role)})
		}
		return &struct {
			Body []userResponse `json:"body"`
		}{Body: res}, nil
	})
}

func registerEvents(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List audit events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Limit      int    `query:"limit" default:"50"`
		From       int64  `query:"from"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		if _, _, authErr := actorFromContext(ctx, e.Repo); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.LatestEventsFrom(ctx, normalizeLimit(input.Limit), input.From, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]EventResponse, 0, len(items))
		for _, ev := range items {
			res = append(res, eventResponse(ev))
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: res}, nil
	})
}

func registerMe(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors: []int{
			http.StatusUnauthorized,
		},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		actorID, role, authErr := actorFromContext(ctx, e.Repo)
		if authErr != nil {
			return nil, authErr
		}
		resp := WhoAmIResponse{ActorID: actorID, Role: string(role)}
		if u, err := e.Repo.GetUser(ctx, actorID); err == nil {
			resp.Name = u.Name
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func registerDevAuth(api huma.API, e *engine.Engine, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "invalid_input", "body required", nil)
		}
		actor := strings.TrimSpace(input.Body.ActorID)
		if actor == "" {
			return nil, newAPIError(http.StatusBadRequest, "invalid_input", "actor_id is required", nil)
		}
		if _, err := e.Repo.RoleOf(ctx, actor); err != nil {
			return nil, handleError(err)
		}
		token, err := signDevToken(authCfg.JWTSecret, actor)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}

func parseCompositeCursor(cursor string) (string, string, error) {
	if cursor == "" {
		return "", "", nil
	}
	parts := strings.SplitN(cursor, "|", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid cursor")
	}
	return parts[0], parts[1], nil
}

func composeCursor(ts, id string) string {
	if ts == "" || id == "" {
		return ""
	}
	return ts + "|" + id
}
