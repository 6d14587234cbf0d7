package server

import (
	"encoding/json"

	"keyturn/internal/domain"
)

type CreateTaskRequest struct {
	ID         *string `json:"id,omitempty"`
	PropertyID string  `json:"property_id"`
	Title      string  `json:"title"`
	Type       string  `json:"type" enum:"turnover,inspection,deep_clean"`
	DueAt      string  `json:"due_at" format:"date-time"`
}

type AssignTaskRequest struct {
	CleanerIDs []string `json:"cleaner_ids"`
}

type ReviewRequest struct {
	Decision string `json:"decision" enum:"approve,reject"`
}

type ReportIncidentRequest struct {
	ID            *string  `json:"id,omitempty"`
	Description   string   `json:"description"`
	Severity      string   `json:"severity" enum:"low,medium,high"`
	EstimatedCost *float64 `json:"estimated_cost,omitempty"`
	Photos        []string `json:"photos,omitempty"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type WhoAmIResponse struct {
	ActorID string `json:"actor_id"`
	Name    string `json:"name,omitempty"`
	Role    string `json:"role"`
}

type paginatedTasks struct {
	Items      []TaskResponse `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type TaskResponse struct {
	ID         string   `json:"id"`
	PropertyID string   `json:"property_id"`
	Title      string   `json:"title"`
	Type       string   `json:"type"`
	Status     string   `json:"status"`
	DueAt      string   `json:"due_at" format:"date-time"`
	Assignees  []string `json:"assignees"`
	CreatedAt  string   `json:"created_at" format:"date-time"`
	UpdatedAt  string   `json:"updated_at" format:"date-time"`
}

func taskResponse(t domain.Task) TaskResponse {
	return TaskResponse{
		ID:         t.ID,
		PropertyID: t.PropertyID,
		Title:      t.Title,
		Type:       t.Type,
		Status:     t.Status,
		DueAt:      t.DueAt,
		Assignees:  nonNilSlice(t.Assignees),
		CreatedAt:  t.CreatedAt,
		UpdatedAt:  t.UpdatedAt,
	}
}

func mapTasks(items []domain.Task) []TaskResponse {
	res := make([]TaskResponse, 0, len(items))
	for _, t := range items {
		res = append(res, taskResponse(t))
	}
	return res
}

type IncidentResponse struct {
	ID            string   `json:"id"`
	TaskID        string   `json:"task_id"`
	Description   string   `json:"description"`
	Severity      string   `json:"severity"`
	EstimatedCost *float64 `json:"estimated_cost,omitempty"`
	Photos        []string `json:"photos"`
	Status        string   `json:"status"`
	ReportedBy    string   `json:"reported_by"`
	CreatedAt     string   `json:"created_at" format:"date-time"`
	UpdatedAt     string   `json:"updated_at" format:"date-time"`
}

func incidentResponse(in domain.Incident) IncidentResponse {
	return IncidentResponse{
		ID:            in.ID,
		TaskID:        in.TaskID,
		Description:   in.Description,
		Severity:      in.Severity,
		EstimatedCost: in.EstimatedCost,
		Photos:        nonNilSlice(in.Photos),
		Status:        in.Status,
		ReportedBy:    in.ReportedBy,
		CreatedAt:     in.CreatedAt,
		UpdatedAt:     in.UpdatedAt,
	}
}

func mapIncidents(items []domain.Incident) []IncidentResponse {
	res := make([]IncidentResponse, 0, len(items))
	for _, in := range items {
		res = append(res, incidentResponse(in))
	}
	return res
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload,omitempty"`
}

func eventResponse(ev domain.Event) EventResponse {
	var payload map[string]any
	if ev.Payload != "" {
		_ = json.Unmarshal([]byte(ev.Payload), &payload)
	}
	return EventResponse{
		ID:         ev.ID,
		TS:         ev.TS,
		Type:       ev.Type,
		EntityKind: ev.EntityKind,
		EntityID:   ev.EntityID,
		ActorID:    ev.ActorID,
		Payload:    payload,
	}
}

type PropertyResponse struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Address    string `json:"address"`
	CoverImage string `json:"cover_image,omitempty"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

func propertyResponse(p domain.Property) PropertyResponse {
	return PropertyResponse{
		ID:         p.ID,
		Title:      p.Title,
		Address:    p.Address,
		CoverImage: p.CoverImage,
		CreatedAt:  p.CreatedAt,
	}
}

type userResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

type roomWithInventory struct {
	Room      domain.Room            `json:"room"`
	Inventory []domain.InventoryItem `json:"inventory"`
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
