package domain

// Role of an actor as known to the identity directory. The engine never
// stores or infers roles; callers supply them per operation.
type Role string

const (
	RoleTenant   Role = "tenant"
	RoleOwner    Role = "owner"
	RoleMediator Role = "mediator"
	RoleCleaner  Role = "cleaner"
)

// KnownRole reports whether r is one of the four directory roles.
func KnownRole(r Role) bool {
	switch r {
	case RoleTenant, RoleOwner, RoleMediator, RoleCleaner:
		return true
	}
	return false
}

type User struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Phone     string `json:"phone,omitempty"`
	Role      Role   `json:"role" enum:"tenant,owner,mediator,cleaner"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Property struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Address    string `json:"address"`
	CoverImage string `json:"cover_image,omitempty"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

type Room struct {
	ID         string `json:"id"`
	PropertyID string `json:"property_id"`
	Type       string `json:"type" enum:"bedroom,bathroom,kitchen,living,other"`
	Name       string `json:"name"`
}

type InventoryItem struct {
	ID            string   `json:"id"`
	RoomID        string   `json:"room_id"`
	Name          string   `json:"name"`
	ExpectedQty   int      `json:"expected_qty"`
	ExpectedState string   `json:"expected_state" enum:"ok,worn,damaged"`
	BasePhotos    []string `json:"base_photos,omitempty"`
}

// Task statuses. pending has no assignees; every other status requires at
// least one. rejected may be re-opened into assigned; approved is terminal.
const (
	TaskPending    = "pending"
	TaskAssigned   = "assigned"
	TaskInProgress = "in_progress"
	TaskSubmitted  = "submitted"
	TaskApproved   = "approved"
	TaskRejected   = "rejected"
)

const (
	TaskTurnover   = "turnover"
	TaskInspection = "inspection"
	TaskDeepClean  = "deep_clean"
)

// KnownTaskType reports whether t is a recognized task type.
func KnownTaskType(t string) bool {
	switch t {
	case TaskTurnover, TaskInspection, TaskDeepClean:
		return true
	}
	return false
}

type Task struct {
	ID         string   `json:"id"`
	PropertyID string   `json:"property_id"`
	Title      string   `json:"title"`
	Type       string   `json:"type" enum:"turnover,inspection,deep_clean"`
	Status     string   `json:"status" enum:"pending,assigned,in_progress,submitted,approved,rejected"`
	DueAt      string   `json:"due_at" format:"date-time"`
	Assignees  []string `json:"assignees"`
	CreatedAt  string   `json:"created_at" format:"date-time"`
	UpdatedAt  string   `json:"updated_at" format:"date-time"`
}

// HasAssignee reports membership in the task's assignee set.
func (t Task) HasAssignee(userID string) bool {
	for _, id := range t.Assignees {
		if id == userID {
			return true
		}
	}
	return false
}

// Incident statuses. repaired and rejected are terminal; approved may be
// followed by a repair confirmation.
const (
	IncidentOpen     = "open"
	IncidentApproved = "approved"
	IncidentRepaired = "repaired"
	IncidentRejected = "rejected"
)

const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// KnownSeverity reports whether s is a recognized severity level.
func KnownSeverity(s string) bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh:
		return true
	}
	return false
}

type Incident struct {
	ID            string   `json:"id"`
	TaskID        string   `json:"task_id"`
	Description   string   `json:"description"`
	Severity      string   `json:"severity" enum:"low,medium,high"`
	EstimatedCost *float64 `json:"estimated_cost,omitempty"`
	Photos        []string `json:"photos,omitempty"`
	Status        string   `json:"status" enum:"open,approved,repaired,rejected"`
	ReportedBy    string   `json:"reported_by"`
	CreatedAt     string   `json:"created_at" format:"date-time"`
	UpdatedAt     string   `json:"updated_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
