package perm_test

import (
	"errors"
	"testing"

	"keyturn/internal/domain"
	"keyturn/internal/engine/perm"
)

var allRoles = []domain.Role{domain.RoleTenant, domain.RoleOwner, domain.RoleMediator, domain.RoleCleaner}

func TestCapabilityMatrix(t *testing.T) {
	allowed := map[perm.Action]map[domain.Role]bool{
		perm.TaskCreate:      {domain.RoleOwner: true, domain.RoleMediator: true},
		perm.TaskAssign:      {domain.RoleMediator: true},
		perm.TaskStart:       {domain.RoleCleaner: true},
		perm.TaskSubmit:      {domain.RoleCleaner: true},
		perm.TaskReview:      {domain.RoleOwner: true, domain.RoleMediator: true},
		perm.IncidentReport:  {domain.RoleCleaner: true, domain.RoleMediator: true},
		perm.IncidentResolve: {domain.RoleOwner: true, domain.RoleMediator: true},
		perm.IncidentRepair:  {domain.RoleOwner: true, domain.RoleMediator: true},
	}
	reads := map[perm.Action]bool{
		perm.TaskRead:     true,
		perm.IncidentRead: true,
		perm.CatalogRead:  true,
		perm.LogRead:      true,
	}
	for _, action := range perm.All {
		for _, role := range allRoles {
			want := reads[action] || allowed[action][role]
			if got := perm.CanPerform(role, action); got != want {
				t.Errorf("CanPerform(%s, %s) = %v, want %v", role, action, got, want)
			}
		}
	}
}

func TestRequireReturnsDeniedError(t *testing.T) {
	err := perm.Require(domain.RoleTenant, perm.TaskCreate)
	if err == nil {
		t.Fatal("expected error")
	}
	var de perm.DeniedError
	if !errors.As(err, &de) {
		t.Fatalf("expected DeniedError, got %T", err)
	}
	if de.Role != domain.RoleTenant || de.Action != perm.TaskCreate {
		t.Fatalf("unexpected fields: %+v", de)
	}
	if err := perm.Require(domain.RoleMediator, perm.TaskAssign); err != nil {
		t.Fatalf("mediator assign: %v", err)
	}
}

func TestUnknownRoleDenied(t *testing.T) {
	if perm.CanPerform(domain.Role("janitor"), perm.TaskCreate) {
		t.Fatal("unknown role must be denied")
	}
	if perm.CanPerform(domain.Role("janitor"), perm.TaskRead) {
		t.Fatal("unknown role must be denied reads too")
	}
}
