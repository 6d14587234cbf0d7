package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"keyturn/internal/config"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := config.Default("keyturn")
	if cfg.Workspace.ID != "keyturn" {
		t.Fatalf("workspace id: %q", cfg.Workspace.ID)
	}
	if len(cfg.Directory.Users) != 4 {
		t.Fatalf("expected 4 seed users, got %d", len(cfg.Directory.Users))
	}
	if len(cfg.Directory.Properties) != 2 {
		t.Fatalf("expected 2 seed properties, got %d", len(cfg.Directory.Properties))
	}
	roles := map[string]bool{}
	for _, u := range cfg.Directory.Users {
		roles[u.Role] = true
	}
	for _, want := range []string{"tenant", "owner", "mediator", "cleaner"} {
		if !roles[want] {
			t.Errorf("default directory missing a %s", want)
		}
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{
			"missing workspace id",
			"directory:\n  users: []\n",
			"workspace.id",
		},
		{
			"unknown role",
			"workspace:\n  id: w\ndirectory:\n  users:\n    - id: u1\n      name: A\n      email: a@example.com\n      role: janitor\n",
			"unknown role",
		},
		{
			"duplicate user id",
			"workspace:\n  id: w\ndirectory:\n  users:\n    - id: u1\n      name: A\n      email: a@example.com\n      role: owner\n    - id: u1\n      name: B\n      email: b@example.com\n      role: cleaner\n",
			"duplicate user id",
		},
		{
			"property without title",
			"workspace:\n  id: w\ndirectory:\n  properties:\n    - id: p1\n      address: somewhere\n",
			"empty title",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := config.FromYAML([]byte(tc.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.LoadOptional(dir)
	if err != nil || cfg != nil {
		t.Fatalf("missing file should be nil,nil; got %v, %v", cfg, err)
	}

	if err := os.WriteFile(filepath.Join(dir, "keyturn.yml"), []byte(config.GenerateDefault("my-ws")), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = config.LoadOptional(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Workspace.ID != "my-ws" {
		t.Fatalf("workspace id: %q", cfg.Workspace.ID)
	}

	if _, err := config.Load(t.TempDir()); err == nil || !strings.Contains(err.Error(), "kt init") {
		t.Fatalf("load without file should point at kt init, got %v", err)
	}
}
