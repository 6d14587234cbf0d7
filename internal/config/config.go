package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"keyturn/internal/domain"
)

// Config models keyturn.yml: the seed directory of users and properties plus
// server settings. Task and incident state live in the database, never here.
type Config struct {
	Workspace struct {
		ID string `yaml:"id"`
	} `yaml:"workspace"`
	Server struct {
		Addr      string `yaml:"addr"`
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"server"`
	Directory struct {
		Users      []SeedUser     `yaml:"users"`
		Properties []SeedProperty `yaml:"properties"`
	} `yaml:"directory"`
}

type SeedUser struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	Email string `yaml:"email"`
	Phone string `yaml:"phone"`
	Role  string `yaml:"role"`
}

type SeedProperty struct {
	ID         string     `yaml:"id"`
	Title      string     `yaml:"title"`
	Address    string     `yaml:"address"`
	CoverImage string     `yaml:"cover_image"`
	Rooms      []SeedRoom `yaml:"rooms"`
}

type SeedRoom struct {
	ID        string     `yaml:"id"`
	Type      string     `yaml:"type"`
	Name      string     `yaml:"name"`
	Inventory []SeedItem `yaml:"inventory"`
}

type SeedItem struct {
	ID            string   `yaml:"id"`
	Name          string   `yaml:"name"`
	ExpectedQty   int      `yaml:"expected_qty"`
	ExpectedState string   `yaml:"expected_state"`
	BasePhotos    []string `yaml:"base_photos"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; run kt init first", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Workspace.ID == "" {
		return fmt.Errorf("config.workspace.id is required")
	}
	userIDs := map[string]bool{}
	for _, u := range c.Directory.Users {
		if u.ID == "" {
			return fmt.Errorf("config.directory.users contains empty user id")
		}
		if userIDs[u.ID] {
			return fmt.Errorf("duplicate user id %s", u.ID)
		}
		userIDs[u.ID] = true
		if !domain.KnownRole(domain.Role(u.Role)) {
			return fmt.Errorf("user %s has unknown role %q", u.ID, u.Role)
		}
	}
	propIDs := map[string]bool{}
	for _, p := range c.Directory.Properties {
		if p.ID == "" {
			return fmt.Errorf("config.directory.properties contains empty property id")
		}
		if propIDs[p.ID] {
			return fmt.Errorf("duplicate property id %s", p.ID)
		}
		propIDs[p.ID] = true
		if p.Title == "" {
			return fmt.Errorf("property %s has empty title", p.ID)
		}
		roomIDs := map[string]bool{}
		for _, room := range p.Rooms {
			if room.ID == "" {
				return fmt.Errorf("property %s has room with empty id", p.ID)
			}
			if roomIDs[room.ID] {
				return fmt.Errorf("property %s has duplicate room id %s", p.ID, room.ID)
			}
			roomIDs[room.ID] = true
			for _, item := range room.Inventory {
				if item.ID == "" {
					return fmt.Errorf("room %s has inventory item with empty id", room.ID)
				}
			}
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "keyturn.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(workspaceID string) string {
	return fmt.Sprintf(defaultTemplate, workspaceID)
}

// Default returns the default Config struct for a workspace.
func Default(workspaceID string) *Config {
	cfg, err := FromYAML([]byte(GenerateDefault(workspaceID)))
	if err != nil {
		panic(err)
	}
	return cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `workspace:
  id: %s

server:
  addr: :8080
  jwt_secret: ""

directory:
  users:
    - id: user-1
      name: John Tenant
      email: john@example.com
      phone: "+1234567890"
      role: tenant
    - id: user-2
      name: Sarah Owner
      email: sarah@example.com
      phone: "+1234567891"
      role: owner
    - id: user-3
      name: Mike Mediator
      email: mike@example.com
      phone: "+1234567892"
      role: mediator
    - id: user-4
      name: Lisa Cleaner
      email: lisa@example.com
      phone: "+1234567893"
      role: cleaner

  properties:
    - id: prop-1
      title: Apt 402 Downtown
      address: 123 Main St, Apt 402
      rooms:
        - id: room-1
          type: living
          name: Living Room
          inventory:
            - id: item-1
              name: Sofa
              expected_qty: 1
              expected_state: ok
            - id: item-2
              name: Coffee Table
              expected_qty: 1
              expected_state: ok
        - id: room-2
          type: bedroom
          name: Bedroom
          inventory:
            - id: item-3
              name: Bed
              expected_qty: 1
              expected_state: ok
            - id: item-4
              name: Nightstand
              expected_qty: 2
              expected_state: ok
        - id: room-3
          type: kitchen
          name: Kitchen
          inventory:
            - id: item-5
              name: Dining Chairs
              expected_qty: 4
              expected_state: ok
        - id: room-4
          type: bathroom
          name: Bathroom
    - id: prop-2
      title: House 12 Suburb
      address: 12 Oak Lane
      rooms:
        - id: room-5
          type: living
          name: Living Room
        - id: room-6
          type: bedroom
          name: Master Bedroom
`
