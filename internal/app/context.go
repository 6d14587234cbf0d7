package app

import (
	"context"
	"fmt"
	"time"

	"keyturn/internal/config"
	"keyturn/internal/domain"
	"keyturn/internal/repo"
)

// ResolveConfig loads keyturn.yml from the workspace, falling back to the
// built-in default directory, and syncs the directory into the database.
// Seeding is idempotent: users and properties are upserted by id, so
// repeated startups converge on the config.
func ResolveConfig(ctx context.Context, workspace string, r repo.Repo) (*config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default("keyturn")
	}
	if err := SeedDirectory(ctx, r, cfg); err != nil {
		return nil, fmt.Errorf("seed directory: %w", err)
	}
	return cfg, nil
}

// SeedDirectory upserts the config's users, properties, rooms and inventory
// in one transaction.
func SeedDirectory(ctx context.Context, r repo.Repo, cfg *config.Config) error {
	now := time.Now().UTC().Format(time.RFC3339)
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, u := range cfg.Directory.Users {
		if err := r.UpsertUserTx(ctx, tx, domain.User{
			ID:        u.ID,
			Name:      u.Name,
			Email:     u.Email,
			Phone:     u.Phone,
			Role:      domain.Role(u.Role),
			CreatedAt: now,
		}); err != nil {
			return fmt.Errorf("upsert user %s: %w", u.ID, err)
		}
	}
	for _, p := range cfg.Directory.Properties {
		if err := r.UpsertPropertyTx(ctx, tx, domain.Property{
			ID:         p.ID,
			Title:      p.Title,
			Address:    p.Address,
			CoverImage: p.CoverImage,
			CreatedAt:  now,
		}); err != nil {
			return fmt.Errorf("upsert property %s: %w", p.ID, err)
		}
		for _, room := range p.Rooms {
			if err := r.UpsertRoomTx(ctx, tx, domain.Room{
				ID:         room.ID,
				PropertyID: p.ID,
				Type:       room.Type,
				Name:       room.Name,
			}); err != nil {
				return fmt.Errorf("upsert room %s: %w", room.ID, err)
			}
			for _, item := range room.Inventory {
				if err := r.UpsertInventoryItemTx(ctx, tx, domain.InventoryItem{
					ID:            item.ID,
					RoomID:        room.ID,
					Name:          item.Name,
					ExpectedQty:   item.ExpectedQty,
					ExpectedState: item.ExpectedState,
					BasePhotos:    item.BasePhotos,
				}); err != nil {
					return fmt.Errorf("upsert inventory item %s: %w", item.ID, err)
				}
			}
		}
	}
	return tx.Commit()
}
