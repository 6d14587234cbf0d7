package repo

import (
	"context"
	"database/sql"

	"keyturn/internal/domain"
)

// The directory holds the identity and property catalogs the engine treats
// as external collaborators: RoleOf lookups and property existence checks.

func (r Repo) UpsertUserTx(ctx context.Context, tx *sql.Tx, u domain.User) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO users(id,name,email,phone,role,created_at) VALUES (?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, email=excluded.email, phone=excluded.phone, role=excluded.role`,
		u.ID, u.Name, u.Email, nullable(u.Phone), string(u.Role), u.CreatedAt)
	return err
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	var u domain.User
	var phone sql.NullString
	var role string
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,email,phone,role,created_at FROM users WHERE id=?`, id).
		Scan(&u.ID, &u.Name, &u.Email, &phone, &role, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	if err != nil {
		return u, err
	}
	if phone.Valid {
		u.Phone = phone.String
	}
	u.Role = domain.Role(role)
	return u, nil
}

// RoleOf resolves a user id to its directory role.
func (r Repo) RoleOf(ctx context.Context, userID string) (domain.Role, error) {
	var role string
	err := r.DB.QueryRowContext(ctx, `SELECT role FROM users WHERE id=?`, userID).Scan(&role)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return domain.Role(role), nil
}

func (r Repo) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,email,phone,role,created_at FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		var u domain.User
		var phone sql.NullString
		var role string
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &phone, &role, &u.CreatedAt); err != nil {
			return nil, err
		}
		if phone.Valid {
			u.Phone = phone.String
		}
		u.Role = domain.Role(role)
		res = append(res, u)
	}
	return res, rows.Err()
}

func (r Repo) UpsertPropertyTx(ctx context.Context, tx *sql.Tx, p domain.Property) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO properties(id,title,address,cover_image,created_at) VALUES (?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET title=excluded.title, address=excluded.address, cover_image=excluded.cover_image`,
		p.ID, p.Title, p.Address, nullable(p.CoverImage), p.CreatedAt)
	return err
}

func (r Repo) GetProperty(ctx context.Context, id string) (domain.Property, error) {
	var p domain.Property
	var cover sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,title,address,cover_image,created_at FROM properties WHERE id=?`, id).
		Scan(&p.ID, &p.Title, &p.Address, &cover, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if cover.Valid {
		p.CoverImage = cover.String
	}
	return p, nil
}

func (r Repo) ListProperties(ctx context.Context) ([]domain.Property, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,title,address,cover_image,created_at FROM properties ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Property
	for rows.Next() {
		var p domain.Property
		var cover sql.NullString
		if err := rows.Scan(&p.ID, &p.Title, &p.Address, &cover, &p.CreatedAt); err != nil {
			return nil, err
		}
		if cover.Valid {
			p.CoverImage = cover.String
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) UpsertRoomTx(ctx context.Context, tx *sql.Tx, room domain.Room) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO rooms(id,property_id,type,name) VALUES (?,?,?,?)
ON CONFLICT(id) DO UPDATE SET property_id=excluded.property_id, type=excluded.type, name=excluded.name`,
		room.ID, room.PropertyID, room.Type, room.Name)
	return err
}

func (r Repo) ListRooms(ctx context.Context, propertyID string) ([]domain.Room, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,property_id,type,name FROM rooms WHERE property_id=? ORDER BY id`, propertyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Room
	for rows.Next() {
		var room domain.Room
		if err := rows.Scan(&room.ID, &room.PropertyID, &room.Type, &room.Name); err != nil {
			return nil, err
		}
		res = append(res, room)
	}
	return res, rows.Err()
}

func (r Repo) UpsertInventoryItemTx(ctx context.Context, tx *sql.Tx, item domain.InventoryItem) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO inventory_items(id,room_id,name,expected_qty,expected_state,base_photos_json) VALUES (?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET room_id=excluded.room_id, name=excluded.name, expected_qty=excluded.expected_qty, expected_state=excluded.expected_state, base_photos_json=excluded.base_photos_json`,
		item.ID, item.RoomID, item.Name, item.ExpectedQty, item.ExpectedState, marshalStrings(item.BasePhotos))
	return err
}

func (r Repo) ListInventory(ctx context.Context, roomID string) ([]domain.InventoryItem, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,room_id,name,expected_qty,expected_state,base_photos_json FROM inventory_items WHERE room_id=? ORDER BY id`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.InventoryItem
	for rows.Next() {
		var item domain.InventoryItem
		var photos sql.NullString
		if err := rows.Scan(&item.ID, &item.RoomID, &item.Name, &item.ExpectedQty, &item.ExpectedState, &photos); err != nil {
			return nil, err
		}
		item.BasePhotos = unmarshalStrings(photos)
		res = append(res, item)
	}
	return res, rows.Err()
}
