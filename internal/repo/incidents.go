package repo

import (
	"context"
	"database/sql"

	"keyturn/internal/domain"
)

const incidentColumns = `id,task_id,description,severity,estimated_cost,photos_json,status,reported_by,created_at,updated_at`

func scanIncident(row rowScanner) (domain.Incident, error) {
	var in domain.Incident
	var cost sql.NullFloat64
	var photos sql.NullString
	err := row.Scan(&in.ID, &in.TaskID, &in.Description, &in.Severity, &cost, &photos, &in.Status, &in.ReportedBy, &in.CreatedAt, &in.UpdatedAt)
	if err == sql.ErrNoRows {
		return in, ErrNotFound
	}
	if err != nil {
		return in, err
	}
	if cost.Valid {
		c := cost.Float64
		in.EstimatedCost = &c
	}
	in.Photos = unmarshalStrings(photos)
	return in, nil
}

func (r Repo) InsertIncidentTx(ctx context.Context, tx *sql.Tx, in domain.Incident) error {
	var cost any
	if in.EstimatedCost != nil {
		cost = *in.EstimatedCost
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO incidents(`+incidentColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		in.ID, in.TaskID, in.Description, in.Severity, cost, marshalStrings(in.Photos), in.Status, in.ReportedBy, in.CreatedAt, in.UpdatedAt)
	return err
}

func (r Repo) GetIncident(ctx context.Context, id string) (domain.Incident, error) {
	return scanIncident(r.DB.QueryRowContext(ctx, `SELECT `+incidentColumns+` FROM incidents WHERE id=?`, id))
}

func (r Repo) GetIncidentTx(ctx context.Context, tx *sql.Tx, id string) (domain.Incident, error) {
	return scanIncident(tx.QueryRowContext(ctx, `SELECT `+incidentColumns+` FROM incidents WHERE id=?`, id))
}

// SetIncidentStatusTx is the incident counterpart of SetTaskStatusTx; it
// fails with ErrStale unless the row still holds the expected status.
func (r Repo) SetIncidentStatusTx(ctx context.Context, tx *sql.Tx, id, expected, next, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE incidents SET status=?, updated_at=? WHERE id=? AND status=?`,
		next, updatedAt, id, expected)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStale
	}
	return nil
}

// ListIncidentsForTask returns all incidents owned by a task, oldest first.
func (r Repo) ListIncidentsForTask(ctx context.Context, taskID string) ([]domain.Incident, error) {
	return r.listIncidents(ctx, `SELECT `+incidentColumns+` FROM incidents WHERE task_id=? ORDER BY created_at ASC, id ASC`, taskID)
}

// ListOpenIncidents returns every incident still awaiting resolution.
func (r Repo) ListOpenIncidents(ctx context.Context) ([]domain.Incident, error) {
	return r.listIncidents(ctx, `SELECT `+incidentColumns+` FROM incidents WHERE status=? ORDER BY created_at ASC, id ASC`, domain.IncidentOpen)
}

func (r Repo) listIncidents(ctx context.Context, query string, args ...any) ([]domain.Incident, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Incident
	for rows.Next() {
		in, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, in)
	}
	return res, rows.Err()
}

func (r Repo) CountOpenIncidentsForTask(ctx context.Context, taskID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM incidents WHERE task_id=? AND status=?`, taskID, domain.IncidentOpen).Scan(&n)
	return n, err
}
