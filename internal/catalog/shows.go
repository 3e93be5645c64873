package catalog

import (
	"context"
	"database/sql"
	"errors"

	"time"

	"github.com/google/uuid"

	"github.com/arung-agamani/denpa-relay/internal/apperr"
	"github.com/arung-agamani/denpa-relay/internal/model"
)

// CreateShow inserts a new show, generating its ID. Violates the
// shows.show_name unique constraint with a conflict error if name is
// already taken.
func (s *Store) CreateShow(ctx context.Context, name string) (model.Show, error) {
	show := model.Show{
		ShowID:    uuid.NewString(),
		ShowName:  name,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO shows (show_id, show_name, created_at) VALUES (?, ?, ?)`,
		show.ShowID, show.ShowName, show.CreatedAt.Format(time.RFC3339Nano),
	)
	if isUniqueConstraintErr(err) {
		return model.Show{}, apperr.New(apperr.KindConflict, "a show with this name already exists")
	}
	if err != nil {
		return model.Show{}, err
	}
	return show, nil
}

// GetShowByName returns the show with the given name, or a not_found error.
func (s *Store) GetShowByName(ctx context.Context, name string) (model.Show, error) {
	var show model.Show
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT show_id, show_name, created_at FROM shows WHERE show_name = ?`, name,
	).Scan(&show.ShowID, &show.ShowName, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Show{}, apperr.New(apperr.KindNotFound, "show not found")
	}
	if err != nil {
		return model.Show{}, err
	}
	show.CreatedAt = parseTime(createdAt)
	return show, nil
}

// ListShows returns every show ordered by name.
func (s *Store) ListShows(ctx context.Context) ([]model.Show, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT show_id, show_name, created_at FROM shows ORDER BY show_name`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []model.Show
	for rows.Next() {
		var show model.Show
		var createdAt string
		if err := rows.Scan(&show.ShowID, &show.ShowName, &createdAt); err != nil {
			return nil, err
		}
		show.CreatedAt = parseTime(createdAt)
		out = append(out, show)
	}
	return out, rows.Err()
}
