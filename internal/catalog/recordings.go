package catalog

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/arung-agamani/denpa-relay/internal/apperr"
	"github.com/arung-agamani/denpa-relay/internal/model"
)

var tokenSplitter = regexp.MustCompile(`[^\p{L}\p{N}]+`)

// tokenize lowercases s and splits it on whitespace and punctuation,
// dropping empty tokens, matching spec.md §4.B's "tokenization on
// whitespace and punctuation."
func tokenize(s string) []string {
	fields := tokenSplitter.Split(strings.ToLower(s), -1)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// RecordingFilter narrows ListRecordings; zero-valued fields are not
// applied.
type RecordingFilter struct {
	ShowName string
	Search   string
	Genre    string
	DateFrom time.Time
	DateTo   time.Time
	Page     int
	PageSize int
}

// CreateRecording inserts a recording row and its search tokens inside one
// transaction.
func (s *Store) CreateRecording(ctx context.Context, r model.Recording) (model.Recording, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var showID any
		if r.ShowID != "" {
			showID = r.ShowID
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO recordings (id, show_id, session_id, created_at, title, artist, genre, description, file_path, duration_seconds)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, showID, r.SessionID, r.CreatedAt.Format(time.RFC3339Nano),
			r.Title, r.Artist, r.Genre, r.Description, r.FilePath, r.DurationSeconds,
		)
		if err != nil {
			return err
		}
		return indexRecordingTokens(ctx, tx, r)
	})
	if err != nil {
		return model.Recording{}, err
	}
	return r, nil
}

func indexRecordingTokens(ctx context.Context, tx *sql.Tx, r model.Recording) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM recordings_search_tokens WHERE recording_id = ?`, r.ID); err != nil {
		return err
	}
	seen := map[string]bool{}
	for _, field := range []string{r.Title, r.Artist, r.Genre, r.Description} {
		for _, tok := range tokenize(field) {
			if seen[tok] {
				continue
			}
			seen[tok] = true
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO recordings_search_tokens (recording_id, token) VALUES (?, ?)`, r.ID, tok,
			); err != nil {
				return err
			}
		}
	}
	return nil
}

// DeleteRecording removes a recording row, its search tokens (via cascade),
// and returns its file path so the caller can unlink the underlying file.
func (s *Store) DeleteRecording(ctx context.Context, id string) (string, error) {
	var filePath string
	err := s.db.QueryRowContext(ctx, `SELECT file_path FROM recordings WHERE id = ?`, id).Scan(&filePath)
	if errors.Is(err, sql.ErrNoRows) {
		return "", apperr.New(apperr.KindNotFound, "recording not found")
	}
	if err != nil {
		return "", err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM recordings WHERE id = ?`, id); err != nil {
		return "", err
	}
	return filePath, nil
}

// GetRecording returns a single recording by ID.
func (s *Store) GetRecording(ctx context.Context, id string) (model.Recording, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, COALESCE(show_id, ''), session_id, created_at, title, artist, genre, description, file_path, duration_seconds
		 FROM recordings WHERE id = ?`, id)
	r, err := scanRecording(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Recording{}, apperr.New(apperr.KindNotFound, "recording not found")
	}
	return r, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecording(row rowScanner) (model.Recording, error) {
	var r model.Recording
	var createdAt string
	err := row.Scan(&r.ID, &r.ShowID, &r.SessionID, &createdAt, &r.Title, &r.Artist, &r.Genre, &r.Description, &r.FilePath, &r.DurationSeconds)
	if err != nil {
		return model.Recording{}, err
	}
	r.CreatedAt = parseTime(createdAt)
	return r, nil
}

// ListRecordings returns a page of recordings matching filter, ordered by
// created_at descending (most recent first), plus the total match count for
// pagination.
func (s *Store) ListRecordings(ctx context.Context, f RecordingFilter) ([]model.Recording, int, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 || f.PageSize > 100 {
		f.PageSize = 20
	}

	var where []string
	var args []any

	if f.ShowName != "" {
		where = append(where, `show_id = (SELECT show_id FROM shows WHERE show_name = ?)`)
		args = append(args, f.ShowName)
	}
	if f.Genre != "" {
		where = append(where, `genre = ?`)
		args = append(args, f.Genre)
	}
	if !f.DateFrom.IsZero() {
		where = append(where, `created_at >= ?`)
		args = append(args, f.DateFrom.Format(time.RFC3339Nano))
	}
	if !f.DateTo.IsZero() {
		where = append(where, `created_at <= ?`)
		args = append(args, f.DateTo.Format(time.RFC3339Nano))
	}

	var searchJoin string
	var searchArgs []any
	if f.Search != "" {
		tokens := tokenize(f.Search)
		if len(tokens) > 0 {
			placeholders := strings.Repeat("?,", len(tokens))
			placeholders = placeholders[:len(placeholders)-1]
			searchJoin = `JOIN (
				SELECT recording_id, COUNT(DISTINCT token) AS match_count
				FROM recordings_search_tokens
				WHERE token IN (` + placeholders + `)
				GROUP BY recording_id
			) matches ON matches.recording_id = recordings.id`
			for _, t := range tokens {
				searchArgs = append(searchArgs, t)
			}
		}
	}
	// The search join precedes the WHERE clause in the SQL text, so its
	// placeholders bind first.
	args = append(searchArgs, args...)

	whereClause := ""
	if len(where) > 0 {
		whereClause = "WHERE " + strings.Join(where, " AND ")
	}

	countQuery := `SELECT COUNT(*) FROM recordings ` + searchJoin + ` ` + whereClause
	var total int
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	selectQuery := `SELECT recordings.id, COALESCE(recordings.show_id, ''), recordings.session_id, recordings.created_at,
		recordings.title, recordings.artist, recordings.genre, recordings.description, recordings.file_path, recordings.duration_seconds
		FROM recordings ` + searchJoin + ` ` + whereClause + `
		ORDER BY recordings.created_at DESC
		LIMIT ? OFFSET ?`
	pagedArgs := append(append([]any{}, args...), f.PageSize, (f.Page-1)*f.PageSize)

	rows, err := s.db.QueryContext(ctx, selectQuery, pagedArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = rows.Close() }()

	var out []model.Recording
	for rows.Next() {
		r, err := scanRecording(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, r)
	}
	return out, total, rows.Err()
}
