package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	domain "github.com/putuastawa/visioncap/internal/domain/analyses"
)

type AnalysisRepository struct {
	db *sql.DB
}

func NewAnalysisRepository(db *sql.DB) *AnalysisRepository {
	return &AnalysisRepository{db: db}
}

// Save insert/update Analysis record
func (r *AnalysisRepository) Save(ctx context.Context, a *domain.Analysis) error {
	const q = `
INSERT INTO image_analyses
(id, image_key, image_url, upload_date, short_caption, normal_caption,
 query_text, query_result, user_id)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (id) DO UPDATE SET
 short_caption = EXCLUDED.short_caption,
 normal_caption = EXCLUDED.normal_caption,
 query_text = EXCLUDED.query_text,
 query_result = EXCLUDED.query_result;`
	uploaded := a.UploadDate
	if uploaded.IsZero() {
		uploaded = time.Now()
	}
	_, err := r.db.ExecContext(ctx, q,
		a.ID, a.ImageKey, a.ImageURL, uploaded, a.ShortCaption, a.NormalCaption,
		nullStr(a.QueryText), nullStr(a.QueryResult), nullInt(a.UserID),
	)
	return err
}

func (r *AnalysisRepository) Get(ctx context.Context, id domain.AnalysisID) (*domain.Analysis, error) {
	const q = `
SELECT id, image_key, image_url, upload_date, short_caption, normal_caption,
       query_text, query_result, user_id
FROM image_analyses
WHERE id=$1 LIMIT 1;`
	return scanAnalysis(r.db.QueryRowContext(ctx, q, id))
}

func (r *AnalysisRepository) ListByUser(ctx context.Context, userID int64, page, pageSize int) ([]*domain.Analysis, error) {
	limit, offset := pageBounds(page, pageSize)
	const q = `
SELECT id, image_key, image_url, upload_date, short_caption, normal_caption,
       query_text, query_result, user_id
FROM image_analyses
WHERE user_id=$1 ORDER BY upload_date DESC, id DESC LIMIT $2 OFFSET $3;`
	return r.list(ctx, q, userID, limit, offset)
}

func (r *AnalysisRepository) Recent(ctx context.Context, userID int64, limit int) ([]*domain.Analysis, error) {
	if limit <= 0 {
		limit = 10
	}
	const q = `
SELECT id, image_key, image_url, upload_date, short_caption, normal_caption,
       query_text, query_result, user_id
FROM image_analyses
WHERE user_id=$1 ORDER BY upload_date DESC, id DESC LIMIT $2;`
	return r.list(ctx, q, userID, limit)
}

func (r *AnalysisRepository) Delete(ctx context.Context, userID int64, id domain.AnalysisID) error {
	const q = `DELETE FROM image_analyses WHERE id=$1 AND user_id=$2;`
	res, err := r.db.ExecContext(ctx, q, id, userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *AnalysisRepository) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM image_analyses;`).Scan(&n)
	return n, err
}

func (r *AnalysisRepository) CountSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM image_analyses WHERE upload_date >= $1;`, since).Scan(&n)
	return n, err
}

func (r *AnalysisRepository) list(ctx context.Context, q string, args ...any) ([]*domain.Analysis, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Analysis
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAnalysis(row rowScanner) (*domain.Analysis, error) {
	var a domain.Analysis
	var qt, qr sql.NullString
	var uid sql.NullInt64
	if err := row.Scan(
		&a.ID, &a.ImageKey, &a.ImageURL, &a.UploadDate, &a.ShortCaption, &a.NormalCaption,
		&qt, &qr, &uid,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	a.QueryText = strPtr(qt)
	a.QueryResult = strPtr(qr)
	a.UserID = intPtr(uid)
	return &a, nil
}
