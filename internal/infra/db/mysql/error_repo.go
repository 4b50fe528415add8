package mysql

import (
	"context"
	"database/sql"
	"strings"
	"time"

	domain "github.com/putuastawa/visioncap/internal/domain/analyses"
)

type ErrorRepository struct {
	db *sql.DB
}

func NewErrorRepository(db *sql.DB) *ErrorRepository { return &ErrorRepository{db: db} }

func (r *ErrorRepository) Save(ctx context.Context, e *domain.ProcessingError) error {
	const q = `
INSERT INTO processing_errors (job_id, phase, message, created_at)
VALUES (?,?,?,?);
`
	msg := e.Message
	if strings.TrimSpace(msg) == "" {
		msg = "-"
	}
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := r.db.ExecContext(ctx, q, e.JobID, e.Phase, msg, created)
	return err
}

func (r *ErrorRepository) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM processing_errors;`).Scan(&n)
	return n, err
}
