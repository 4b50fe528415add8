package postgres

import (
	"context"
	"database/sql"

	domain "github.com/putuastawa/visioncap/internal/domain/analyses"
)

// ObjectRepository reads detected objects. Nothing writes this table yet.
type ObjectRepository struct {
	db *sql.DB
}

func NewObjectRepository(db *sql.DB) *ObjectRepository {
	return &ObjectRepository{db: db}
}

func (r *ObjectRepository) ListByAnalysis(ctx context.Context, id domain.AnalysisID) ([]*domain.DetectedObject, error) {
	const q = `
SELECT id, analysis_id, label, confidence, x_min, y_min, x_max, y_max
FROM detected_objects
WHERE analysis_id=$1 ORDER BY confidence DESC;`
	rows, err := r.db.QueryContext(ctx, q, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.DetectedObject
	for rows.Next() {
		var o domain.DetectedObject
		var aid sql.NullString
		if err := rows.Scan(&o.ID, &aid, &o.Label, &o.Confidence,
			&o.Min.X, &o.Min.Y, &o.Max.X, &o.Max.Y); err != nil {
			return nil, err
		}
		if aid.Valid {
			v := domain.AnalysisID(aid.String)
			o.AnalysisID = &v
		}
		out = append(out, &o)
	}
	return out, rows.Err()
}
