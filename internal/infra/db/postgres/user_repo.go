package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/lib/pq"

	domain "github.com/putuastawa/visioncap/internal/domain/accounts"
)

type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository { return &UserRepository{db: db} }

func (r *UserRepository) Create(ctx context.Context, u *domain.User) error {
	const q = `
INSERT INTO users (username, email, password_hash, created_at)
VALUES ($1,$2,$3,$4) RETURNING id;`
	created := u.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	err := r.db.QueryRowContext(ctx, q, u.Username, u.Email, u.PasswordHash, created).Scan(&u.ID)
	if err != nil {
		var pqe *pq.Error
		if errors.As(err, &pqe) && pqe.Code == "23505" {
			return domain.ErrUsernameTaken
		}
		return err
	}
	u.CreatedAt = created
	return nil
}

func (r *UserRepository) ByID(ctx context.Context, id int64) (*domain.User, error) {
	const q = `SELECT id, username, email, password_hash, created_at FROM users WHERE id=$1 LIMIT 1;`
	return scanUser(r.db.QueryRowContext(ctx, q, id))
}

func (r *UserRepository) ByUsername(ctx context.Context, username string) (*domain.User, error) {
	const q = `SELECT id, username, email, password_hash, created_at FROM users WHERE username=$1 LIMIT 1;`
	return scanUser(r.db.QueryRowContext(ctx, q, strings.TrimSpace(username)))
}

func (r *UserRepository) SaveProfile(ctx context.Context, p *domain.Profile) error {
	const q = `
INSERT INTO user_profiles (user_id, bio, picture_url, date_joined)
VALUES ($1,$2,$3,$4)
ON CONFLICT (user_id) DO UPDATE SET
 bio = EXCLUDED.bio,
 picture_url = EXCLUDED.picture_url;`
	joined := p.DateJoined
	if joined.IsZero() {
		joined = time.Now()
	}
	_, err := r.db.ExecContext(ctx, q, p.UserID, p.Bio, p.PictureURL, joined)
	return err
}

func (r *UserRepository) ProfileByUser(ctx context.Context, userID int64) (*domain.Profile, error) {
	const q = `SELECT user_id, bio, picture_url, date_joined FROM user_profiles WHERE user_id=$1 LIMIT 1;`
	var p domain.Profile
	err := r.db.QueryRowContext(ctx, q, userID).Scan(&p.UserID, &p.Bio, &p.PictureURL, &p.DateJoined)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func scanUser(row rowScanner) (*domain.User, error) {
	var u domain.User
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}
