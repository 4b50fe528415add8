package mysql

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	domain "github.com/putuastawa/visioncap/internal/domain/accounts"
)

type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository { return &UserRepository{db: db} }

func (r *UserRepository) Create(ctx context.Context, u *domain.User) error {
	const q = `
INSERT INTO users (username, email, password_hash, created_at)
VALUES (?,?,?,?);
`
	created := u.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	res, err := r.db.ExecContext(ctx, q, u.Username, u.Email, u.PasswordHash, created)
	if err != nil {
		var me *mysql.MySQLError
		if errors.As(err, &me) && me.Number == 1062 {
			return domain.ErrUsernameTaken
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	u.ID = id
	u.CreatedAt = created
	return nil
}

func (r *UserRepository) ByID(ctx context.Context, id int64) (*domain.User, error) {
	const q = `SELECT id, username, email, password_hash, created_at FROM users WHERE id=? LIMIT 1;`
	return scanUser(r.db.QueryRowContext(ctx, q, id))
}

func (r *UserRepository) ByUsername(ctx context.Context, username string) (*domain.User, error) {
	const q = `SELECT id, username, email, password_hash, created_at FROM users WHERE username=? LIMIT 1;`
	return scanUser(r.db.QueryRowContext(ctx, q, strings.TrimSpace(username)))
}

func (r *UserRepository) SaveProfile(ctx context.Context, p *domain.Profile) error {
	const q = `
INSERT INTO user_profiles (user_id, bio, picture_url, date_joined)
VALUES (?,?,?,?)
ON DUPLICATE KEY UPDATE bio=VALUES(bio), picture_url=VALUES(picture_url);
`
	joined := p.DateJoined
	if joined.IsZero() {
		joined = time.Now()
	}
	_, err := r.db.ExecContext(ctx, q, p.UserID, p.Bio, p.PictureURL, joined)
	return err
}

func (r *UserRepository) ProfileByUser(ctx context.Context, userID int64) (*domain.Profile, error) {
	const q = `SELECT user_id, bio, picture_url, date_joined FROM user_profiles WHERE user_id=? LIMIT 1;`
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
