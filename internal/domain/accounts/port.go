package accounts

import (
	"context"
	"errors"
)

var (
	ErrNotFound           = errors.New("account not found")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUsernameTaken      = errors.New("username already taken")
)

// Repository port untuk users + profiles
type Repository interface {
	Create(ctx context.Context, u *User) error
	ByID(ctx context.Context, id int64) (*User, error)
	ByUsername(ctx context.Context, username string) (*User, error)
	SaveProfile(ctx context.Context, p *Profile) error
	ProfileByUser(ctx context.Context, userID int64) (*Profile, error)
}
