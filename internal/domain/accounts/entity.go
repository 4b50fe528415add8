package accounts

import "time"

// User account. PasswordHash is bcrypt and never serialized.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Profile is one-to-one with User, created at registration.
type Profile struct {
	UserID     int64     `json:"user_id"`
	Bio        string    `json:"bio"`
	PictureURL string    `json:"picture_url,omitempty"`
	DateJoined time.Time `json:"date_joined"`
}
