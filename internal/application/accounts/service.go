package accounts

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/mail"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/putuastawa/visioncap/internal/application"
	domain "github.com/putuastawa/visioncap/internal/domain/accounts"
	"github.com/putuastawa/visioncap/internal/logger"
)

// PictureStore persists profile pictures.
type PictureStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
}

// Claims carried by session tokens.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Service implements registration, login and profile use-cases.
type Service struct {
	Repo     domain.Repository
	Pictures PictureStore
	Secret   []byte
	TokenTTL time.Duration
	Clock    application.Clock
	Log      *logger.Logger
}

// Register creates a user and its one-to-one profile.
func (s *Service) Register(ctx context.Context, username, email, password string) (*domain.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, fmt.Errorf("username is required")
	}
	if len(password) < 8 {
		return nil, fmt.Errorf("password must be at least 8 characters")
	}
	if email != "" {
		if _, err := mail.ParseAddress(email); err != nil {
			return nil, fmt.Errorf("invalid email address")
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	u := &domain.User{
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    s.Clock.Now(),
	}
	if err := s.Repo.Create(ctx, u); err != nil {
		return nil, err
	}
	if err := s.Repo.SaveProfile(ctx, &domain.Profile{UserID: u.ID, DateJoined: u.CreatedAt}); err != nil {
		return nil, err
	}

	s.Log.Info("user registered", "user_id", u.ID, "username", u.Username)
	return u, nil
}

// Login verifies credentials and issues a signed session token.
func (s *Service) Login(ctx context.Context, username, password string) (string, error) {
	u, err := s.Repo.ByUsername(ctx, username)
	if err != nil {
		// Same answer for unknown user and wrong password.
		return "", domain.ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return "", domain.ErrInvalidCredentials
	}

	now := s.Clock.Now()
	claims := Claims{
		Username: u.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(u.ID, 10),
			Issuer:    "visioncap",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.TokenTTL)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.Secret)
	if err != nil {
		return "", err
	}
	s.Log.Info("user logged in", "user_id", u.ID, "username", u.Username)
	return token, nil
}

// Profile returns the user's profile, creating an empty one for accounts
// that predate the profile table.
func (s *Service) Profile(ctx context.Context, userID int64) (*domain.Profile, error) {
	p, err := s.Repo.ProfileByUser(ctx, userID)
	if err == nil {
		return p, nil
	}
	u, uerr := s.Repo.ByID(ctx, userID)
	if uerr != nil {
		return nil, err
	}
	p = &domain.Profile{UserID: userID, DateJoined: u.CreatedAt}
	if err := s.Repo.SaveProfile(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// PictureUpload carries an optional new profile picture.
type PictureUpload struct {
	Data        []byte
	Filename    string
	ContentType string
}

// UpdateProfile sets the bio and optionally replaces the picture.
func (s *Service) UpdateProfile(ctx context.Context, userID int64, bio string, pic *PictureUpload) (*domain.Profile, error) {
	p, err := s.Profile(ctx, userID)
	if err != nil {
		return nil, err
	}
	p.Bio = bio

	if pic != nil && len(pic.Data) > 0 {
		ext := strings.ToLower(path.Ext(pic.Filename))
		if ext == "" {
			ext = ".jpg"
		}
		key := fmt.Sprintf("profile_pics/%d/%s%s", userID, uuid.New().String(), ext)
		url, err := s.Pictures.Put(ctx, key, bytes.NewReader(pic.Data),
			int64(len(pic.Data)), pic.ContentType)
		if err != nil {
			return nil, fmt.Errorf("store profile picture: %w", err)
		}
		p.PictureURL = url
	}

	if err := s.Repo.SaveProfile(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}
