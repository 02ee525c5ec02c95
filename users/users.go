// Package users persists user profiles in the document store.
package users

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/funstudy/funstudy/internal/apperr"
	"github.com/funstudy/funstudy/storage"
)

const (
	// Table is the collection holding user records.
	Table = "Users"
	// KeyAttribute is the hash key of Table.
	KeyAttribute = "userId"
	// DefaultGradeLevel is assigned when registration omits a grade level.
	DefaultGradeLevel = "GradeA"
)

// User is a stored user profile, keyed by the identity provider's subject.
type User struct {
	UserID      string         `json:"userId"`
	Email       string         `json:"email"`
	Username    string         `json:"username,omitempty"`
	Name        string         `json:"name,omitempty"`
	GradeLevel  string         `json:"gradeLevel,omitempty"`
	Preferences map[string]any `json:"preferences,omitempty"`
	CreatedAt   string         `json:"createdAt,omitempty"`
	LastLogin   string         `json:"lastLogin,omitempty"`
	UpdatedAt   string         `json:"updatedAt,omitempty"`
}

// Login is the identity data available after a successful sign-in.
type Login struct {
	UserID   string
	Email    string
	Username string
	Name     string
}

// ProfileUpdate holds the mutable profile fields. Nil fields are unchanged.
type ProfileUpdate struct {
	GradeLevel  *string
	Preferences map[string]any
}

// Store reads and writes users.
type Store struct {
	db     storage.Store
	now    func() time.Time
	logger *slog.Logger
}

// NewStore returns a user store over db.
func NewStore(db storage.Store, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, now: time.Now, logger: logger.With("component", "users")}
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(time.RFC3339)
}

// NameFromEmail returns the local part of an email address.
func NameFromEmail(email string) string {
	local, _, _ := strings.Cut(email, "@")
	return local
}

// Create writes the metadata for a newly registered user. An empty grade
// level becomes DefaultGradeLevel and the display name is the email's local
// part.
func (s *Store) Create(ctx context.Context, userID, email, gradeLevel string) (*User, error) {
	if userID == "" || email == "" {
		return nil, apperr.Validation("user id and email are required")
	}
	if gradeLevel == "" {
		gradeLevel = DefaultGradeLevel
	}
	now := s.timestamp()
	u := &User{
		UserID:     userID,
		Email:      email,
		Username:   email,
		Name:       NameFromEmail(email),
		GradeLevel: gradeLevel,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	item, err := storage.Encode(u)
	if err != nil {
		return nil, err
	}
	if err := s.db.Put(ctx, Table, item); err != nil {
		return nil, apperr.Store("saving user", err)
	}
	return u, nil
}

// RecordLogin creates the user on first sign-in and refreshes identity fields
// and the last-login timestamp on every later one.
func (s *Store) RecordLogin(ctx context.Context, login Login) (*User, error) {
	if login.UserID == "" {
		return nil, apperr.Validation("user id is required")
	}
	now := s.timestamp()
	fields := storage.Item{
		"email":     login.Email,
		"lastLogin": now,
		"updatedAt": now,
	}
	if login.Username != "" {
		fields["username"] = login.Username
	}
	if login.Name != "" {
		fields["name"] = login.Name
	}

	_, err := s.db.Get(ctx, Table, login.UserID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		fields["createdAt"] = now
		if _, ok := fields["name"]; !ok {
			fields["name"] = NameFromEmail(login.Email)
		}
	case err != nil:
		return nil, apperr.Store("loading user", err)
	}

	item, err := s.db.Update(ctx, Table, login.UserID, fields)
	if err != nil {
		return nil, apperr.Store("saving user", err)
	}
	var u User
	if err := storage.Decode(item, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// Get returns the user with the given id.
func (s *Store) Get(ctx context.Context, userID string) (*User, error) {
	item, err := s.db.Get(ctx, Table, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, &apperr.NotFoundError{Message: "User not found"}
	}
	if err != nil {
		return nil, apperr.Store("loading user", err)
	}
	var u User
	if err := storage.Decode(item, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// UpdateProfile applies update to an existing user.
func (s *Store) UpdateProfile(ctx context.Context, userID string, update ProfileUpdate) (*User, error) {
	if update.GradeLevel == nil && update.Preferences == nil {
		return nil, apperr.Validation("nothing to update")
	}
	if update.GradeLevel != nil && strings.TrimSpace(*update.GradeLevel) == "" {
		return nil, apperr.Validation("gradeLevel must not be empty")
	}
	if _, err := s.Get(ctx, userID); err != nil {
		return nil, err
	}

	fields := storage.Item{"updatedAt": s.timestamp()}
	if update.GradeLevel != nil {
		fields["gradeLevel"] = strings.TrimSpace(*update.GradeLevel)
	}
	if update.Preferences != nil {
		fields["preferences"] = update.Preferences
	}
	item, err := s.db.Update(ctx, Table, userID, fields)
	if err != nil {
		return nil, apperr.Store("updating user", err)
	}
	var u User
	if err := storage.Decode(item, &u); err != nil {
		return nil, err
	}
	s.logger.Info("profile updated", "user_id", userID)
	return &u, nil
}
