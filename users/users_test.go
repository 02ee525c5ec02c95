package users

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/funstudy/funstudy/internal/apperr"
	"github.com/funstudy/funstudy/storage"
	"github.com/funstudy/funstudy/storage/memory"
)

func newTestStore(t *testing.T) (*Store, *time.Time) {
	t.Helper()
	db := memory.NewStore()
	require.NoError(t, db.CreateTable(context.Background(), storage.TableSpec{Name: Table, KeyAttribute: KeyAttribute}))
	s := NewStore(db, nil)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	return s, &now
}

func TestCreateDefaults(t *testing.T) {
	s, _ := newTestStore(t)
	u, err := s.Create(context.Background(), "sub-1", "kid@example.com", "")
	require.NoError(t, err)
	assert.Equal(t, DefaultGradeLevel, u.GradeLevel)
	assert.Equal(t, "kid", u.Name)

	got, err := s.Get(context.Background(), "sub-1")
	require.NoError(t, err)
	assert.Equal(t, u, got)
}

func TestRecordLogin(t *testing.T) {
	s, now := newTestStore(t)
	ctx := context.Background()

	first, err := s.RecordLogin(ctx, Login{UserID: "sub-2", Email: "ann@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "2024-05-01T12:00:00Z", first.CreatedAt)
	assert.Equal(t, first.CreatedAt, first.LastLogin)
	assert.Equal(t, "ann", first.Name)

	_, err = s.UpdateProfile(ctx, "sub-2", ProfileUpdate{GradeLevel: ptr("Grade4")})
	require.NoError(t, err)

	*now = now.Add(time.Hour)
	second, err := s.RecordLogin(ctx, Login{UserID: "sub-2", Email: "ann@example.com", Name: "Ann"})
	require.NoError(t, err)
	assert.Equal(t, "2024-05-01T12:00:00Z", second.CreatedAt)
	assert.Equal(t, "2024-05-01T13:00:00Z", second.LastLogin)
	assert.Equal(t, "Ann", second.Name)
	assert.Equal(t, "Grade4", second.GradeLevel, "login keeps profile fields")
}

func TestGetMissing(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Get(context.Background(), "nobody")
	var nf *apperr.NotFoundError
	assert.True(t, errors.As(err, &nf))
}

func TestUpdateProfile(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	_, err := s.Create(ctx, "sub-3", "bo@example.com", "Grade2")
	require.NoError(t, err)

	u, err := s.UpdateProfile(ctx, "sub-3", ProfileUpdate{
		Preferences: map[string]any{"theme": "dark", "sound": false},
	})
	require.NoError(t, err)
	assert.Equal(t, "Grade2", u.GradeLevel)
	assert.Equal(t, map[string]any{"theme": "dark", "sound": false}, u.Preferences)

	_, err = s.UpdateProfile(ctx, "sub-3", ProfileUpdate{})
	var ve *apperr.ValidationError
	assert.True(t, errors.As(err, &ve))

	_, err = s.UpdateProfile(ctx, "sub-3", ProfileUpdate{GradeLevel: ptr("  ")})
	assert.True(t, errors.As(err, &ve))

	_, err = s.UpdateProfile(ctx, "ghost", ProfileUpdate{GradeLevel: ptr("Grade1")})
	var nf *apperr.NotFoundError
	assert.True(t, errors.As(err, &nf))
}

func TestNameFromEmail(t *testing.T) {
	assert.Equal(t, "a", NameFromEmail("a@b.com"))
	assert.Equal(t, "plain", NameFromEmail("plain"))
}

func ptr[T any](v T) *T { return &v }
