package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/funstudy/funstudy/internal/util"
	"github.com/funstudy/funstudy/storage"
)

const (
	// SessionsTable holds sealed sessions for PersistentSessionStore.
	SessionsTable = "Sessions"
	// SessionKeyAttribute is the hash key of SessionsTable.
	SessionKeyAttribute = "tokenHash"

	sessionKeySalt   = "funstudy:sessions"
	sessionKeyInfo   = "funstudy:session_seal_key:v1"
	sessionAADPrefix = "session:"
	cleanupInterval  = 5 * time.Minute
	minSecretLength  = 32
)

// PersistentSessionStore stores sessions in a storage.Store, encrypted at
// rest with AES-256-GCM. Sessions survive restarts and are shared between
// instances that use the same store and secret.
//
// Items are keyed by the SHA-256 of the session token so the store never
// holds a usable cookie value.
type PersistentSessionStore struct {
	db       storage.Store
	key      []byte
	logger   *slog.Logger
	stopOnce sync.Once
	stopCh   chan struct{}
}

var _ SessionStore = (*PersistentSessionStore)(nil)

// NewPersistentSessionStore derives the sealing key from secret and creates
// the sessions table if needed.
func NewPersistentSessionStore(ctx context.Context, db storage.Store, secret []byte, logger *slog.Logger) (*PersistentSessionStore, error) {
	if len(secret) < minSecretLength {
		return nil, fmt.Errorf("session secret must be at least %d bytes, got %d", minSecretLength, len(secret))
	}
	key, err := util.HKDF(secret, []byte(sessionKeySalt), []byte(sessionKeyInfo))
	if err != nil {
		return nil, err
	}
	err = db.CreateTable(ctx, storage.TableSpec{Name: SessionsTable, KeyAttribute: SessionKeyAttribute})
	if err != nil && !errors.Is(err, storage.ErrTableExists) {
		util.WipeBytes(key)
		return nil, fmt.Errorf("creating sessions table: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &PersistentSessionStore{
		db:     db,
		key:    key,
		logger: logger.With("component", "sessions"),
		stopCh: make(chan struct{}),
	}
	go s.cleanupLoop()
	return s, nil
}

// Close stops the background cleanup goroutine and wipes key material.
func (s *PersistentSessionStore) Close() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		util.WipeBytes(s.key)
	})
}

type sealedSession struct {
	TokenHash string `json:"tokenHash"`
	Sealed    string `json:"sealed"`
	ExpiresAt int64  `json:"expiresAt"`
}

func (s *PersistentSessionStore) Get(ctx context.Context, token string) (Session, bool) {
	hash := util.SHA256Hex(token)
	item, err := s.db.Get(ctx, SessionsTable, hash)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn("session lookup failed", "error", err)
		}
		return Session{}, false
	}
	session, err := s.open(hash, item)
	if err != nil {
		_ = s.Delete(ctx, token)
		return Session{}, false
	}
	if session.expired(time.Now()) {
		_ = s.Delete(ctx, token)
		return Session{}, false
	}
	return session, true
}

func (s *PersistentSessionStore) Put(ctx context.Context, token string, session Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}
	defer util.WipeBytes(data)
	hash := util.SHA256Hex(token)
	sealed, err := util.EncryptAESWithAAD(data, s.key, []byte(sessionAADPrefix+hash))
	if err != nil {
		return err
	}
	item, err := storage.Encode(sealedSession{
		TokenHash: hash,
		Sealed:    base64.StdEncoding.EncodeToString(sealed),
		ExpiresAt: session.ExpiresAt.Unix(),
	})
	if err != nil {
		return err
	}
	return s.db.Put(ctx, SessionsTable, item)
}

func (s *PersistentSessionStore) Delete(ctx context.Context, token string) error {
	err := s.db.Delete(ctx, SessionsTable, util.SHA256Hex(token))
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	return err
}

func (s *PersistentSessionStore) open(hash string, item storage.Item) (Session, error) {
	var rec sealedSession
	if err := storage.Decode(item, &rec); err != nil {
		return Session{}, err
	}
	sealed, err := base64.StdEncoding.DecodeString(rec.Sealed)
	if err != nil {
		return Session{}, err
	}
	data, err := util.DecryptAESWithAAD(sealed, s.key, []byte(sessionAADPrefix+hash))
	if err != nil {
		return Session{}, err
	}
	defer util.WipeBytes(data)
	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return Session{}, err
	}
	return session, nil
}

func (s *PersistentSessionStore) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case now := <-ticker.C:
			s.sweepExpired(context.Background(), now)
		}
	}
}

// sweepExpired removes expired sessions using the plaintext expiry, so
// entries sealed under an old secret are also collected.
func (s *PersistentSessionStore) sweepExpired(ctx context.Context, now time.Time) int {
	items, err := s.db.Scan(ctx, SessionsTable, nil)
	if err != nil {
		s.logger.Warn("session sweep failed", "error", err)
		return 0
	}
	removed := 0
	for _, item := range items {
		var rec sealedSession
		if err := storage.Decode(item, &rec); err != nil || rec.TokenHash == "" {
			continue
		}
		if now.Unix() <= rec.ExpiresAt {
			continue
		}
		if err := s.db.Delete(ctx, SessionsTable, rec.TokenHash); err == nil {
			removed++
		}
	}
	return removed
}
