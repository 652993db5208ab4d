package sessionstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/yungbote/listinglens-backend/internal/data/repos"
	"github.com/yungbote/listinglens-backend/internal/domain/analysis"
	"github.com/yungbote/listinglens-backend/internal/pkg/dbctx"
	apperrors "github.com/yungbote/listinglens-backend/internal/pkg/errors"
	"github.com/yungbote/listinglens-backend/internal/platform/logger"
)

// Cache is the fast tier. Get returns (nil, nil) on a miss.
type Cache interface {
	Get(ctx context.Context, id string) (*analysis.Session, error)
	Set(ctx context.Context, s *analysis.Session, ttl time.Duration) error
	Delete(ctx context.Context, id string) error
	Close() error
}

// Store is the two-tier session state store. Reads hit the cache first and
// fall back to the durable repository; writes go to both.
type Store struct {
	log     *logger.Logger
	cache   Cache
	durable repos.SessionRepo
	ttl     time.Duration
	locks   *keyedMutex

	mu    sync.RWMutex
	known map[string]time.Time
}

func New(log *logger.Logger, cache Cache, durable repos.SessionRepo, ttl time.Duration) (*Store, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if cache == nil && durable == nil {
		return nil, fmt.Errorf("sessionstore: at least one tier required")
	}
	return &Store{
		log:     log.With("service", "SessionStore"),
		cache:   cache,
		durable: durable,
		ttl:     ttl,
		locks:   newKeyedMutex(),
		known:   map[string]time.Time{},
	}, nil
}

// Get returns a private copy of the session. Unknown sessions yield an error
// wrapping errors.ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*analysis.Session, error) {
	if id == "" {
		return nil, fmt.Errorf("session id: %w", apperrors.ErrInvalidArgument)
	}

	var fastErr error
	if s.cache != nil {
		sess, err := s.cache.Get(ctx, id)
		if err == nil && sess != nil {
			return sess.Clone(), nil
		}
		if err != nil {
			fastErr = err
			s.log.Warn("Fast tier read failed", "session_id", id, "error", err)
		}
	}

	if s.durable == nil {
		if fastErr != nil {
			return nil, &StoreError{Op: "get", SessionID: id, Fast: fastErr}
		}
		return nil, fmt.Errorf("session %s: %w", id, apperrors.ErrNotFound)
	}

	sess, err := s.durable.Get(dbctx.Context{Ctx: ctx}, id)
	if err != nil {
		return nil, &StoreError{Op: "get", SessionID: id, Fast: fastErr, Durable: err}
	}
	if sess == nil {
		return nil, fmt.Errorf("session %s: %w", id, apperrors.ErrNotFound)
	}

	if s.cache != nil && fastErr == nil {
		if err := s.cache.Set(ctx, sess, s.ttl); err != nil {
			s.log.Warn("Fast tier fill failed", "session_id", id, "error", err)
		}
	}
	return sess.Clone(), nil
}

// Put writes the session to both tiers. A durable failure is logged; only
// losing both tiers is an error. ttl <= 0 uses the store default.
func (s *Store) Put(ctx context.Context, sess *analysis.Session, ttl time.Duration) error {
	if sess == nil || sess.ID == "" {
		return fmt.Errorf("session id: %w", apperrors.ErrInvalidArgument)
	}
	unlock := s.locks.Lock(sess.ID)
	defer unlock()
	return s.put(ctx, sess, ttl)
}

func (s *Store) put(ctx context.Context, sess *analysis.Session, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.ttl
	}
	cp := sess.Clone()

	var fastErr, durableErr error
	if s.cache != nil {
		if fastErr = s.cache.Set(ctx, cp, ttl); fastErr != nil {
			s.log.Warn("Fast tier write failed", "session_id", cp.ID, "error", fastErr)
		}
	} else {
		fastErr = errNoTier
	}
	if s.durable != nil {
		if durableErr = s.durable.Upsert(dbctx.Context{Ctx: ctx}, cp); durableErr != nil {
			s.log.Warn("Durable tier write failed", "session_id", cp.ID, "error", durableErr)
		}
	} else {
		durableErr = errNoTier
	}
	if fastErr != nil && durableErr != nil {
		return &StoreError{Op: "put", SessionID: cp.ID, Fast: fastErr, Durable: durableErr}
	}

	s.mu.Lock()
	s.known[cp.ID] = cp.StartedAt
	s.mu.Unlock()
	return nil
}

// Update runs fn on the current session under the session's lock and writes
// the result back. It reports false when the session does not exist. If fn
// returns an error nothing is written.
func (s *Store) Update(ctx context.Context, id string, fn func(*analysis.Session) error) (bool, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	sess, err := s.Get(ctx, id)
	if errors.Is(err, apperrors.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := fn(sess); err != nil {
		return true, err
	}
	sess.ID = id
	if err := s.put(ctx, sess, 0); err != nil {
		return true, err
	}
	return true, nil
}

// List returns recent sessions, newest first. The durable tier is the source
// when present; otherwise sessions written by this process are listed.
func (s *Store) List(ctx context.Context, limit int) ([]*analysis.Session, error) {
	if limit <= 0 {
		limit = 100
	}
	if s.durable != nil {
		out, err := s.durable.ListRecent(dbctx.Context{Ctx: ctx}, limit)
		if err == nil {
			return out, nil
		}
		s.log.Warn("Durable list failed, using in-process sessions", "error", err)
	}

	s.mu.RLock()
	ids := make([]string, 0, len(s.known))
	for id := range s.known {
		ids = append(ids, id)
	}
	started := make(map[string]time.Time, len(s.known))
	for id, at := range s.known {
		started[id] = at
	}
	s.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return started[ids[i]].After(started[ids[j]]) })
	if len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]*analysis.Session, 0, len(ids))
	for _, id := range ids {
		sess, err := s.Get(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, sess)
	}
	return out, nil
}

func (s *Store) Close() error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Close()
}
