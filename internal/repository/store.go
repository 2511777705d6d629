package repository

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/gridwars/gridwars-server-go/internal/game/match"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// AnyVersion skips the optimistic version check in Apply.
const AnyVersion int64 = 0

const lockShards = 64

// Mutation changes a private copy of a session. Returning an error discards
// the copy.
type Mutation func(s *match.Session) error

// StoreOptions configures the cache tier.
type StoreOptions struct {
	CacheSize int
	CacheTTL  time.Duration
	Now       func() time.Time
	Logger    *zap.Logger
}

// SessionStore is the single gateway for session state changes. It keeps a
// hot LRU cache in front of the durable repository, populates it on read
// misses and writes through on every accepted mutation.
type SessionStore struct {
	repo   Repository
	cache  *expirable.LRU[string, *match.Session]
	locks  [lockShards]sync.Mutex
	now    func() time.Time
	logger *zap.Logger
	tracer trace.Tracer
}

// NewSessionStore wraps repo with a cache tier.
func NewSessionStore(repo Repository, opts StoreOptions) *SessionStore {
	if opts.CacheSize <= 0 {
		opts.CacheSize = 1024
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &SessionStore{
		repo:   repo,
		cache:  expirable.NewLRU[string, *match.Session](opts.CacheSize, nil, opts.CacheTTL),
		now:    opts.Now,
		logger: opts.Logger,
		tracer: otel.Tracer("gridwars/repository"),
	}
}

func (st *SessionStore) lockFor(id string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return &st.locks[h.Sum32()%lockShards]
}

// Get returns a private copy of the session.
func (st *SessionStore) Get(ctx context.Context, id string) (*match.Session, error) {
	s, err := st.current(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.Clone(), nil
}

// current returns the cached instance, loading it on a miss. Callers must
// not mutate the result.
func (st *SessionStore) current(ctx context.Context, id string) (*match.Session, error) {
	if s, ok := st.cache.Get(id); ok {
		return s, nil
	}
	s, err := st.repo.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	st.cache.Add(id, s)
	return s, nil
}

// Create stores a new session at version 1.
func (st *SessionStore) Create(ctx context.Context, s *match.Session) (*match.Session, error) {
	mu := st.lockFor(s.ID)
	mu.Lock()
	defer mu.Unlock()

	next := s.Clone()
	next.Version = 1
	next.LastActionAt = st.now()
	if err := st.repo.Save(ctx, next); err != nil {
		return nil, err
	}
	st.cache.Add(next.ID, next)
	st.logger.Debug("session stored", zap.String("session_id", next.ID))
	return next.Clone(), nil
}

// Apply runs mutate against a copy of the current session. When
// expectedVersion is not AnyVersion and differs from the stored version the
// call fails with ErrConflict and nothing changes. On success the version
// goes up by exactly one, LastActionAt is stamped and the result is
// persisted and cached before it is returned.
func (st *SessionStore) Apply(ctx context.Context, id string, mutate Mutation, expectedVersion int64) (*match.Session, error) {
	ctx, span := st.tracer.Start(ctx, "SessionStore.Apply", trace.WithAttributes(
		attribute.String("session.id", id),
		attribute.Int64("session.expected_version", expectedVersion),
	))
	defer span.End()

	mu := st.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	current, err := st.current(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load failed")
		return nil, err
	}
	if expectedVersion != AnyVersion && current.Version != expectedVersion {
		err := fmt.Errorf("%w: %s at version %d, expected %d", ErrConflict, id, current.Version, expectedVersion)
		span.SetStatus(codes.Error, "conflict")
		return nil, err
	}

	next := current.Clone()
	if err := mutate(next); err != nil {
		span.RecordError(err)
		return nil, err
	}
	next.ID = current.ID
	next.Version = current.Version + 1
	next.LastActionAt = st.now()

	if err := st.repo.Save(ctx, next); err != nil {
		if errors.Is(err, ErrConflict) {
			// Another writer moved the durable copy; drop our stale view.
			st.cache.Remove(id)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "save failed")
		return nil, err
	}
	st.cache.Add(id, next)
	span.SetAttributes(attribute.Int64("session.version", next.Version))
	return next.Clone(), nil
}

// Delete removes a session from both tiers.
func (st *SessionStore) Delete(ctx context.Context, id string) error {
	mu := st.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	st.cache.Remove(id)
	return st.repo.Delete(ctx, id)
}

// Cached returns the number of sessions in the hot tier.
func (st *SessionStore) Cached() int {
	return st.cache.Len()
}

// Close closes the durable tier.
func (st *SessionStore) Close() error {
	st.cache.Purge()
	return st.repo.Close()
}
