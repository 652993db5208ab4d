package sessionstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	repoanalysis "github.com/yungbote/listinglens-backend/internal/data/repos/analysis"
	"github.com/yungbote/listinglens-backend/internal/data/repos/testutil"
	"github.com/yungbote/listinglens-backend/internal/domain/analysis"
	"github.com/yungbote/listinglens-backend/internal/pkg/dbctx"
	apperrors "github.com/yungbote/listinglens-backend/internal/pkg/errors"
	"github.com/yungbote/listinglens-backend/internal/platform/logger"
)

type brokenCache struct{}

var errDown = errors.New("tier down")

func (brokenCache) Get(context.Context, string) (*analysis.Session, error) { return nil, errDown }
func (brokenCache) Set(context.Context, *analysis.Session, time.Duration) error {
	return errDown
}
func (brokenCache) Delete(context.Context, string) error { return errDown }
func (brokenCache) Close() error                         { return nil }

type brokenRepo struct{}

func (brokenRepo) Get(dbctx.Context, string) (*analysis.Session, error) { return nil, errDown }
func (brokenRepo) Upsert(dbctx.Context, *analysis.Session) error        { return errDown }
func (brokenRepo) ListRecent(dbctx.Context, int) ([]*analysis.Session, error) {
	return nil, errDown
}

func newSession() *analysis.Session {
	return analysis.NewSession(uuid.NewString(), "https://www.amazon.com/dp/B0TEST0001", time.Now())
}

func TestStoreReadThroughFillsCache(t *testing.T) {
	ctx := context.Background()
	db := testutil.DB(t)
	durable := repoanalysis.NewSessionRepo(db, logger.NewNop())
	cache := NewMemoryCache(time.Hour)
	st, err := New(logger.NewNop(), cache, durable, time.Hour)
	require.NoError(t, err)

	s := newSession()
	require.NoError(t, durable.Upsert(dbctx.Context{Ctx: ctx}, s))

	cached, _ := cache.Get(ctx, s.ID)
	require.Nil(t, cached)

	got, err := st.Get(ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, s.ID, got.ID)

	cached, _ = cache.Get(ctx, s.ID)
	require.NotNil(t, cached)
}

func TestStoreGetUnknown(t *testing.T) {
	st, err := New(logger.NewNop(), NewMemoryCache(time.Hour), repoanalysis.NewSessionRepo(testutil.DB(t), logger.NewNop()), time.Hour)
	require.NoError(t, err)
	_, err = st.Get(context.Background(), "missing")
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestStoreDurableFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	st, err := New(logger.NewNop(), NewMemoryCache(time.Hour), brokenRepo{}, time.Hour)
	require.NoError(t, err)

	s := newSession()
	require.NoError(t, st.Put(ctx, s, 0))
	got, err := st.Get(ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, analysis.StatusStarted, got.Status)
}

func TestStoreFastFailureFallsBackToDurable(t *testing.T) {
	ctx := context.Background()
	st, err := New(logger.NewNop(), brokenCache{}, repoanalysis.NewSessionRepo(testutil.DB(t), logger.NewNop()), time.Hour)
	require.NoError(t, err)

	s := newSession()
	require.NoError(t, st.Put(ctx, s, 0))
	got, err := st.Get(ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, s.ID, got.ID)
}

func TestStoreBothTiersDown(t *testing.T) {
	ctx := context.Background()
	st, err := New(logger.NewNop(), brokenCache{}, brokenRepo{}, time.Hour)
	require.NoError(t, err)

	var se *StoreError
	require.ErrorAs(t, st.Put(ctx, newSession(), 0), &se)
	require.Equal(t, "put", se.Op)
	require.ErrorIs(t, se, errDown)

	_, err = st.Get(ctx, "x")
	require.ErrorAs(t, err, &se)
}

func TestStoreReturnsPrivateCopies(t *testing.T) {
	ctx := context.Background()
	st, err := New(logger.NewNop(), NewMemoryCache(time.Hour), nil, time.Hour)
	require.NoError(t, err)

	s := newSession()
	require.NoError(t, st.Put(ctx, s, 0))
	s.Status = analysis.StatusFailed

	got, err := st.Get(ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, analysis.StatusStarted, got.Status)
	got.Status = analysis.StatusCompleted

	again, err := st.Get(ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, analysis.StatusStarted, again.Status)
}

func TestStoreUpdate(t *testing.T) {
	ctx := context.Background()
	st, err := New(logger.NewNop(), NewMemoryCache(time.Hour), nil, time.Hour)
	require.NoError(t, err)

	found, err := st.Update(ctx, "missing", func(*analysis.Session) error { return nil })
	require.NoError(t, err)
	require.False(t, found)

	s := newSession()
	require.NoError(t, st.Put(ctx, s, 0))

	found, err = st.Update(ctx, s.ID, func(cur *analysis.Session) error {
		return cur.Transition(analysis.StatusRunning, time.Now())
	})
	require.NoError(t, err)
	require.True(t, found)

	boom := errors.New("boom")
	_, err = st.Update(ctx, s.ID, func(cur *analysis.Session) error {
		cur.Status = analysis.StatusFailed
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := st.Get(ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, analysis.StatusRunning, got.Status)
}

func TestStoreUpdateSerializesWriters(t *testing.T) {
	ctx := context.Background()
	st, err := New(logger.NewNop(), NewMemoryCache(time.Hour), nil, time.Hour)
	require.NoError(t, err)

	s := newSession()
	require.NoError(t, st.Put(ctx, s, 0))

	stages := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	var wg sync.WaitGroup
	for _, name := range stages {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			_, err := st.Update(ctx, s.ID, func(cur *analysis.Session) error {
				return cur.RecordStage(name, analysis.StageOutput{Status: analysis.StageSucceeded, FinishedAt: time.Now()})
			})
			assert.NoError(t, err)
		}(name)
	}
	wg.Wait()

	got, err := st.Get(ctx, s.ID)
	require.NoError(t, err)
	outs, err := got.Outputs()
	require.NoError(t, err)
	require.Len(t, outs, len(stages))
}

func TestStoreListWithoutDurable(t *testing.T) {
	ctx := context.Background()
	st, err := New(logger.NewNop(), NewMemoryCache(time.Hour), nil, time.Hour)
	require.NoError(t, err)

	older := analysis.NewSession("older", "B0TEST0001", time.Now().Add(-time.Minute))
	newer := analysis.NewSession("newer", "B0TEST0002", time.Now())
	require.NoError(t, st.Put(ctx, older, 0))
	require.NoError(t, st.Put(ctx, newer, 0))

	got, err := st.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "newer", got[0].ID)
}

func TestMemoryCacheExpires(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(time.Minute)
	now := time.Now()
	c.now = func() time.Time { return now }

	s := newSession()
	require.NoError(t, c.Set(ctx, s, 0))
	got, _ := c.Get(ctx, s.ID)
	require.NotNil(t, got)

	now = now.Add(2 * time.Minute)
	got, _ = c.Get(ctx, s.ID)
	require.Nil(t, got)
}
