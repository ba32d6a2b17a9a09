package history

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/position-tracker/internal/model"
)

type mockSnapshots struct {
	mock.Mock
}

func (m *mockSnapshots) InsertSnapshots(ctx context.Context, batch []model.Snapshot) (int64, error) {
	args := m.Called(ctx, batch)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockSnapshots) RecentSnapshots(ctx context.Context, articleID int64, query string, since time.Time) ([]model.Record, error) {
	args := m.Called(ctx, articleID, query, since)
	recs, _ := args.Get(0).([]model.Record)
	return recs, args.Error(1)
}

func (m *mockSnapshots) LatestSnapshot(ctx context.Context, articleID int64, query string) (*model.Record, error) {
	args := m.Called(ctx, articleID, query)
	rec, _ := args.Get(0).(*model.Record)
	return rec, args.Error(1)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(m *mockSnapshots) (*Store, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	th := NewThrottle(DefaultThrottleWindow)
	th.nowFunc = clock.Now
	s := New(m, th)
	s.nowFunc = clock.Now
	return s, clock
}

func batch(query string, ids ...int64) []model.Snapshot {
	out := make([]model.Snapshot, len(ids))
	for i, id := range ids {
		out[i] = model.Snapshot{ArticleID: id, Query: query, OrganicPosition: i + 1}
	}
	return out
}

func TestAppend_ThrottleWindow(t *testing.T) {
	m := new(mockSnapshots)
	s, clock := newTestStore(m)
	ctx := context.Background()

	m.On("InsertSnapshots", ctx, mock.Anything).Return(int64(2), nil).Times(3)

	out, err := s.Append(ctx, batch("q", 1, 2))
	require.NoError(t, err)
	assert.Equal(t, Written, out)

	clock.Advance(3597 * time.Second)
	out, err = s.Append(ctx, batch("q", 1, 2))
	require.NoError(t, err)
	assert.Equal(t, Skipped, out)

	clock.Advance(time.Second)
	out, err = s.Append(ctx, batch("q", 1, 2))
	require.NoError(t, err)
	assert.Equal(t, Written, out, "exactly one window after the last write is written")

	clock.Advance(3600 * time.Second)
	out, err = s.Append(ctx, batch("q", 1, 2))
	require.NoError(t, err)
	assert.Equal(t, Written, out)

	m.AssertNumberOfCalls(t, "InsertSnapshots", 3)
}

func TestAppend_QueriesThrottledIndependently(t *testing.T) {
	m := new(mockSnapshots)
	s, _ := newTestStore(m)
	ctx := context.Background()

	m.On("InsertSnapshots", ctx, mock.Anything).Return(int64(1), nil)

	out, err := s.Append(ctx, batch("a", 1))
	require.NoError(t, err)
	assert.Equal(t, Written, out)

	out, err = s.Append(ctx, batch("b", 1))
	require.NoError(t, err)
	assert.Equal(t, Written, out)
}

func TestAppend_FailureKeepsMarker(t *testing.T) {
	m := new(mockSnapshots)
	s, _ := newTestStore(m)
	ctx := context.Background()

	m.On("InsertSnapshots", ctx, mock.Anything).Return(int64(0), errors.New("disk full")).Once()
	m.On("InsertSnapshots", ctx, mock.Anything).Return(int64(1), nil).Once()

	out, err := s.Append(ctx, batch("q", 1))
	require.Error(t, err)
	assert.True(t, model.IsPersistence(err))
	assert.Equal(t, Skipped, out)

	_, seen := s.throttle.Last("q")
	assert.False(t, seen, "failed write must not move the marker")

	out, err = s.Append(ctx, batch("q", 1))
	require.NoError(t, err)
	assert.Equal(t, Written, out)
}

func TestAppend_DedupesArticles(t *testing.T) {
	m := new(mockSnapshots)
	s, _ := newTestStore(m)
	ctx := context.Background()

	m.On("InsertSnapshots", ctx, mock.MatchedBy(func(b []model.Snapshot) bool {
		return len(b) == 2 && b[0].ArticleID == 1 && b[0].OrganicPosition == 1 && b[1].ArticleID == 2
	})).Return(int64(2), nil).Once()

	_, err := s.Append(ctx, batch("q", 1, 2, 1))
	require.NoError(t, err)
	m.AssertExpectations(t)
}

func TestAppend_EmptyAndMixed(t *testing.T) {
	m := new(mockSnapshots)
	s, _ := newTestStore(m)
	ctx := context.Background()

	out, err := s.Append(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, Skipped, out)

	mixed := append(batch("a", 1), batch("b", 2)...)
	_, err = s.Append(ctx, mixed)
	require.Error(t, err)
	assert.True(t, model.IsValidation(err))
	m.AssertNotCalled(t, "InsertSnapshots", mock.Anything, mock.Anything)
}

func TestAppend_ConcurrentWritersSingleWrite(t *testing.T) {
	m := new(mockSnapshots)
	s, _ := newTestStore(m)
	ctx := context.Background()

	var writes atomic.Int32
	m.On("InsertSnapshots", ctx, mock.Anything).Run(func(mock.Arguments) {
		writes.Add(1)
		time.Sleep(5 * time.Millisecond)
	}).Return(int64(1), nil)

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Append(ctx, batch("same", 1))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), writes.Load())
}

func TestQueryRecent_WrapsErrors(t *testing.T) {
	m := new(mockSnapshots)
	s, _ := newTestStore(m)
	ctx := context.Background()
	since := time.Now()

	m.On("RecentSnapshots", ctx, int64(1), "q", since).Return(nil, errors.New("boom"))

	_, err := s.QueryRecent(ctx, 1, "q", since)
	require.Error(t, err)
	assert.True(t, model.IsPersistence(err))
}

func TestLatest(t *testing.T) {
	m := new(mockSnapshots)
	s, _ := newTestStore(m)
	ctx := context.Background()

	m.On("LatestSnapshot", ctx, int64(1), "q").Return(&model.Record{Position: 4}, nil)
	m.On("LatestSnapshot", ctx, int64(2), "q").Return(nil, nil)

	rec, err := s.Latest(ctx, 1, "q")
	require.NoError(t, err)
	assert.Equal(t, 4, rec.Position)

	rec, err = s.Latest(ctx, 2, "q")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestWindow_UsesDays(t *testing.T) {
	m := new(mockSnapshots)
	s, clock := newTestStore(m)
	ctx := context.Background()
	since := clock.Now().Add(-7 * 24 * time.Hour)

	recs := []model.Record{
		{Snapshot: model.Snapshot{ObservedAt: since.Add(time.Hour)}, Position: 10},
		{Snapshot: model.Snapshot{ObservedAt: since.Add(2 * time.Hour)}, Position: 3},
	}
	m.On("RecentSnapshots", ctx, int64(9), "q", since).Return(recs, nil)

	c, err := s.Window(ctx, 9, "q", 0)
	require.NoError(t, err)
	require.Len(t, c.Points, 2)
	assert.Equal(t, 3, c.Best.Position)
	assert.Equal(t, 10, c.Worst.Position)
}
