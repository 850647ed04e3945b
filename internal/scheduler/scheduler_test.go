package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestRedisLocker_Exclusive(t *testing.T) {
	ctx := context.Background()
	_, rdb := newMiniRedis(t)
	l := NewRedisLocker(rdb)

	release, ok, err := l.Acquire(ctx, "match", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.Acquire(ctx, "match", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	// Other jobs are independent.
	_, ok, err = l.Acquire(ctx, "ingest", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	release(ctx)
	_, ok, err = l.Acquire(ctx, "match", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLocker_ExpiresAfterTTL(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newMiniRedis(t)
	l := NewRedisLocker(rdb)

	_, ok, err := l.Acquire(ctx, "expire", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Minute)

	_, ok, err = l.Acquire(ctx, "expire", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLocker_ReleaseKeepsForeignLock(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newMiniRedis(t)
	l := NewRedisLocker(rdb)

	release, ok, err := l.Acquire(ctx, "notify", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	// Our lock lapsed and someone else took it.
	mr.FastForward(2 * time.Minute)
	_, ok, err = l.Acquire(ctx, "notify", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	release(ctx)
	assert.True(t, mr.Exists(lockPrefix+"notify"))
}

func TestRedisLocker_Unavailable(t *testing.T) {
	mr, rdb := newMiniRedis(t)
	mr.Close()

	_, ok, err := NewRedisLocker(rdb).Acquire(context.Background(), "match", time.Minute)
	require.Error(t, err)
	assert.False(t, ok)
}

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := NewRedisClient(context.Background(), "redis://"+mr.Addr()+"/0")
	require.NoError(t, err)
	defer c.Close() //nolint:errcheck

	_, err = NewRedisClient(context.Background(), "not a url")
	assert.Error(t, err)
}

func TestScheduler_Add(t *testing.T) {
	s := New(nil, 0)
	noop := func(context.Context) error { return nil }

	require.NoError(t, s.Add(Job{Name: "match", Spec: "@every 1h", Run: noop}))
	require.NoError(t, s.Add(Job{Name: "ingest", Spec: "*/15 * * * *", Run: noop}))
	require.NoError(t, s.Add(Job{Name: "disabled", Spec: "", Run: noop}))

	err := s.Add(Job{Name: "bad", Spec: "every hour", Run: noop})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "add job bad")

	assert.Error(t, s.Add(Job{Name: "empty", Spec: "@daily"}))
	assert.Equal(t, []string{"match", "ingest"}, s.Jobs())
}

func TestScheduler_RunJobSkipsWhenLocked(t *testing.T) {
	ctx := context.Background()
	_, rdb := newMiniRedis(t)
	locker := NewRedisLocker(rdb)
	s := New(locker, time.Minute)

	calls := 0
	job := Job{Name: "match", Spec: "@every 1h", Run: func(context.Context) error {
		calls++
		return nil
	}}

	assert.True(t, s.runJob(ctx, job))
	assert.Equal(t, 1, calls)

	// Lock is released after the run.
	assert.True(t, s.runJob(ctx, job))
	assert.Equal(t, 2, calls)

	_, ok, err := locker.Acquire(ctx, "match", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	assert.False(t, s.runJob(ctx, job))
	assert.Equal(t, 2, calls)
}

func TestScheduler_RunJobError(t *testing.T) {
	s := New(NopLocker{}, time.Minute)
	ok := s.runJob(context.Background(), Job{Name: "ingest", Run: func(context.Context) error {
		return errors.New("source down")
	}})
	assert.False(t, ok)
}

func TestScheduler_StartStop(t *testing.T) {
	s := New(nil, 0)
	require.NoError(t, s.Add(Job{Name: "noop", Spec: "@every 1h", Run: func(context.Context) error { return nil }}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
