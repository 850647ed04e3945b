package main

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildJobs(t *testing.T) {
	cfg = testConfig(t)
	env, err := initEnv(context.Background(), "schedule", envNeeds{scorer: true, router: true})
	require.NoError(t, err)
	defer env.Close()

	jobs, err := buildJobs(env)
	require.NoError(t, err)

	names := make([]string, 0, len(jobs))
	for _, j := range jobs {
		names = append(names, j.Name)
		assert.NotNil(t, j.Run)
	}
	assert.Equal(t, []string{"ingest", "evaluate", "notify", "match", "expire", "monitor"}, names)
}

func TestInitScheduler_SkipsUnscheduledJobs(t *testing.T) {
	cfg = testConfig(t)
	env, err := initEnv(context.Background(), "schedule", envNeeds{scorer: true, router: true})
	require.NoError(t, err)
	defer env.Close()

	sched, cleanup, err := initScheduler(context.Background(), env)
	require.NoError(t, err)
	defer cleanup()

	assert.Equal(t, []string{"match", "expire"}, sched.Jobs())
}

func TestInitScheduler_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg = testConfig(t)
	cfg.Schedule.RedisURL = "redis://" + mr.Addr()

	env, err := initEnv(context.Background(), "schedule", envNeeds{scorer: true, router: true})
	require.NoError(t, err)
	defer env.Close()

	_, cleanup, err := initScheduler(context.Background(), env)
	require.NoError(t, err)
	cleanup()

	cfg.Schedule.RedisURL = "redis://127.0.0.1:1"
	_, _, err = initScheduler(context.Background(), env)
	assert.Error(t, err)
}

func TestInitScheduler_BadSpec(t *testing.T) {
	cfg = testConfig(t)
	cfg.Schedule.Match = "hourly"
	env, err := initEnv(context.Background(), "schedule", envNeeds{scorer: true, router: true})
	require.NoError(t, err)
	defer env.Close()

	_, _, err = initScheduler(context.Background(), env)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "add job match")
}
