package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_InMemory(t *testing.T) {
	s := createTestStore(t)

	steps, err := s.ReadSteps(context.Background(), "anything")
	require.NoError(t, err)
	assert.NotNil(t, steps)
	assert.Empty(t, steps)
}

func TestOpen_FileIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		require.NoError(t, err, "iteration %d", i)
		require.NoError(t, s.Close())
	}
}

func TestClose_NilDB(t *testing.T) {
	s := &Store{}
	assert.NoError(t, s.Close())
}

func TestWriteStep_AssignsIncreasingSeq(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	first, err := s.WriteStep(ctx, StepRecord{Scenario: "chat", Index: 0, Kind: "navigate", Status: StatusOK})
	require.NoError(t, err)
	second, err := s.WriteStep(ctx, StepRecord{Scenario: "chat", Index: 1, Kind: "wait", Status: StatusOK})
	require.NoError(t, err)

	assert.Greater(t, second, first)
}

func TestReadSteps_OrderedAndScoped(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	records := []StepRecord{
		{Scenario: "chat", Index: 0, Kind: "navigate", Target: "chat_harness.html", Status: StatusOK},
		{Scenario: "triage", Index: 0, Kind: "navigate", Status: StatusOK},
		{Scenario: "chat", Index: 1, Kind: "wait", Target: "#reskin-root", Status: StatusFailed, Detail: "timed out", ElapsedMs: 10000},
	}
	for _, rec := range records {
		_, err := s.WriteStep(ctx, rec)
		require.NoError(t, err)
	}

	steps, err := s.ReadSteps(ctx, "chat")
	require.NoError(t, err)
	require.Len(t, steps, 2)

	assert.Equal(t, "navigate", steps[0].Kind)
	assert.Equal(t, "chat_harness.html", steps[0].Target)
	assert.Equal(t, "wait", steps[1].Kind)
	assert.Equal(t, StatusFailed, steps[1].Status)
	assert.Equal(t, "timed out", steps[1].Detail)
	assert.Equal(t, int64(10000), steps[1].ElapsedMs)
	assert.Less(t, steps[0].Seq, steps[1].Seq)
}

func TestWriteStep_RejectsUnknownStatus(t *testing.T) {
	s := createTestStore(t)

	_, err := s.WriteStep(context.Background(), StepRecord{Scenario: "chat", Kind: "wait", Status: "maybe"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "write step")
}

func TestFirstFailure(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rec, err := s.FirstFailure(ctx, "triage")
	require.NoError(t, err)
	assert.Nil(t, rec)

	for _, r := range []StepRecord{
		{Scenario: "triage", Index: 0, Kind: "navigate", Status: StatusOK},
		{Scenario: "triage", Index: 1, Kind: "call", Status: StatusFailed, Detail: "first"},
		{Scenario: "triage", Index: 2, Kind: "call", Status: StatusFailed, Detail: "second"},
	} {
		_, err := s.WriteStep(ctx, r)
		require.NoError(t, err)
	}

	rec, err = s.FirstFailure(ctx, "triage")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 1, rec.Index)
	assert.Equal(t, "first", rec.Detail)
}
