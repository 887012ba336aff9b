package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tutor-rag/internal/config"
	"tutor-rag/internal/models"
)

// newTestService builds a service with an in-memory vector store and no
// API keys configured, so every model-backed path exercises its
// fallback.
func newTestService(t *testing.T) *Service {
	t.Helper()
	cfg := config.Default()
	cfg.Vector.InMemory = true

	svc, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Shutdown() })
	return svc
}

func TestServiceStartsWithoutModelKeys(t *testing.T) {
	svc := newTestService(t)
	assert.Nil(t, svc.heavy)
	assert.Nil(t, svc.fast)
	assert.Nil(t, svc.hist)
}

func TestServiceValidation(t *testing.T) {
	svc := newTestService(t)

	ok, _ := svc.ValidateQuestion("Why is the sky blue?", 3, "Science")
	assert.True(t, ok)

	ok, msg := svc.ValidateQuestion("how to make a bomb", 3, "Science")
	assert.False(t, ok)
	assert.NotEmpty(t, msg)

	ok, _ = svc.ValidateDocument("too short", "Science", 3)
	assert.False(t, ok)
}

func TestServiceTextbookLifecycle(t *testing.T) {
	svc := newTestService(t)

	stats := svc.TextbookStats("alice", "Science")
	assert.False(t, stats.Exists)

	existed, err := svc.DeleteTextbook("alice", "Science")
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestServiceRunSingleFallsBackWithoutModel(t *testing.T) {
	svc := newTestService(t)

	answer, err := svc.RunSingleResponse(context.Background(), "what is rain", models.StudentProfile{
		StudentID: "alice",
		Grade:     3,
		Subject:   "Science",
	})
	require.NoError(t, err)
	assert.Equal(t, models.ExplainFallbackMessage, answer)
}

func TestServiceChallengeFallsBackWithoutModel(t *testing.T) {
	svc := newTestService(t)

	ch := svc.GenerateChallenge(context.Background(), "Math", 2)
	assert.NotEmpty(t, ch.Question)
	assert.Len(t, ch.Options, 4)
}

func TestServiceMemory(t *testing.T) {
	svc := newTestService(t)

	svc.AppendMemory("alice", "q", "a")
	svc.ClearMemory("alice")

	_, err := svc.RecentHistory(context.Background(), "alice", 10)
	assert.ErrorIs(t, err, ErrNoHistoryStore)
	assert.ErrorIs(t, svc.SaveFeedback(context.Background(), "alice", "q_1", "up"), ErrNoHistoryStore)
}

func TestServiceIngestFileUnsupported(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.IngestFile(context.Background(), "book.epub", "alice", "Science", 3)
	assert.Error(t, err)
}
