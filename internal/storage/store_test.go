package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cdpflow/pkg/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.sqlite3"), "cdpflow_", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreRecordAndRecent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i, outcome := range []string{domain.OutcomeIssued, domain.OutcomeFailed, domain.OutcomeIssued} {
		err := s.Record(ctx, domain.InterceptEvent{
			Session:   "S1",
			Target:    "T1",
			Class:     "fetch.request_paused",
			Action:    "continue_request",
			Command:   "fetch.continue_request",
			Outcome:   outcome,
			Timestamp: int64(1000 + i),
		})
		require.NoError(t, err)
	}

	recs, err := s.Recent(ctx, "S1", 10)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	// 倒序返回
	assert.Equal(t, int64(1002), recs[0].EventTime)
	assert.Equal(t, int64(1000), recs[2].EventTime)
	assert.Equal(t, "fetch.continue_request", recs[0].Command)
}

func TestStoreRecentFiltersBySession(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Record(ctx, domain.InterceptEvent{Session: "S1", Outcome: domain.OutcomeIssued}))
	require.NoError(t, s.Record(ctx, domain.InterceptEvent{Session: "S2", Outcome: domain.OutcomeIssued}))

	recs, err := s.Recent(ctx, "S1", 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "S1", recs[0].SessionID)

	all, err := s.Recent(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestStoreRecentDefaultLimit(t *testing.T) {
	s := openTestStore(t)

	recs, err := s.Recent(context.Background(), "S1", 0)
	require.NoError(t, err)
	assert.Empty(t, recs)
}
