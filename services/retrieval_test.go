package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/itish2003/memory-engine/store"
)

func newTestRetriever(t *testing.T) (*Retriever, *store.ChromemStore) {
	t.Helper()
	env := newTestEnv(t)
	return NewRetriever(env.store, env.svc.clients.Embed, fixedClock, QueryLimits{}, zap.NewNop()), env.store
}

func TestRetrieve_Latest(t *testing.T) {
	r, st := newTestRetriever(t)
	seedChunk(t, st, "old", "u1", "first thoughts", "", "2025-03-01T09:00:00Z")
	seedChunk(t, st, "new", "u1", "newest thoughts", "", "2025-03-05T09:00:00Z")
	seedChunk(t, st, "mid", "u1", "middle thoughts", "", "2025-03-03T09:00:00")
	seedChunk(t, st, "junk", "u1", "undated thoughts", "", "sometime")
	seedChunk(t, st, "other", "u2", "someone else", "", "2025-03-06T09:00:00Z")

	ret, err := r.Retrieve(context.Background(), "u1", "latest note", 5, Extract("latest note"))
	require.NoError(t, err)

	assert.Equal(t, StrategyLatest, ret.Strategy)
	assert.Empty(t, ret.Message)
	assert.Equal(t, []string{"new"}, recordNoteIDs(ret.Records))
}

func TestRetrieve_LatestLimit(t *testing.T) {
	r, st := newTestRetriever(t)
	seedChunk(t, st, "a", "u1", "a", "", "2025-03-01T09:00:00Z")
	seedChunk(t, st, "b", "u1", "b", "", "2025-03-02T09:00:00Z")
	seedChunk(t, st, "c", "u1", "c", "", "2025-03-03T09:00:00Z")

	ret, err := r.Retrieve(context.Background(), "u1", "", 5, Filters{Time: &TimeFilter{Kind: TimeLatest, Limit: 2}})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b"}, recordNoteIDs(ret.Records))
}

func TestRetrieve_LatestWithoutValidTimestamps(t *testing.T) {
	r, st := newTestRetriever(t)
	seedChunk(t, st, "junk", "u1", "undated", "", "not a date")

	ret, err := r.Retrieve(context.Background(), "u1", "newest", 5, Extract("newest"))
	require.NoError(t, err)
	assert.Empty(t, ret.Records)
	assert.Equal(t, "No notes found with a valid timestamp.", ret.Message)
}

func TestRetrieve_TimeWindows(t *testing.T) {
	r, st := newTestRetriever(t)
	seedChunk(t, st, "today", "u1", "standup", "", "2025-03-06T08:00:00Z")
	seedChunk(t, st, "yesterday", "u1", "retro", "", "2025-03-05T17:00:00Z")
	seedChunk(t, st, "lastweek", "u1", "planning", "", "2025-02-28T10:00:00Z")
	seedChunk(t, st, "lastmonth", "u1", "kickoff", "", "2025-02-10T10:00:00Z")
	seedChunk(t, st, "ancient", "u1", "archive", "", "2024-06-01T10:00:00Z")

	tests := []struct {
		question string
		want     []string
	}{
		{"what did I do today", []string{"today"}},
		{"what did I write yesterday", []string{"yesterday"}},
		{"anything recent", []string{"today", "yesterday", "lastweek"}},
		{"notes from last month", []string{"today", "yesterday", "lastweek", "lastmonth"}},
	}

	for _, tc := range tests {
		t.Run(tc.question, func(t *testing.T) {
			ret, err := r.Retrieve(context.Background(), "u1", tc.question, 5, Extract(tc.question))
			require.NoError(t, err)
			assert.Equal(t, StrategyTimeWindow, ret.Strategy)
			assert.ElementsMatch(t, tc.want, recordNoteIDs(ret.Records))
		})
	}
}

func TestRetrieve_TimeWindowEmpty(t *testing.T) {
	r, st := newTestRetriever(t)
	seedChunk(t, st, "ancient", "u1", "archive", "", "2024-06-01T10:00:00Z")

	tests := []struct {
		question string
		want     string
	}{
		{"today", "No notes found for today."},
		{"yesterday", "No notes found for yesterday."},
		{"recently", "No notes found for the last 7 days."},
		{"past month", "No notes found for the last 30 days."},
	}

	for _, tc := range tests {
		t.Run(tc.question, func(t *testing.T) {
			ret, err := r.Retrieve(context.Background(), "u1", tc.question, 5, Extract(tc.question))
			require.NoError(t, err)
			assert.Empty(t, ret.Records)
			assert.Equal(t, tc.want, ret.Message)
		})
	}
}

func TestRetrieve_Tag(t *testing.T) {
	r, st := newTestRetriever(t)
	seedChunk(t, st, "w1", "u1", "ship the release", "Work,urgent", "2025-03-06T08:00:00Z")
	seedChunk(t, st, "w2", "u1", "sprint review", "homework", "2025-03-05T08:00:00Z")
	seedChunk(t, st, "p1", "u1", "call mom", "family", "2025-03-05T08:00:00Z")

	ret, err := r.Retrieve(context.Background(), "u1", "tag:work", 5, Extract("tag:work"))
	require.NoError(t, err)
	assert.Equal(t, StrategyTag, ret.Strategy)
	// substring semantics: "homework" contains "work"
	assert.ElementsMatch(t, []string{"w1", "w2"}, recordNoteIDs(ret.Records))
	for _, rec := range ret.Records {
		assert.Nil(t, rec.Score)
	}

	ret, err = r.Retrieve(context.Background(), "u1", "tag:travel", 5, Extract("tag:travel"))
	require.NoError(t, err)
	assert.Empty(t, ret.Records)
	assert.Equal(t, "No notes found with tag 'travel'.", ret.Message)
}

func TestRetrieve_SimilarityScopesAndTrims(t *testing.T) {
	r, st := newTestRetriever(t)
	seedChunk(t, st, "alice", "u1", "met alice about the budget", "", "2025-03-06T08:00:00Z")
	seedChunk(t, st, "bob", "u1", "lunch with bob", "", "2025-03-05T08:00:00Z")
	seedChunk(t, st, "carol", "u1", "carol budget spreadsheet", "", "2025-03-04T08:00:00Z")
	seedChunk(t, st, "stranger", "u2", "met alice about the budget", "", "2025-03-06T08:00:00Z")

	ret, err := r.Retrieve(context.Background(), "u1", "alice budget", 2, Extract("alice budget"))
	require.NoError(t, err)

	assert.Equal(t, StrategySimilarity, ret.Strategy)
	require.Len(t, ret.Records, 2)
	assert.Equal(t, "alice", ret.Records[0].NoteID)
	assert.NotContains(t, recordNoteIDs(ret.Records), "stranger")
	for _, rec := range ret.Records {
		require.NotNil(t, rec.Score)
	}
	assert.LessOrEqual(t, *ret.Records[0].Score, *ret.Records[1].Score)
}

func TestRetrieve_SimilarityDateFilter(t *testing.T) {
	r, st := newTestRetriever(t)
	seedChunk(t, st, "march", "u1", "budget review notes", "", "2025-03-06T08:00:00Z")
	seedChunk(t, st, "feb", "u1", "budget review notes", "", "2025-02-06T08:00:00Z")

	q := "budget notes on 6 March 2025"
	ret, err := r.Retrieve(context.Background(), "u1", q, 5, Extract(q))
	require.NoError(t, err)
	assert.Equal(t, []string{"march"}, recordNoteIDs(ret.Records))
	assert.Equal(t, "2025-03-06", ret.Applied.Date)

	q = "budget notes on 2024-01-01"
	ret, err = r.Retrieve(context.Background(), "u1", q, 5, Extract(q))
	require.NoError(t, err)
	assert.Empty(t, ret.Records)
	assert.Equal(t, "No notes found for 2024-01-01.", ret.Message)
}

func TestRetrieve_SimilarityDateFilterKeepsTopK(t *testing.T) {
	r, st := newTestRetriever(t)
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		seedChunk(t, st, id, "u1", "budget review "+id, "", "2025-03-06T08:00:00Z")
	}
	seedChunk(t, st, "old", "u1", "budget review old", "", "2025-01-06T08:00:00Z")

	q := "budget review on 2025-03-06"
	ret, err := r.Retrieve(context.Background(), "u1", q, 2, Extract(q))
	require.NoError(t, err)
	assert.Len(t, ret.Records, 2)
	assert.NotContains(t, recordNoteIDs(ret.Records), "old")
}

func TestRetrieve_TimeWindowUsesUTCDate(t *testing.T) {
	env := newTestEnv(t)
	// 05:00 on the 7th in UTC+10 is still the 6th in UTC.
	sydney := time.FixedZone("UTC+10", 10*60*60)
	clock := func() time.Time { return time.Date(2025, 3, 7, 5, 0, 0, 0, sydney) }
	r := NewRetriever(env.store, env.svc.clients.Embed, clock, QueryLimits{}, zap.NewNop())
	seedChunk(t, env.store, "utc-today", "u1", "standup", "", "2025-03-06T10:00:00Z")
	seedChunk(t, env.store, "utc-tomorrow", "u1", "retro", "", "2025-03-07T01:00:00Z")

	ret, err := r.Retrieve(context.Background(), "u1", "today", 5, Extract("today"))
	require.NoError(t, err)
	assert.Equal(t, []string{"utc-today"}, recordNoteIDs(ret.Records))
}

func TestRetrieve_DateIgnoredWhenTimeFilterFires(t *testing.T) {
	r, st := newTestRetriever(t)
	seedChunk(t, st, "today", "u1", "standup", "", "2025-03-06T08:00:00Z")

	q := "today vs 2024-01-01"
	ret, err := r.Retrieve(context.Background(), "u1", q, 5, Extract(q))
	require.NoError(t, err)
	assert.Equal(t, StrategyTimeWindow, ret.Strategy)
	assert.Empty(t, ret.Applied.Date)
	assert.Equal(t, []string{"today"}, recordNoteIDs(ret.Records))
}

func TestRetrieve_UserWithoutNotesGetsGenericMessage(t *testing.T) {
	r, st := newTestRetriever(t)
	seedChunk(t, st, "someone", "u2", "work stuff today", "work", "2025-03-06T08:00:00Z")

	for _, q := range []string{"latest", "today", "yesterday", "recently", "tag:work", "what about alice", "notes on 2025-03-06"} {
		t.Run(q, func(t *testing.T) {
			ret, err := r.Retrieve(context.Background(), "nobody", q, 5, Extract(q))
			require.NoError(t, err)
			assert.Empty(t, ret.Records)
			assert.Equal(t, NoNotesMessage, ret.Message)
		})
	}
}

func TestRetrieve_EmbedFailure(t *testing.T) {
	env := newTestEnv(t)
	seedChunk(t, env.store, "n", "u1", "text", "", "2025-03-06T08:00:00Z")
	boom := errors.New("ollama down")
	failing := func(context.Context, string) ([]float32, error) { return nil, boom }
	r := NewRetriever(env.store, failing, fixedClock, QueryLimits{}, nil)

	_, err := r.Retrieve(context.Background(), "u1", "alice", 5, Filters{})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}
