package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdempotencyStatus_Valid(t *testing.T) {
	for _, s := range []IdempotencyStatus{IdempotencyStatusProcessing, IdempotencyStatusDone, IdempotencyStatusFailed} {
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, IdempotencyStatus("broken").Valid())
}

func TestIdempotencyRecord_ReplayAndExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	record := IdempotencyRecord{
		Key:          CommitResultKey("sess-1"),
		Status:       IdempotencyStatusDone,
		ResponseBody: []byte(`{"session_id":"sess-1","status":"COMMITTED","committed_ids":["r1"],"total_minor":25}`),
		TTLAt:        now.Add(time.Hour),
	}

	assert.True(t, record.Replayable())
	assert.False(t, record.Expired(now))
	assert.True(t, record.Expired(now.Add(time.Hour)))

	result, err := record.Result()
	require.NoError(t, err)
	assert.Equal(t, CommitStatusCommitted, result.Status)
	assert.Equal(t, []string{"r1"}, result.CommittedIDs)

	record.Status = IdempotencyStatusFailed
	assert.False(t, record.Replayable(), "failed attempts are executed again")

	record.ResponseBody = []byte("{")
	_, err = record.Result()
	assert.Error(t, err)

	assert.False(t, IdempotencyRecord{}.Expired(now), "zero ttl never expires")
}

func TestNormalizeIdempotencyInput(t *testing.T) {
	key, hash, err := NormalizeIdempotencyInput(" commit:s1 ", " abc ")
	require.NoError(t, err)
	assert.Equal(t, "commit:s1", key)
	assert.Equal(t, "abc", hash)

	_, _, err = NormalizeIdempotencyInput(" ", "abc")
	assert.ErrorIs(t, err, ErrIdempotencyKeyRequired)
	_, _, err = NormalizeIdempotencyInput("k", "")
	assert.ErrorIs(t, err, ErrIdempotencyRequestHashRequired)
}
