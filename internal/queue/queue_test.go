package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb), mr
}

func TestEnqueueDequeueAcknowledge_Roundtrip(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)
	docID := uuid.New()

	require.NoError(t, q.Enqueue(ctx, docID))

	gotID, raw, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, docID, gotID)
	require.NotNil(t, raw)

	var entry Entry
	require.NoError(t, json.Unmarshal(raw, &entry))
	assert.NotNil(t, entry.StartedAt, "dequeue must enrich the entry with started_at")

	mainLen, err := q.Length(ctx, MainQueue)
	require.NoError(t, err)
	assert.Zero(t, mainLen)

	procLen, err := q.Length(ctx, ProcessingQueue)
	require.NoError(t, err)
	assert.EqualValues(t, 1, procLen)

	require.NoError(t, q.Acknowledge(ctx, raw))

	procLen, err = q.Length(ctx, ProcessingQueue)
	require.NoError(t, err)
	assert.Zero(t, procLen)
}

func TestDequeue_EmptyQueueReturnsNoError(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	gotID, raw, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, uuid.Nil, gotID)
	assert.Nil(t, raw)
}

func TestDequeue_MalformedPayloadGoesToDLQ(t *testing.T) {
	ctx := context.Background()
	q, mr := newTestQueue(t)

	_, err := mr.Lpush(MainQueue, "not json")
	require.NoError(t, err)

	gotID, raw, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, uuid.Nil, gotID)
	assert.Nil(t, raw)

	dlqLen, err := q.Length(ctx, DeadLetterQueue)
	require.NoError(t, err)
	assert.EqualValues(t, 1, dlqLen)
}

func TestRetryCounter_IncrDeleteRoundtrip(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)
	docID := uuid.New()

	n, err := q.RetryCounter(ctx, docID)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, q.IncrRetryCounter(ctx, docID))
	require.NoError(t, q.IncrRetryCounter(ctx, docID))

	n, err = q.RetryCounter(ctx, docID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, q.DeleteRetryCounter(ctx, docID))
	n, err = q.RetryCounter(ctx, docID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRequeueStale_SkipsFreshAndUnenriched(t *testing.T) {
	ctx := context.Background()
	q, mr := newTestQueue(t)

	fresh := Entry{DocumentID: uuid.New().String(), StartedAt: timePtr(time.Now().UTC())}
	freshPayload, _ := json.Marshal(fresh)
	_, err := mr.Lpush(ProcessingQueue, string(freshPayload))
	require.NoError(t, err)

	unenriched := Entry{DocumentID: uuid.New().String()}
	unenrichedPayload, _ := json.Marshal(unenriched)
	_, err = mr.Lpush(ProcessingQueue, string(unenrichedPayload))
	require.NoError(t, err)

	result, err := q.RequeueStale(ctx, 5*time.Minute, 3)
	require.NoError(t, err)
	assert.Equal(t, StaleSweepResult{Requeued: 0, MovedToDLQ: 0, Skipped: 2}, result)
}

func TestRequeueStale_RequeuesExpiredUnderRetryCeiling(t *testing.T) {
	ctx := context.Background()
	q, mr := newTestQueue(t)

	stale := Entry{
		DocumentID: uuid.New().String(),
		StartedAt:  timePtr(time.Now().UTC().Add(-10 * time.Minute)),
		RetryCount: 1,
	}
	payload, _ := json.Marshal(stale)
	_, err := mr.Lpush(ProcessingQueue, string(payload))
	require.NoError(t, err)

	result, err := q.RequeueStale(ctx, 5*time.Minute, 3)
	require.NoError(t, err)
	assert.Equal(t, StaleSweepResult{Requeued: 1, MovedToDLQ: 0, Skipped: 0}, result)

	mainLen, err := q.Length(ctx, MainQueue)
	require.NoError(t, err)
	assert.EqualValues(t, 1, mainLen)

	procLen, err := q.Length(ctx, ProcessingQueue)
	require.NoError(t, err)
	assert.Zero(t, procLen)
}

func TestRequeueStale_MovesToDLQAtRetryCeiling(t *testing.T) {
	ctx := context.Background()
	q, mr := newTestQueue(t)

	exhausted := Entry{
		DocumentID: uuid.New().String(),
		StartedAt:  timePtr(time.Now().UTC().Add(-10 * time.Minute)),
		RetryCount: 3,
	}
	payload, _ := json.Marshal(exhausted)
	_, err := mr.Lpush(ProcessingQueue, string(payload))
	require.NoError(t, err)

	result, err := q.RequeueStale(ctx, 5*time.Minute, 3)
	require.NoError(t, err)
	assert.Equal(t, StaleSweepResult{Requeued: 0, MovedToDLQ: 1, Skipped: 0}, result)

	dlqLen, err := q.Length(ctx, DeadLetterQueue)
	require.NoError(t, err)
	assert.EqualValues(t, 1, dlqLen)
}

func timePtr(t time.Time) *time.Time { return &t }
