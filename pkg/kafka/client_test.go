package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tutor-insight-go/pkg/tasks"
)

type stubProcessor struct {
	err   error
	calls []tasks.AnalysisTask
}

func (p *stubProcessor) Process(_ context.Context, task tasks.AnalysisTask) error {
	p.calls = append(p.calls, task)
	return p.err
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func encode(t *testing.T, task tasks.AnalysisTask) []byte {
	t.Helper()
	b, err := json.Marshal(task)
	require.NoError(t, err)
	return b
}

func TestHandleMessageSuccess(t *testing.T) {
	mr, rdb := newRedis(t)
	require.NoError(t, mr.Set("kafka:attempts:t1", "2"))
	uid := uint(3)
	p := &stubProcessor{}

	commit := handleMessage(context.Background(), rdb, p, encode(t, tasks.AnalysisTask{TaskID: "t1", UserID: &uid, Limit: 20}))
	assert.True(t, commit)
	require.Len(t, p.calls, 1)
	assert.Equal(t, uint(3), *p.calls[0].UserID)
	assert.False(t, mr.Exists("kafka:attempts:t1"))
}

func TestHandleMessageRetriesThenGivesUp(t *testing.T) {
	mr, rdb := newRedis(t)
	p := &stubProcessor{err: errors.New("persist failed")}
	msg := encode(t, tasks.AnalysisTask{TaskID: "t2", Limit: 20})

	assert.False(t, handleMessage(context.Background(), rdb, p, msg))
	assert.False(t, handleMessage(context.Background(), rdb, p, msg))
	assert.True(t, handleMessage(context.Background(), rdb, p, msg))

	got, err := mr.Get("kafka:attempts:t2")
	require.NoError(t, err)
	assert.Equal(t, "3", got)
	assert.Positive(t, mr.TTL("kafka:attempts:t2"))
}

func TestHandleMessageMalformed(t *testing.T) {
	_, rdb := newRedis(t)
	p := &stubProcessor{}

	assert.True(t, handleMessage(context.Background(), rdb, p, []byte("not json")))
	assert.True(t, handleMessage(context.Background(), rdb, p, []byte(`{"limit":5}`)))
	assert.Empty(t, p.calls)
}

func TestHandleMessageRedisDown(t *testing.T) {
	mr, rdb := newRedis(t)
	mr.Close()
	p := &stubProcessor{err: errors.New("persist failed")}

	assert.False(t, handleMessage(context.Background(), rdb, p, encode(t, tasks.AnalysisTask{TaskID: "t3"})))
}

func TestProduceWithoutProducer(t *testing.T) {
	producer = nil
	assert.Error(t, ProduceAnalysisTask(context.Background(), tasks.AnalysisTask{TaskID: "t4"}))
	assert.NoError(t, CloseProducer())
}

func TestHandleMessageInterruptedByShutdown(t *testing.T) {
	mr, rdb := newRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &stubProcessor{err: context.Canceled}

	assert.False(t, handleMessage(ctx, rdb, p, encode(t, tasks.AnalysisTask{TaskID: "t5"})))
	require.Len(t, p.calls, 1)
	assert.False(t, mr.Exists("kafka:attempts:t5"))
}
