package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lvdashuaibi/evermark-sync/internal/model"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestProducer_NotifyKeysByEvermark(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer(w, zap.NewNop())
	ts := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, p.Notify(context.Background(), model.CacheUpdateEvent{
		Kind: model.UpdateKindUserVote, EvermarkID: "42", CycleNumber: 3, UserAddress: "0xabc", UpdatedAt: ts,
	}))
	require.NoError(t, p.Notify(context.Background(), model.CacheUpdateEvent{Kind: model.UpdateKindCycle, CycleNumber: 3}))

	require.Len(t, w.msgs, 2)
	assert.Equal(t, "42", string(w.msgs[0].Key))
	assert.Equal(t, "cycle:3", string(w.msgs[1].Key))

	var ev model.CacheUpdateEvent
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &ev))
	assert.Equal(t, model.UpdateKindUserVote, ev.Kind)
	assert.Equal(t, "0xabc", ev.UserAddress)
	assert.True(t, ts.Equal(ev.UpdatedAt))
}

func TestProducer_NotifyError(t *testing.T) {
	p := newProducer(&fakeWriter{err: errors.New("leader not available")}, zap.NewNop())
	err := p.Notify(context.Background(), model.CacheUpdateEvent{Kind: model.UpdateKindTally, EvermarkID: "1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "leader not available")
}

// fakeReader serves queued messages, then blocks until ctx is cancelled.
type fakeReader struct {
	mu     sync.Mutex
	queue  []kafka.Message
	closed bool
}

func (f *fakeReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	f.mu.Lock()
	if len(f.queue) > 0 {
		m := f.queue[0]
		f.queue = f.queue[1:]
		f.mu.Unlock()
		return m, nil
	}
	f.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (f *fakeReader) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func voteMessage(t *testing.T, offset int64, p model.VoteCastPayload) kafka.Message {
	t.Helper()
	data, err := json.Marshal(p)
	require.NoError(t, err)
	return kafka.Message{Offset: offset, Value: data}
}

var errInvalid = errors.New("invalid payload")

func TestConsumer_HandleMessage(t *testing.T) {
	c := newConsumer(nil, func(err error) bool { return errors.Is(err, errInvalid) }, zap.NewNop())
	cycle := uint64(3)

	var got *model.VoteCastPayload
	ok := c.handleMessage(context.Background(), zap.NewNop(),
		voteMessage(t, 1, model.VoteCastPayload{Type: "vote_cast", EvermarkID: "42", UserAddress: "0xabc", Amount: "100", Cycle: &cycle}),
		func(ctx context.Context, p *model.VoteCastPayload) error { got = p; return nil })
	require.True(t, ok)
	require.NotNil(t, got)
	assert.Equal(t, "42", got.EvermarkID)
	assert.Equal(t, uint64(3), *got.Cycle)

	ok = c.handleMessage(context.Background(), zap.NewNop(), kafka.Message{Value: []byte("{")},
		func(ctx context.Context, p *model.VoteCastPayload) error { t.Fatal("handler must not run"); return nil })
	assert.False(t, ok)

	ok = c.handleMessage(context.Background(), zap.NewNop(), voteMessage(t, 2, model.VoteCastPayload{Type: "nope"}),
		func(ctx context.Context, p *model.VoteCastPayload) error { return errInvalid })
	assert.False(t, ok)
}

func TestConsumer_StartAndStop(t *testing.T) {
	cycle := uint64(3)
	r1 := &fakeReader{queue: []kafka.Message{
		voteMessage(t, 1, model.VoteCastPayload{Type: "vote_cast", EvermarkID: "1", Cycle: &cycle}),
		voteMessage(t, 2, model.VoteCastPayload{Type: "vote_cast", EvermarkID: "2", Cycle: &cycle}),
	}}
	r2 := &fakeReader{queue: []kafka.Message{
		voteMessage(t, 1, model.VoteCastPayload{Type: "vote_cast", EvermarkID: "3", Cycle: &cycle}),
	}}
	c := newConsumer([]messageReader{r1, r2}, nil, zap.NewNop())

	var (
		mu   sync.Mutex
		seen []string
	)
	c.StartConsuming(func(ctx context.Context, p *model.VoteCastPayload) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, p.EvermarkID)
		return nil
	})

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 3
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, c.Stop())
	assert.ElementsMatch(t, []string{"1", "2", "3"}, seen)
	assert.True(t, r1.closed)
	assert.True(t, r2.closed)
}
