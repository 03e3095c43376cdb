package kafka

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	msgs      chan kafka.Message
	mu        sync.Mutex
	committed []int64
}

func newFakeReader(values ...string) *fakeReader {
	r := &fakeReader{msgs: make(chan kafka.Message, len(values))}
	for i, v := range values {
		r.msgs <- kafka.Message{Offset: int64(i), Value: []byte(v)}
	}
	return r
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.msgs:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) offsets() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

type funcHandler struct {
	topic string
	fn    func([]byte) error
}

func (h funcHandler) Topic() string                          { return h.topic }
func (h funcHandler) Handle(_ context.Context, b []byte) error { return h.fn(b) }

func startConsumer(t *testing.T, r *fakeReader, h MessageHandler) *Consumer {
	t.Helper()
	c, err := NewConsumer(nil,
		WithConsumerBrokers([]string{"localhost:9092"}),
		WithConsumerRetry(2, time.Millisecond, 2*time.Millisecond),
	)
	require.NoError(t, err)
	c.newReader = func(string) messageReader { return r }
	c.RegisterHandler(h)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { _ = c.Stop(context.Background()) })
	return c
}

func TestConsumerRetriesThenCommits(t *testing.T) {
	r := newFakeReader("a", "b")
	var calls atomic.Int32
	startConsumer(t, r, funcHandler{topic: "ticks", fn: func(b []byte) error {
		if string(b) == "a" && calls.Add(1) == 1 {
			return errors.New("transient")
		}
		return nil
	}})

	require.Eventually(t, func() bool { return len(r.offsets()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []int64{0, 1}, r.offsets())
	assert.Equal(t, int32(2), calls.Load())
}

func TestConsumerPermanentErrorSkipsRetry(t *testing.T) {
	r := newFakeReader("bad")
	var calls atomic.Int32
	startConsumer(t, r, funcHandler{topic: "ticks", fn: func([]byte) error {
		calls.Add(1)
		return Permanent(errors.New("decode"))
	}})

	require.Eventually(t, func() bool { return len(r.offsets()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestConsumerRecoversPanic(t *testing.T) {
	r := newFakeReader("boom", "ok")
	var handled atomic.Int32
	startConsumer(t, r, funcHandler{topic: "ticks", fn: func(b []byte) error {
		if string(b) == "boom" {
			panic("bad payload")
		}
		handled.Add(1)
		return nil
	}})

	require.Eventually(t, func() bool { return len(r.offsets()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), handled.Load())
}

func TestConsumerRequiresBrokersAndHandlers(t *testing.T) {
	_, err := NewConsumer(nil)
	require.Error(t, err)

	c, err := NewConsumer(nil, WithConsumerBrokers([]string{"localhost:9092"}))
	require.NoError(t, err)
	assert.Error(t, c.Start(context.Background()))
}

func TestPermanent(t *testing.T) {
	base := errors.New("x")
	assert.True(t, IsPermanent(Permanent(base)))
	assert.ErrorIs(t, Permanent(base), base)
	assert.False(t, IsPermanent(base))
	assert.NoError(t, Permanent(nil))
}

func TestBackoffWithJitter(t *testing.T) {
	for attempt := 1; attempt <= 10; attempt++ {
		d := backoffWithJitter(10*time.Millisecond, 100*time.Millisecond, attempt)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 100*time.Millisecond)
	}
}

func TestEncode(t *testing.T) {
	b, err := Encode(map[string]int{"a": 1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(b))

	b, err = Encode("raw")
	require.NoError(t, err)
	assert.Equal(t, "raw", string(b))
}
