package messaging

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOutbox struct {
	mu      sync.Mutex
	pending []OutboxRow
	sent    []int64
	retried map[int64]time.Time
}

func (f *fakeOutbox) Claim(ctx context.Context, batch int, lease time.Duration) ([]OutboxRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pending) < batch {
		batch = len(f.pending)
	}
	rows := f.pending[:batch]
	f.pending = f.pending[batch:]
	return rows, nil
}

func (f *fakeOutbox) MarkSent(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, id)
	return nil
}

func (f *fakeOutbox) MarkRetry(ctx context.Context, id int64, next time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.retried == nil {
		f.retried = make(map[int64]time.Time)
	}
	f.retried[id] = next
	return nil
}

type fakePublisher struct {
	failFor map[string]bool
	got     []Message
}

func (p *fakePublisher) Publish(ctx context.Context, msg Message) error {
	if p.failFor[msg.ID] {
		return errors.New("broker unavailable")
	}
	p.got = append(p.got, msg)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDispatchPublishesAndMarksSent(t *testing.T) {
	store := &fakeOutbox{pending: []OutboxRow{
		{ID: 1, EventID: "evt-1", EventType: "checkout.resolved", Payload: []byte(`{"a":1}`)},
		{ID: 2, EventID: "evt-2", EventType: "checkout.resolved", Payload: []byte(`{"a":2}`)},
	}}
	pub := &fakePublisher{}
	d := NewOutboxDispatcher(store, pub, time.Second, 10, discardLogger())

	sent, err := d.Dispatch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, sent)
	assert.Equal(t, []int64{1, 2}, store.sent)
	require.Len(t, pub.got, 2)
	assert.Equal(t, "evt-1", pub.got[0].ID)
	assert.Equal(t, "checkout.resolved", pub.got[0].Type)
}

func TestDispatchSchedulesRetryOnPublishFailure(t *testing.T) {
	store := &fakeOutbox{pending: []OutboxRow{
		{ID: 7, EventID: "evt-7", EventType: "checkout.resolved", Attempts: 2},
		{ID: 8, EventID: "evt-8", EventType: "checkout.resolved"},
	}}
	pub := &fakePublisher{failFor: map[string]bool{"evt-7": true}}
	d := NewOutboxDispatcher(store, pub, time.Second, 10, discardLogger())

	before := time.Now()
	sent, err := d.Dispatch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, sent)
	assert.Equal(t, []int64{8}, store.sent)
	require.Contains(t, store.retried, int64(7))
	assert.WithinDuration(t, before.Add(8*time.Second), store.retried[7], time.Second)
}

func TestRetryDelay(t *testing.T) {
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{-1, time.Second},
		{0, time.Second},
		{1, 2 * time.Second},
		{3, 8 * time.Second},
		{5, 32 * time.Second},
		{50, 32 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, retryDelay(tt.attempts), "attempts=%d", tt.attempts)
	}
}

type fakeAck struct {
	acked   bool
	nacked  bool
	requeue bool
}

func (f *fakeAck) Ack(multiple bool) error {
	f.acked = true
	return nil
}

func (f *fakeAck) Nack(multiple, requeue bool) error {
	f.nacked = true
	f.requeue = requeue
	return nil
}

func TestSettle(t *testing.T) {
	ok := &fakeAck{}
	settle(ok, nil, discardLogger())
	assert.True(t, ok.acked)

	dropped := &fakeAck{}
	settle(dropped, ErrDrop, discardLogger())
	assert.True(t, dropped.nacked)
	assert.False(t, dropped.requeue)

	retried := &fakeAck{}
	settle(retried, errors.New("db down"), discardLogger())
	assert.True(t, retried.nacked)
	assert.True(t, retried.requeue)
}
