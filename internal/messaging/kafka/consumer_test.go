package kafka

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nsridhar76/go-orderms/internal/domain"
	"github.com/nsridhar76/go-orderms/internal/messaging"
	"github.com/nsridhar76/go-orderms/internal/messaging/noop"
)

// fakeReader hands out msgs in order, then blocks until ctx is done. It
// cancels the run once every message has been committed.
type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafkago.Message
	next      int
	committed []int64
	cancel    context.CancelFunc
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafkago.Message, error) {
	r.mu.Lock()
	if r.next < len(r.msgs) {
		m := r.msgs[r.next]
		r.next++
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafkago.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafkago.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	if len(r.committed) == len(r.msgs) {
		r.cancel()
	}
	return nil
}

type fakeSaver struct {
	mu    sync.Mutex
	errs  []error
	saved []messaging.OrderCreatedEvent
	calls int
}

func (s *fakeSaver) SaveFromEvent(_ context.Context, ev messaging.OrderCreatedEvent) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return domain.Order{}, err
		}
	}
	order, err := ev.ToOrder()
	if err != nil {
		return domain.Order{}, err
	}
	s.saved = append(s.saved, ev)
	return order, nil
}

type recordingDLQ struct {
	msgs    []kafkago.Message
	reasons []error
}

func (d *recordingDLQ) PublishDeadLetter(_ context.Context, msg kafkago.Message, reason error) error {
	d.msgs = append(d.msgs, msg)
	d.reasons = append(d.reasons, reason)
	return nil
}

type mapGuard struct {
	marked   map[int64]bool
	markErr  error
	seenErr  error
	markedAt []int64
}

func (g *mapGuard) Seen(_ context.Context, id int64) (bool, error) {
	if g.seenErr != nil {
		return false, g.seenErr
	}
	return g.marked[id], nil
}

func (g *mapGuard) Mark(_ context.Context, id int64) error {
	g.markedAt = append(g.markedAt, id)
	if g.markErr != nil {
		return g.markErr
	}
	g.marked[id] = true
	return nil
}

const validEvent = `{"codigoPedido":1,"codigoCliente":2,"itens":[{"produto":"notebook","quantidade":1,"preco":20.50}]}`

func msg(offset int64, value string) kafkago.Message {
	return kafkago.Message{Topic: "order-created", Partition: 0, Offset: offset, Value: []byte(value)}
}

func fastBackoff() Backoff {
	return Backoff{Base: time.Millisecond, Max: 5 * time.Millisecond, Multiplier: 2}
}

func run(t *testing.T, msgs []kafkago.Message, saver *fakeSaver, dlq DeadLetterPublisher, guard Deduplicator) *fakeReader {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	reader := &fakeReader{msgs: msgs, cancel: cancel}
	c := NewConsumer(reader, saver, dlq, guard, fastBackoff(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, c.Run(ctx))
	return reader
}

func TestConsumer_SavesAndCommits(t *testing.T) {
	saver := &fakeSaver{}
	reader := run(t, []kafkago.Message{msg(10, validEvent)}, saver, &recordingDLQ{}, noop.Guard{})

	require.Len(t, saver.saved, 1)
	assert.Equal(t, int64(1), saver.saved[0].OrderID)
	assert.Equal(t, []int64{10}, reader.committed)
}

func TestConsumer_DeadLettersMalformedEvents(t *testing.T) {
	saver := &fakeSaver{}
	dlq := &recordingDLQ{}
	msgs := []kafkago.Message{
		msg(1, `not json`),
		msg(2, `{"codigoPedido":5,"codigoCliente":2,"itens":[]}`),
		msg(3, validEvent),
	}

	reader := run(t, msgs, saver, dlq, noop.Guard{})

	require.Len(t, dlq.msgs, 2)
	assert.Equal(t, int64(1), dlq.msgs[0].Offset)
	assert.Equal(t, int64(2), dlq.msgs[1].Offset)
	for _, r := range dlq.reasons {
		assert.ErrorIs(t, r, domain.ErrMapping)
	}
	assert.Len(t, saver.saved, 1)
	assert.Equal(t, []int64{1, 2, 3}, reader.committed)
}

func TestConsumer_RetriesStoreFailures(t *testing.T) {
	saver := &fakeSaver{errs: []error{domain.ErrStoreUnavailable, domain.ErrStoreUnavailable, nil}}
	guard := &mapGuard{marked: map[int64]bool{}}

	reader := run(t, []kafkago.Message{msg(4, validEvent)}, saver, &recordingDLQ{}, guard)

	assert.Equal(t, 3, saver.calls)
	assert.Len(t, saver.saved, 1)
	assert.Equal(t, []int64{1}, guard.markedAt)
	assert.Equal(t, []int64{4}, reader.committed)
}

func TestConsumer_FailedSaveIsNotSkippedOnRetry(t *testing.T) {
	saver := &fakeSaver{errs: []error{domain.ErrStoreUnavailable, nil}}
	guard := &mapGuard{marked: map[int64]bool{}, markErr: errors.New("redis down")}

	reader := run(t, []kafkago.Message{msg(7, validEvent)}, saver, &recordingDLQ{}, guard)

	assert.Equal(t, 2, saver.calls)
	require.Len(t, saver.saved, 1)
	assert.Equal(t, int64(1), saver.saved[0].OrderID)
	assert.Equal(t, []int64{7}, reader.committed)
}

func TestConsumer_GuardLookupFailureStillSaves(t *testing.T) {
	saver := &fakeSaver{}
	guard := &mapGuard{marked: map[int64]bool{1: true}, seenErr: errors.New("redis down")}

	reader := run(t, []kafkago.Message{msg(3, validEvent)}, saver, &recordingDLQ{}, guard)

	assert.Len(t, saver.saved, 1)
	assert.Equal(t, []int64{3}, reader.committed)
}

func TestConsumer_SkipsRedeliveredOrders(t *testing.T) {
	saver := &fakeSaver{}
	guard := &mapGuard{marked: map[int64]bool{}}

	reader := run(t, []kafkago.Message{msg(1, validEvent), msg(2, validEvent)}, saver, &recordingDLQ{}, guard)

	assert.Equal(t, 1, saver.calls)
	assert.Equal(t, []int64{1}, guard.markedAt)
	assert.Equal(t, []int64{1, 2}, reader.committed)
}

func TestConsumer_StopsWithoutCommitOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	saver := &fakeSaver{errs: []error{domain.ErrStoreUnavailable}}
	reader := &fakeReader{msgs: []kafkago.Message{msg(1, validEvent)}, cancel: cancel}
	c := NewConsumer(reader, saver, &recordingDLQ{}, noop.Guard{}, Backoff{Base: time.Hour, Max: time.Hour, Multiplier: 1}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool {
		saver.mu.Lock()
		defer saver.mu.Unlock()
		return saver.calls == 1
	}, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop")
	}
	assert.Empty(t, reader.committed)
}

func TestConsumer_FetchErrorStopsRun(t *testing.T) {
	c := NewConsumer(errReader{}, &fakeSaver{}, &recordingDLQ{}, noop.Guard{}, fastBackoff(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	err := c.Run(context.Background())
	assert.ErrorContains(t, err, "fetch message")
}

type errReader struct{}

func (errReader) FetchMessage(context.Context) (kafkago.Message, error) {
	return kafkago.Message{}, errors.New("broker gone")
}

func (errReader) CommitMessages(context.Context, ...kafkago.Message) error { return nil }

func TestBackoffCapsAtMax(t *testing.T) {
	b := Backoff{Base: time.Second, Max: 3 * time.Second, Multiplier: 2}
	assert.Equal(t, 2*time.Second, b.next(time.Second))
	assert.Equal(t, 3*time.Second, b.next(2*time.Second))
}
